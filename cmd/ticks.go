package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/stacksim/sim/history"
)

var (
	ticksDB    string
	ticksRun   string
	ticksLimit int
)

// ticksCmd prints recent ticks from the SQLite index
var ticksCmd = &cobra.Command{
	Use:   "ticks",
	Short: "Print recent ticks of a run from the SQLite tick index",
	Run: func(cmd *cobra.Command, args []string) {
		if ticksDB == "" {
			logrus.Fatalf("--index-db is required")
		}
		idx, err := history.OpenSQLite(ticksDB)
		if err != nil {
			logrus.Fatalf("Failed to open tick index: %v", err)
		}
		defer idx.Close()
		if err := printTicks(cmd.Context(), idx, ticksRun, ticksLimit, os.Stdout); err != nil {
			logrus.Fatalf("Failed to read ticks: %v", err)
		}
	},
}

// printTicks writes up to limit ticks of runID (latest run when empty) as a table.
func printTicks(ctx context.Context, idx *history.SQLiteIndex, runID string, limit int, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if runID == "" {
		latest, err := idx.LatestRun(ctx)
		if err != nil {
			return err
		}
		if latest == "" {
			fmt.Fprintln(out, "no runs recorded")
			return nil
		}
		runID = latest
	}
	rows, err := idx.RecentTicks(ctx, runID, limit)
	if err != nil {
		return err
	}
	counts, err := idx.OutcomeCounts(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "run %s\n", runID)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tSTARTED\tMS\tAGENTS\tACTIONS\tOK\tFULL\tSTATUS")
	for _, r := range rows {
		status := "ok"
		switch {
		case r.Error != "":
			status = "failed: " + r.Error
		case r.TimedOut:
			status = "timed out"
		case r.Complete:
			status = "complete"
		}
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%d\t%d\t%d\t%d\t%s\n",
			r.Tick, r.Started.Format("15:04:05.000"), r.DurationMs, r.Agents, r.Actions, r.Succeeded, r.FullStacks, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(counts) > 0 {
		fmt.Fprintf(out, "outcomes: %v\n", counts)
	}
	return nil
}

func init() {
	ticksCmd.Flags().StringVar(&ticksDB, "index-db", "", "SQLite tick index path")
	ticksCmd.Flags().StringVar(&ticksRun, "run", "", "Run id (default: latest run)")
	ticksCmd.Flags().IntVar(&ticksLimit, "limit", 20, "Number of ticks to print")
}
