package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string   // YAML run configuration
	runOpts    runFlags // run command flags, applied over the YAML only when set
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "stacksim",
	Short: "Concurrent multi-agent warehouse stacking simulator",
}

// runCmd executes the simulation using the YAML config and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stacking simulation",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadRunConfig(configPath)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		runOpts.apply(&cfg, cmd.Flags())

		setLogLevel(cfg.Log)
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if _, err := runSimulation(ctx, cfg, os.Stdout); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

func setLogLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", name)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML run configuration (see stacksim.yaml)")
	runOpts.register(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(ticksCmd)
}
