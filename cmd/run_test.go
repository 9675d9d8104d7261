package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/stacksim/sim/history"
)

func smallRun() RunConfig {
	cfg := DefaultRunConfig()
	cfg.World.Cols, cfg.World.Rows = 6, 6
	cfg.World.Agents = 2
	cfg.World.Objects = 2
	cfg.World.Stacks = []Cell{{X: 1, Y: 1}}
	cfg.World.StackCapacity = 5 // never fills, so every run reaches the iteration limit
	cfg.Timing.Cadence = 0
	cfg.Timing.IterationTimeout = 200 * time.Millisecond
	cfg.Timing.ActionDuration = 10 * time.Millisecond
	cfg.Timing.FrameInterval = 2 * time.Millisecond
	cfg.Timing.MaxIterations = 3
	return cfg
}

func TestRunSimulation_InProcessPolicyWithHistory(t *testing.T) {
	// GIVEN a small world with every local history sink enabled
	dir := t.TempDir()
	cfg := smallRun()
	cfg.History.Dir = filepath.Join(dir, "log")
	cfg.History.SQLite = filepath.Join(dir, "index.db")
	var out bytes.Buffer

	// WHEN the simulation runs for three iterations
	res, err := runSimulation(context.Background(), cfg, &out)

	// THEN it stops at the limit and reports every action
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ticks)
	assert.Equal(t, 3, res.Summary.TotalTicks)
	assert.Equal(t, 6, res.Summary.TotalActions)
	assert.Zero(t, res.Summary.FailedTicks)
	assert.Contains(t, out.String(), "=== Simulation Summary ===")
	assert.Contains(t, out.String(), res.RunID)

	// AND the JSONL log holds every tick of the run
	entries, err := history.ReadJSONL(res.LogPath)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, res.RunID, entries[0].RunID)
	assert.Len(t, entries[2].Actions, 2)

	// AND the SQLite index knows the run
	idx, err := history.OpenSQLite(cfg.History.SQLite)
	require.NoError(t, err)
	defer idx.Close()
	latest, err := idx.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, latest)
	rows, err := idx.RecentTicks(context.Background(), res.RunID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	var table bytes.Buffer
	require.NoError(t, printTicks(context.Background(), idx, "", 2, &table))
	assert.Contains(t, table.String(), "run "+res.RunID)
	assert.Contains(t, table.String(), "TICK")
}

func TestRunSimulation_HTTPDecisionService(t *testing.T) {
	// GIVEN a decision service that always answers wait, and fails once
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = fmt.Fprint(w, `[{"id":0,"action":"W"},{"id":1,"action":"W"}]`)
	}))
	defer srv.Close()
	cfg := smallRun()
	cfg.Decision.Endpoint = srv.URL
	cfg.Decision.Record = 10

	// WHEN three iterations run against it
	res, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})

	// THEN the failed exchange fails its tick only
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ticks)
	assert.Equal(t, 1, res.Summary.FailedTicks)
	assert.Equal(t, 1, res.Decisions)
	assert.Equal(t, 4, res.Summary.ActionCounts["W"])
}

func TestRunSimulation_CancelledContextReturnsCleanly(t *testing.T) {
	cfg := smallRun()
	cfg.Timing.MaxIterations = 0
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := runSimulation(ctx, cfg, &bytes.Buffer{})

	require.NoError(t, err)
	assert.NotNil(t, res.Summary)
}

func TestRunSimulation_InvalidConfig(t *testing.T) {
	cfg := smallRun()
	cfg.World.Agents = 100

	_, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})

	assert.Error(t, err)
}

func TestRunSimulation_ObserverFeed(t *testing.T) {
	cfg := smallRun()
	cfg.Observer.Addr = "127.0.0.1:0"

	res, err := runSimulation(context.Background(), cfg, &bytes.Buffer{})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Ticks)
}

func TestPrintTicks_EmptyIndex(t *testing.T) {
	idx, err := history.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	var out bytes.Buffer
	require.NoError(t, printTicks(context.Background(), idx, "", 5, &out))
	assert.Equal(t, "no runs recorded\n", out.String())
}
