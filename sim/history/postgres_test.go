package history

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/stacksim/sim/trace"
)

func TestTickModel_CarriesEntry(t *testing.T) {
	e := Entry{RunID: "r1", TickRecord: trace.FromReport(report(4), trace.TraceLevelActions)}

	row, err := tickModel(e)

	require.NoError(t, err)
	assert.Equal(t, "r1", row.RunID)
	assert.Equal(t, 4, row.Tick)
	assert.Equal(t, 1, row.Actions)
	assert.Equal(t, 1, row.FullStacks)
	var back Entry
	require.NoError(t, json.Unmarshal(row.Payload, &back))
	assert.Equal(t, e.Actions, back.Actions)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "stacksim_ticks", TickModel{}.TableName())
	assert.Equal(t, "stacksim_runs", RunModel{}.TableName())
}

// TestPostgresStore_Live runs against a real database when STACKSIM_TEST_POSTGRES_DSN is set.
func TestPostgresStore_Live(t *testing.T) {
	dsn := os.Getenv("STACKSIM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STACKSIM_TEST_POSTGRES_DSN not set")
	}
	db, err := OpenPostgres(dsn)
	require.NoError(t, err)
	store, err := NewPostgresStore(db, time.Second)
	require.NoError(t, err)
	defer store.Close()

	runID := NewRunID()
	require.NoError(t, store.WriteRun(RunInfo{RunID: runID, StartedAt: time.Now()}))
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.WriteTick(Entry{RunID: runID, TickRecord: trace.TickRecord{Tick: i}}))
	}
	// rewriting a tick replaces it
	require.NoError(t, store.WriteTick(Entry{RunID: runID, TickRecord: trace.TickRecord{Tick: 3, Complete: true}}))

	got, err := store.RecentTicks(context.Background(), runID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Tick)
	assert.True(t, got[0].Complete)
}
