package history

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/stacksim/sim"
	"github.com/inference-sim/stacksim/sim/trace"
)

func TestJSONL_WriteThenRead(t *testing.T) {
	// GIVEN a log for one run
	dir := t.TempDir()
	w, err := OpenJSONL(dir, "run-a")
	require.NoError(t, err)
	assert.Equal(t, JSONLPath(dir, "run-a"), w.Path())

	// WHEN two ticks are written and the log closed
	for i := 1; i <= 2; i++ {
		require.NoError(t, w.WriteTick(Entry{RunID: "run-a", TickRecord: trace.FromReport(report(i), trace.TraceLevelActions)}))
	}
	require.NoError(t, w.Close())

	// THEN the compressed file decodes back to the same entries
	entries, err := ReadJSONL(w.Path())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-a", entries[1].RunID)
	assert.Equal(t, 2, entries[1].Tick)
	assert.Equal(t, sim.OutcomeContended, entries[0].Actions[0].Outcome)
	assert.Equal(t, "L", entries[0].Actions[0].Direction)
}

func TestJSONL_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 2; i++ {
		w, err := OpenJSONL(dir, "run-b")
		require.NoError(t, err)
		require.NoError(t, w.WriteTick(Entry{RunID: "run-b", TickRecord: trace.TickRecord{Tick: i}}))
		require.NoError(t, w.Close())
	}

	entries, err := ReadJSONL(JSONLPath(dir, "run-b"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[1].Tick)
}

func TestJSONL_WriteAfterClose(t *testing.T) {
	w, err := OpenJSONL(t.TempDir(), "run-c")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.WriteTick(Entry{}), os.ErrClosed)
}

func TestReadJSONL_MissingFile(t *testing.T) {
	_, err := ReadJSONL(JSONLPath(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
