package history

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/stacksim/sim"
	"github.com/inference-sim/stacksim/sim/internal/testutil"
	"github.com/inference-sim/stacksim/sim/trace"
)

func quiet() logrus.FieldLogger { return testutil.QuietLogger() }

type memSink struct {
	mu      sync.Mutex
	entries []Entry
	runs    []RunInfo
	closed  bool
	failOn  int
}

func (m *memSink) WriteTick(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != 0 && e.Tick == m.failOn {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memSink) WriteRun(info RunInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, info)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func report(tick int) sim.TickReport {
	return sim.TickReport{
		Tick:        tick,
		Started:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:    40 * time.Millisecond,
		Perceptions: []sim.Perception{{ID: 0}},
		Commands:    []sim.Command{{ID: 0, Action: sim.Grab(sim.Left)}},
		Results: []sim.ActionResult{
			{AgentID: 0, Action: sim.Grab(sim.Left), Outcome: sim.OutcomeContended, Reason: "object guarded"},
		},
		FullStacks: 1,
	}
}

func TestNewRunID_IsUUID(t *testing.T) {
	id := NewRunID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewRunID())
}

func TestRecorder_DeliversTicksInOrderAndClosesSinks(t *testing.T) {
	// GIVEN a recorder over two sinks
	a, b := &memSink{}, &memSink{}
	rec := NewRecorder("run-1", trace.TraceLevelActions, quiet(), a, b)
	require.NoError(t, rec.Begin(RunInfo{Seed: 9, Agents: 1}))

	// WHEN three ticks are observed and the recorder is closed
	for i := 1; i <= 3; i++ {
		rec.ObserveTick(report(i))
	}
	require.NoError(t, rec.Close())

	// THEN both sinks saw every tick in order, tagged with the run id
	for _, s := range []*memSink{a, b} {
		require.Len(t, s.entries, 3)
		for i, e := range s.entries {
			assert.Equal(t, "run-1", e.RunID)
			assert.Equal(t, i+1, e.Tick)
		}
		assert.Equal(t, "G", s.entries[0].Actions[0].Action)
		assert.True(t, s.closed)
		require.Len(t, s.runs, 1)
		assert.Equal(t, "run-1", s.runs[0].RunID)
	}
	assert.Zero(t, rec.Dropped())
}

func TestRecorder_SinkErrorDoesNotStopLaterTicks(t *testing.T) {
	s := &memSink{failOn: 2}
	rec := NewRecorder("run-2", trace.TraceLevelTicks, quiet(), s)

	for i := 1; i <= 3; i++ {
		rec.ObserveTick(report(i))
	}
	require.NoError(t, rec.Close())

	require.Len(t, s.entries, 2)
	assert.Equal(t, 3, s.entries[1].Tick)
	assert.Nil(t, s.entries[0].Actions)
}

func TestRecorder_ObserveAfterCloseIsIgnored(t *testing.T) {
	s := &memSink{}
	rec := NewRecorder("run-3", "", quiet(), s)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.NotPanics(t, func() { rec.ObserveTick(report(1)) })
	assert.Empty(t, s.entries)
}
