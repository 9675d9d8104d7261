package trace

import (
	"sync"

	"github.com/inference-sim/stacksim/sim"
)

// TraceLevel controls the verbosity of tick tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelTicks keeps one record per tick without per-agent actions.
	TraceLevelTicks TraceLevel = "ticks"
	// TraceLevelActions also keeps every agent's action and outcome.
	TraceLevelActions TraceLevel = "actions"
)

var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:    true,
	TraceLevelTicks:   true,
	TraceLevelActions: true,
	"":                true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	// MaxTicks bounds the number of retained ticks; the oldest are evicted. 0 keeps all.
	MaxTicks int
}

// SimulationTrace collects tick records during a run. It implements sim.TickObserver
// and is safe for concurrent readers.
type SimulationTrace struct {
	Config TraceConfig

	mu      sync.Mutex
	ticks   []TickRecord
	evicted int
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{Config: config, ticks: make([]TickRecord, 0)}
}

// ObserveTick records r at the configured level.
func (st *SimulationTrace) ObserveTick(r sim.TickReport) {
	if st.Config.Level == TraceLevelNone || st.Config.Level == "" {
		return
	}
	st.RecordTick(FromReport(r, st.Config.Level))
}

// RecordTick appends a tick record.
func (st *SimulationTrace) RecordTick(record TickRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.ticks = append(st.ticks, record)
	if st.Config.MaxTicks > 0 && len(st.ticks) > st.Config.MaxTicks {
		drop := len(st.ticks) - st.Config.MaxTicks
		st.evicted += drop
		st.ticks = append(st.ticks[:0], st.ticks[drop:]...)
	}
}

// Ticks returns a copy of the retained records, oldest first.
func (st *SimulationTrace) Ticks() []TickRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]TickRecord, len(st.ticks))
	copy(out, st.ticks)
	return out
}

// Evicted counts records dropped by the MaxTicks bound.
func (st *SimulationTrace) Evicted() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.evicted
}
