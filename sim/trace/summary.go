package trace

import (
	"github.com/inference-sim/stacksim/sim"
)

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalTicks       int
	FailedTicks      int
	TimedOutTicks    int
	TotalActions     int
	OutcomeCounts    map[sim.Outcome]int
	ActionCounts     map[string]int // "M", "G", "D", "W" → count
	Delivered        int            // successful drops
	MeanTickMs       float64
	MaxTickMs        float64
	FullStacks       int // as of the last recorded tick
	Complete         bool
	ActionsPerAgent  map[int]int
	SuccessesByAgent map[int]int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		OutcomeCounts:    make(map[sim.Outcome]int),
		ActionCounts:     make(map[string]int),
		ActionsPerAgent:  make(map[int]int),
		SuccessesByAgent: make(map[int]int),
	}
	if st == nil {
		return summary
	}

	ticks := st.Ticks()
	summary.TotalTicks = len(ticks)
	totalMs := 0.0
	for _, t := range ticks {
		if t.Failed() {
			summary.FailedTicks++
		}
		if t.TimedOut {
			summary.TimedOutTicks++
		}
		totalMs += t.DurationMs
		if t.DurationMs > summary.MaxTickMs {
			summary.MaxTickMs = t.DurationMs
		}
		for _, a := range t.Actions {
			summary.TotalActions++
			summary.OutcomeCounts[a.Outcome]++
			summary.ActionCounts[a.Action]++
			summary.ActionsPerAgent[a.AgentID]++
			if a.Outcome == sim.OutcomeSucceeded {
				summary.SuccessesByAgent[a.AgentID]++
				if a.Action == string(rune(sim.ActionDrop)) {
					summary.Delivered++
				}
			}
		}
	}
	if len(ticks) > 0 {
		summary.MeanTickMs = totalMs / float64(len(ticks))
		last := ticks[len(ticks)-1]
		summary.FullStacks = last.FullStacks
		summary.Complete = last.Complete
	}
	return summary
}
