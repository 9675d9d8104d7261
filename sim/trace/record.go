// Package trace records what happened in each tick: the decision the service made for
// every agent and how each action ended. Records are plain data with JSON tags so the
// history package can persist them unchanged.
package trace

import (
	"time"

	"github.com/inference-sim/stacksim/sim"
)

// ActionRecord captures one agent's command and its outcome within a tick.
type ActionRecord struct {
	AgentID    int              `json:"agent"`
	Action     string           `json:"action"`
	Direction  string           `json:"direction,omitempty"`
	Outcome    sim.Outcome      `json:"outcome"`
	Reason     string           `json:"reason,omitempty"`
	From       sim.GridPosition `json:"from"`
	To         sim.GridPosition `json:"to"`
	DurationMs float64          `json:"duration_ms"`
}

// TickRecord captures one iteration of the tick loop.
type TickRecord struct {
	Tick       int            `json:"tick"`
	Started    time.Time      `json:"started"`
	DurationMs float64        `json:"duration_ms"`
	Agents     int            `json:"agents"`
	Error      string         `json:"error,omitempty"`
	TimedOut   bool           `json:"timed_out,omitempty"`
	Actions    []ActionRecord `json:"actions,omitempty"`
	FullStacks int            `json:"full_stacks"`
	Complete   bool           `json:"complete,omitempty"`
}

// Failed reports whether the tick's decision step failed.
func (r TickRecord) Failed() bool { return r.Error != "" }

// FromReport flattens a tick report. Actions are omitted at TraceLevelTicks.
func FromReport(r sim.TickReport, level TraceLevel) TickRecord {
	rec := TickRecord{
		Tick:       r.Tick,
		Started:    r.Started,
		DurationMs: millis(r.Duration),
		Agents:     len(r.Perceptions),
		TimedOut:   r.TimedOut,
		FullStacks: r.FullStacks,
		Complete:   r.Complete,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	if level != TraceLevelActions {
		return rec
	}
	rec.Actions = make([]ActionRecord, 0, len(r.Results))
	for _, res := range r.Results {
		a := ActionRecord{
			AgentID:    res.AgentID,
			Action:     string(rune(res.Action.Kind)),
			Outcome:    res.Outcome,
			Reason:     res.Reason,
			From:       res.Start,
			To:         res.End,
			DurationMs: millis(res.Duration),
		}
		if res.Action.Kind != sim.ActionWait {
			a.Direction = res.Action.Direction.String()
		}
		rec.Actions = append(rec.Actions, a)
	}
	return rec
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
