package sim

import (
	"fmt"
	"time"
)

// ActionKind is the verb of an agent action.
type ActionKind byte

const (
	ActionMove ActionKind = 'M'
	ActionGrab ActionKind = 'G'
	ActionDrop ActionKind = 'D'
	ActionWait ActionKind = 'W'
)

func (k ActionKind) String() string {
	switch k {
	case ActionMove:
		return "move"
	case ActionGrab:
		return "grab"
	case ActionDrop:
		return "drop"
	case ActionWait:
		return "wait"
	default:
		return fmt.Sprintf("action(%q)", byte(k))
	}
}

// Action is one command for one agent. Direction is ignored for ActionWait.
type Action struct {
	Kind      ActionKind
	Direction Direction
}

// Move, Grab, Drop and Wait are convenience constructors.
func Move(d Direction) Action { return Action{Kind: ActionMove, Direction: d} }
func Grab(d Direction) Action { return Action{Kind: ActionGrab, Direction: d} }
func Drop(d Direction) Action { return Action{Kind: ActionDrop, Direction: d} }
func Wait() Action            { return Action{Kind: ActionWait} }

func (a Action) String() string {
	if a.Kind == ActionWait {
		return "W"
	}
	return fmt.Sprintf("%c %s", byte(a.Kind), a.Direction)
}

// ParseAction parses the wire pair ("M", "F"). The direction is ignored for "W".
func ParseAction(kind, direction string) (Action, error) {
	if len(kind) != 1 {
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, kind)
	}
	k := ActionKind(kind[0])
	switch k {
	case ActionWait:
		return Wait(), nil
	case ActionMove, ActionGrab, ActionDrop:
		d, err := ParseDirection(direction)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: k, Direction: d}, nil
	default:
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, kind)
	}
}

// Outcome classifies how an action completed.
type Outcome string

const (
	// OutcomeSucceeded: the action ran to completion and changed state as intended.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeRejected: a precondition was not met; no state changed.
	OutcomeRejected Outcome = "rejected"
	// OutcomeContended: the target's guard was held by someone else; no state changed.
	OutcomeContended Outcome = "contended"
	// OutcomeInterrupted: a collision or deactivation triggered a corrective motion.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeCancelled: the context ended before the action finished; guards were released.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeFailed: the action panicked or hit an unexpected error.
	OutcomeFailed Outcome = "failed"
)

// ActionResult is the single completion signal of one Execute call.
type ActionResult struct {
	AgentID  int
	Action   Action
	Outcome  Outcome
	Reason   string
	Err      error // set for in-flight rejections and recovered panics
	Start    GridPosition
	End      GridPosition
	Duration time.Duration
}

// Perception is one agent's sensor snapshot as sent to the decision service.
type Perception struct {
	ID      int
	Sensors SensorMap
}

// Command is the action the decision service chose for one agent.
type Command struct {
	ID     int
	Action Action
}
