package sim

import (
	"time"

	"github.com/sirupsen/logrus"
)

// World is the spatial collaborator the agents act against. Implementations must be
// safe for concurrent use by every agent goroutine.
type World interface {
	// ObjectAt returns the grabbable object inside agentID's sensed volume in d, or nil.
	ObjectAt(agentID int, d Direction) *Object
	// StackAt returns the stack inside agentID's sensed volume in d, or nil.
	StackAt(agentID int, d Direction) *Stack
	// ApplyTransform receives every rendered position change of an agent.
	ApplyTransform(agentID int, p WorldPoint)
}

// Env is the simulation context shared by every component of one run. It replaces
// process-wide registries: nothing in this package reads global state.
type Env struct {
	Geometry Geometry
	Sensors  *SensorState
	World    World

	// FrameInterval is the step of every interpolation loop.
	FrameInterval time.Duration
	// GrabHeight is how far above its holder a held object floats.
	GrabHeight float64

	Logger logrus.FieldLogger
}

func (e *Env) frameInterval() time.Duration {
	if e.FrameInterval <= 0 {
		return 16 * time.Millisecond
	}
	return e.FrameInterval
}

func (e *Env) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}
