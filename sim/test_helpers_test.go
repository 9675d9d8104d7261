package sim

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/stacksim/sim/internal/testutil"
)

// quietLogger discards output so action warnings do not flood test logs.
func quietLogger() logrus.FieldLogger {
	return testutil.QuietLogger()
}

// testWorld is a hand-built world with a fast frame clock.
type testWorld struct {
	env   *Env
	world *GridWorld
}

func newTestWorld(t *testing.T, cols, rows int) *testWorld {
	t.Helper()
	geom := NewGeometry(cols, rows, 1, 0)
	sensors := NewSensorState(64)
	w := NewGridWorld(geom, sensors, 0, quietLogger())
	return &testWorld{
		env: &Env{
			Geometry:      geom,
			Sensors:       sensors,
			World:         w,
			FrameInterval: time.Millisecond,
			GrabHeight:    1,
			Logger:        quietLogger(),
		},
		world: w,
	}
}

func (tw *testWorld) agent(id int, pos GridPosition) *Agent {
	a := NewAgent(id, pos, tw.env)
	tw.world.AddAgent(a)
	return a
}

func (tw *testWorld) object(id int, pos GridPosition) *Object {
	o := NewObject(id, pos, tw.env.Geometry.PositionToWorld(pos))
	tw.world.AddObject(o)
	return o
}

func (tw *testWorld) stack(id int, pos GridPosition, capacity int, onFull StackFullFunc) *Stack {
	s := NewStack(id, pos, tw.env.Geometry.PositionToWorld(pos), capacity, 2, onFull)
	tw.world.AddStack(s)
	return s
}

// refresh writes every agent's sensors directly, bypassing the event feed.
func (tw *testWorld) refresh() {
	for _, a := range tw.world.Agents() {
		pos := a.Position()
		for _, d := range Directions {
			tw.env.Sensors.UpdateSensorValue(a.ID, d, tw.world.Occupancy(a.ID, pos.Add(d)))
		}
	}
}

// holdingAgent returns an agent already holding a fresh object.
func (tw *testWorld) holdingAgent(id int, pos GridPosition, objID int) (*Agent, *Object) {
	a := tw.agent(id, pos)
	o := tw.object(objID, pos)
	if !o.TryGrab() {
		panic("fresh object refused grab")
	}
	o.OnGrabbed(a.ID)
	a.setHolding(o)
	return a, o
}
