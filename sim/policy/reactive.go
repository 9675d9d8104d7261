// Package policy holds the reference decision policy and an HTTP server that exposes
// it under the decision-service contract.
package policy

import (
	"context"
	"math/rand"
	"sync"

	"github.com/inference-sim/stacksim/sim"
)

// Reactive is the rule-based robot policy. It remembers, per agent id, whether it
// last told that agent to grab (holding) or drop (empty); the memory is optimistic
// unless ObserveTick corrects it from the world.
//
// Rules, first match wins:
//  1. nothing sensed: move in a random direction
//  2. an object is sensed and the agent is not holding: grab it
//  3. an obstacle is sensed: move to a random free direction, or wait
//  4. a stack is sensed and the agent is holding: drop onto it
//  5. a stack is sensed and the agent is not holding: move to a random free direction, or wait
//  6. otherwise: move to a random free direction, or wait
type Reactive struct {
	mu      sync.Mutex
	rng     *rand.Rand
	holding map[int]bool
}

// NewReactive creates a policy drawing its random choices from rng.
func NewReactive(rng *rand.Rand) *Reactive {
	return &Reactive{rng: rng, holding: make(map[int]bool)}
}

// Choose picks the next action for agent id and updates its holding memory.
func (p *Reactive) Choose(id int, sensors sim.SensorMap) sim.Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := directionsWith(sensors, sim.OccupancyNone)
	if len(free) == sim.NumDirections {
		return sim.Move(p.pick(free))
	}
	if objects := directionsWith(sensors, sim.OccupancyObject); len(objects) > 0 && !p.holding[id] {
		p.holding[id] = true
		return sim.Grab(p.pick(objects))
	}
	if stacks := directionsWith(sensors, sim.OccupancyStack); len(stacks) > 0 && p.holding[id] &&
		len(directionsWith(sensors, sim.OccupancyObstacle)) == 0 {
		p.holding[id] = false
		return sim.Drop(p.pick(stacks))
	}
	if len(free) == 0 {
		return sim.Wait()
	}
	return sim.Move(p.pick(free))
}

// Decide implements sim.Decider.
func (p *Reactive) Decide(ctx context.Context, perceptions []sim.Perception) ([]sim.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]sim.Command, len(perceptions))
	for i, pc := range perceptions {
		out[i] = sim.Command{ID: pc.ID, Action: p.Choose(pc.ID, pc.Sensors)}
	}
	return out, nil
}

// ObserveTick replaces the holding memory with what the world reports. It lets an
// in-process policy recover from grabs and drops that did not happen.
func (p *Reactive) ObserveTick(r sim.TickReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range r.Snapshot.Agents {
		p.holding[a.ID] = a.Holding != nil
	}
}

// Holding reports the remembered holding state of agent id.
func (p *Reactive) Holding(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holding[id]
}

// Forget drops all per-agent memory.
func (p *Reactive) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holding = make(map[int]bool)
}

func (p *Reactive) pick(ds []sim.Direction) sim.Direction {
	return ds[p.rng.Intn(len(ds))]
}

// directionsWith returns the directions whose reading equals code, in Directions order.
func directionsWith(sensors sim.SensorMap, code sim.OccupancyCode) []sim.Direction {
	var out []sim.Direction
	for _, d := range sim.Directions {
		if sensors[d] == code {
			out = append(out, d)
		}
	}
	return out
}
