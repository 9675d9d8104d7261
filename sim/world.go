package sim

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// EntityKind names what a rendered transform belongs to.
type EntityKind string

const (
	EntityAgent  EntityKind = "agent"
	EntityObject EntityKind = "object"
	EntityStack  EntityKind = "stack"
)

// Renderer receives one-way position updates from the core.
type Renderer interface {
	RenderTransform(kind EntityKind, id int, p WorldPoint)
}

// GridWorld is the in-process world collaborator: it answers spatial queries, derives
// sensor readings from cell occupancy, detects body contact between agents and forwards
// transforms to an optional Renderer. Safe for concurrent use.
type GridWorld struct {
	geom          Geometry
	sensors       *SensorState
	contactRadius float64
	logger        logrus.FieldLogger

	mu        sync.RWMutex
	renderer  Renderer
	agents    map[int]*Agent
	points    map[int]WorldPoint
	objects   []*Object
	stacks    []*Stack
	obstacles map[GridPosition]struct{}
}

// NewGridWorld creates an empty world. A contactRadius <= 0 defaults to 0.6 tiles.
func NewGridWorld(geom Geometry, sensors *SensorState, contactRadius float64, logger logrus.FieldLogger) *GridWorld {
	if contactRadius <= 0 {
		contactRadius = 0.6 * geom.TileSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GridWorld{
		geom:          geom,
		sensors:       sensors,
		contactRadius: contactRadius,
		logger:        logger,
		agents:        make(map[int]*Agent),
		points:        make(map[int]WorldPoint),
		obstacles:     make(map[GridPosition]struct{}),
	}
}

// SetRenderer attaches r; nil detaches.
func (w *GridWorld) SetRenderer(r Renderer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.renderer = r
}

// AddAgent registers a and its sensors.
func (w *GridWorld) AddAgent(a *Agent) {
	w.mu.Lock()
	w.agents[a.ID] = a
	w.points[a.ID] = a.Point()
	w.mu.Unlock()
	w.sensors.Register(a.ID)
}

func (w *GridWorld) AddObject(o *Object) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects = append(w.objects, o)
}

func (w *GridWorld) AddStack(s *Stack) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stacks = append(w.stacks, s)
}

func (w *GridWorld) AddObstacle(p GridPosition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.obstacles[p] = struct{}{}
}

// Agents returns the registered agents ordered by id.
func (w *GridWorld) Agents() []*Agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Agent, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stacks returns the stacks in creation order.
func (w *GridWorld) Stacks() []*Stack {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*Stack(nil), w.stacks...)
}

// Objects returns the objects in creation order.
func (w *GridWorld) Objects() []*Object {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*Object(nil), w.objects...)
}

func (w *GridWorld) target(agentID int, d Direction) (GridPosition, bool) {
	w.mu.RLock()
	a, ok := w.agents[agentID]
	w.mu.RUnlock()
	if !ok || !d.Valid() {
		return GridPosition{}, false
	}
	return a.Position().Add(d), true
}

// ObjectAt implements World.
func (w *GridWorld) ObjectAt(agentID int, d Direction) *Object {
	cell, ok := w.target(agentID, d)
	if !ok {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.objectAtLocked(cell)
}

func (w *GridWorld) objectAtLocked(cell GridPosition) *Object {
	for _, o := range w.objects {
		if o.Sensing() && o.Cell() == cell {
			return o
		}
	}
	return nil
}

// StackAt implements World.
func (w *GridWorld) StackAt(agentID int, d Direction) *Stack {
	cell, ok := w.target(agentID, d)
	if !ok {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stackAtLocked(cell)
}

func (w *GridWorld) stackAtLocked(cell GridPosition) *Stack {
	for _, s := range w.stacks {
		if s.Cell == cell {
			return s
		}
	}
	return nil
}

// ApplyTransform implements World. Agents whose bodies come within the contact radius
// of each other both get their contact flag raised.
func (w *GridWorld) ApplyTransform(agentID int, p WorldPoint) {
	w.mu.Lock()
	self, ok := w.agents[agentID]
	var touched []*Agent
	if ok {
		w.points[agentID] = p
		for id, q := range w.points {
			if id != agentID && PlanarDistance(p, q) < w.contactRadius {
				touched = append(touched, w.agents[id])
			}
		}
	}
	r := w.renderer
	w.mu.Unlock()

	if len(touched) > 0 {
		self.SetContact(true)
		for _, other := range touched {
			other.SetContact(true)
			w.logger.WithFields(logrus.Fields{"agent": agentID, "other": other.ID}).Debug("body contact")
		}
	}
	if r != nil && ok {
		r.RenderTransform(EntityAgent, agentID, p)
		if held := self.Holding(); held != nil {
			r.RenderTransform(EntityObject, held.ID, held.Point())
		}
	}
}

// Occupancy classifies cell as seen by agentID.
func (w *GridWorld) Occupancy(agentID int, cell GridPosition) OccupancyCode {
	if !w.geom.InBounds(cell) {
		return OccupancyObstacle
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.obstacles[cell]; ok {
		return OccupancyObstacle
	}
	for id, a := range w.agents {
		if id != agentID && a.Position() == cell {
			return OccupancyObstacle
		}
	}
	if s := w.stackAtLocked(cell); s != nil {
		return s.Occupancy()
	}
	if w.objectAtLocked(cell) != nil {
		return OccupancyObject
	}
	return OccupancyNone
}

// Sense re-derives every sensor of every agent and publishes the readings through the
// sensor feed. Call SensorState.Flush afterwards to wait until they are applied.
func (w *GridWorld) Sense(ctx context.Context) error {
	for _, a := range w.Agents() {
		pos := a.Position()
		for _, d := range Directions {
			if err := w.sensors.Publish(ctx, a.ID, d, w.Occupancy(a.ID, pos.Add(d))); err != nil {
				return err
			}
		}
	}
	return nil
}

// === Snapshots ===

// AgentView is a point-in-time copy of one agent.
type AgentView struct {
	ID       int          `json:"id"`
	Position GridPosition `json:"position"`
	Point    WorldPoint   `json:"point"`
	Holding  *int         `json:"holding,omitempty"`
}

// ObjectView is a point-in-time copy of one object.
type ObjectView struct {
	ID    int        `json:"id"`
	State string     `json:"state"`
	Point WorldPoint `json:"point"`
}

// StackView is a point-in-time copy of one stack.
type StackView struct {
	ID       int          `json:"id"`
	Cell     GridPosition `json:"cell"`
	Items    int          `json:"items"`
	Capacity int          `json:"capacity"`
	Full     bool         `json:"full"`
}

// WorldSnapshot is what observers see of the world at the end of a tick.
type WorldSnapshot struct {
	Agents  []AgentView  `json:"agents"`
	Objects []ObjectView `json:"objects"`
	Stacks  []StackView  `json:"stacks"`
}

// Snapshot copies the current world state.
func (w *GridWorld) Snapshot() WorldSnapshot {
	var snap WorldSnapshot
	for _, a := range w.Agents() {
		v := AgentView{ID: a.ID, Position: a.Position(), Point: a.Point()}
		if o := a.Holding(); o != nil {
			id := o.ID
			v.Holding = &id
		}
		snap.Agents = append(snap.Agents, v)
	}
	for _, o := range w.Objects() {
		snap.Objects = append(snap.Objects, ObjectView{ID: o.ID, State: o.State().String(), Point: o.Point()})
	}
	for _, s := range w.Stacks() {
		snap.Stacks = append(snap.Stacks, StackView{
			ID: s.ID, Cell: s.Cell, Items: s.Len(), Capacity: s.Capacity, Full: s.Full(),
		})
	}
	return snap
}
