package sim

import (
	"context"
	"fmt"
	"sync"
)

// OccupancyCode classifies what a sensed direction currently contains.
// The numeric order is only a display convention; there is no priority between codes.
type OccupancyCode int

const (
	OccupancyNone OccupancyCode = iota
	OccupancyObject
	OccupancyObstacle
	OccupancyStack
)

func (c OccupancyCode) String() string {
	switch c {
	case OccupancyNone:
		return "none"
	case OccupancyObject:
		return "object"
	case OccupancyObstacle:
		return "obstacle"
	case OccupancyStack:
		return "stack"
	default:
		return fmt.Sprintf("occupancy(%d)", int(c))
	}
}

// Valid reports whether c is one of the four wire codes.
func (c OccupancyCode) Valid() bool {
	return c >= OccupancyNone && c <= OccupancyStack
}

// SensorMap is a point-in-time copy of one agent's four sensors.
type SensorMap map[Direction]OccupancyCode

// SensorEvent is one trigger-style sensor write delivered through a Feed.
type SensorEvent struct {
	AgentID   int
	Direction Direction
	Code      OccupancyCode

	flushed chan struct{} // barrier marker; nil for real writes
}

// SensorState holds the latest occupancy code for every (agent, direction) pair.
// Writes are last-write-wins. All methods are safe for concurrent use.
type SensorState struct {
	mu     sync.RWMutex
	values map[int]*[NumDirections]OccupancyCode

	feed chan SensorEvent
}

// NewSensorState creates an empty sensor table whose event feed buffers up to
// feedSize events before publishers block.
func NewSensorState(feedSize int) *SensorState {
	if feedSize < 1 {
		feedSize = 1
	}
	return &SensorState{
		values: make(map[int]*[NumDirections]OccupancyCode),
		feed:   make(chan SensorEvent, feedSize),
	}
}

// Register adds an agent with all sensors reading OccupancyNone.
func (s *SensorState) Register(agentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[agentID]; !ok {
		s.values[agentID] = &[NumDirections]OccupancyCode{}
	}
}

// UpdateSensorValue overwrites one sensor. Unknown agents are registered on first write.
func (s *SensorState) UpdateSensorValue(agentID int, d Direction, code OccupancyCode) {
	if !d.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[agentID]
	if !ok {
		v = &[NumDirections]OccupancyCode{}
		s.values[agentID] = v
	}
	v[d] = code
}

// Get returns a single sensor value (OccupancyNone for unknown agents).
func (s *SensorState) Get(agentID int, d Direction) OccupancyCode {
	if !d.Valid() {
		return OccupancyNone
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[agentID]; ok {
		return v[d]
	}
	return OccupancyNone
}

// GetSensorSnapshot returns a copy of the agent's sensors. The returned map is never
// mutated by later writes.
func (s *SensorState) GetSensorSnapshot(agentID int) (SensorMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAgent, agentID)
	}
	out := make(SensorMap, NumDirections)
	for _, d := range Directions {
		out[d] = v[d]
	}
	return out, nil
}

// === Event feed ===

// Publish queues a sensor write for the pump. It blocks while the feed is full
// unless ctx is done.
func (s *SensorState) Publish(ctx context.Context, agentID int, d Direction, code OccupancyCode) error {
	select {
	case s.feed <- SensorEvent{AgentID: agentID, Direction: d, Code: code}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pump applies feed events until ctx is done. Run it in its own goroutine.
func (s *SensorState) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.feed:
			if ev.flushed != nil {
				close(ev.flushed)
				continue
			}
			s.UpdateSensorValue(ev.AgentID, ev.Direction, ev.Code)
		}
	}
}

// Flush returns once every event published before the call has been applied by the
// pump. It requires a running Pump.
func (s *SensorState) Flush(ctx context.Context) error {
	marker := SensorEvent{flushed: make(chan struct{})}
	select {
	case s.feed <- marker:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
