package sim

import (
	"sync"
	"sync/atomic"
)

// StackFullFunc is notified once when a stack reaches capacity.
type StackFullFunc func(s *Stack)

// Stack is a capacity-bounded drop target. Concurrent drops are arbitrated by a
// non-blocking lock; items are kept in insertion order.
type Stack struct {
	ID       int
	Cell     GridPosition
	Capacity int

	base       WorldPoint
	itemOffset float64
	onFull     StackFullFunc

	locked atomic.Bool

	mu    sync.Mutex
	items []*Object
	full  bool
}

// NewStack creates an empty stack at cell. onFull may be nil.
func NewStack(id int, cell GridPosition, base WorldPoint, capacity int, itemOffset float64, onFull StackFullFunc) *Stack {
	return &Stack{
		ID:         id,
		Cell:       cell,
		Capacity:   capacity,
		base:       base,
		itemOffset: itemOffset,
		onFull:     onFull,
		items:      make([]*Object, 0, capacity),
	}
}

// TryLock reserves the stack for one drop attempt. It fails if another drop holds the
// lock or the stack is already full.
func (s *Stack) TryLock() bool {
	if s.Full() {
		return false
	}
	if !s.locked.CompareAndSwap(false, true) {
		return false
	}
	// Re-check: the stack may have filled between the two loads.
	if s.Full() {
		s.locked.Store(false)
		return false
	}
	return true
}

// Unlock releases a lock obtained by TryLock. Callers must call it exactly once per
// successful TryLock.
func (s *Stack) Unlock() {
	s.locked.Store(false)
}

// Locked reports whether a drop attempt currently holds the stack.
func (s *Stack) Locked() bool {
	return s.locked.Load()
}

// NextItemPosition returns the slot of the n-th item (1-based).
func (s *Stack) NextItemPosition(n int) WorldPoint {
	if n <= 1 {
		return s.base
	}
	return s.base.Up(float64(n-1) * s.itemOffset)
}

// TryAddItem commits obj as the next item. It fails when the stack is at capacity.
// The addition that fills the stack relabels it as an obstacle and fires onFull.
func (s *Stack) TryAddItem(obj *Object) bool {
	s.mu.Lock()
	if len(s.items) >= s.Capacity {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items, obj)
	obj.stackInto(s.ID, s.NextItemPosition(len(s.items)))
	becameFull := false
	if len(s.items) >= s.Capacity && !s.full {
		s.full = true
		becameFull = true
	}
	s.mu.Unlock()

	if becameFull && s.onFull != nil {
		s.onFull(s)
	}
	return true
}

// Len returns the number of committed items.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns the committed items in stack order.
func (s *Stack) Items() []*Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Object, len(s.items))
	copy(out, s.items)
	return out
}

// Full reports whether the stack reached capacity.
func (s *Stack) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}

// Occupancy is how sensors classify the stack: a drop target until full, then an
// impassable obstacle.
func (s *Stack) Occupancy() OccupancyCode {
	if s.Full() {
		return OccupancyObstacle
	}
	return OccupancyStack
}
