package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ObjectState is the lifecycle of a grabbable item.
type ObjectState int

const (
	ObjectFree ObjectState = iota
	ObjectBeingGrabbed
	ObjectHeld
	ObjectBeingDropped
	ObjectStacked
)

func (s ObjectState) String() string {
	switch s {
	case ObjectFree:
		return "free"
	case ObjectBeingGrabbed:
		return "being-grabbed"
	case ObjectHeld:
		return "held"
	case ObjectBeingDropped:
		return "being-dropped"
	case ObjectStacked:
		return "stacked"
	default:
		return fmt.Sprintf("object-state(%d)", int(s))
	}
}

const noHolder = -1

// Object is an item an agent can grab and drop into a Stack.
//
// The grab guard is a single-owner flag scoped to one grab attempt: TryGrab takes it,
// OnGrabbed or CancelGrab releases it. Holding the object afterwards is tracked by
// state, not by the guard.
type Object struct {
	ID int

	guard atomic.Bool

	mu      sync.RWMutex
	cell    GridPosition
	point   WorldPoint
	state   ObjectState
	holder  int
	stackID int
	active  bool
	sensing bool
	moving  bool // true while an action animates the object explicitly
}

// NewObject places a free, active object at cell.
func NewObject(id int, cell GridPosition, point WorldPoint) *Object {
	return &Object{
		ID:      id,
		cell:    cell,
		point:   point,
		state:   ObjectFree,
		holder:  noHolder,
		stackID: noHolder,
		active:  true,
		sensing: true,
	}
}

// TryGrab acquires the grab guard without blocking. It fails if another grab is in
// progress or the object is not free and active.
func (o *Object) TryGrab() bool {
	if !o.guard.CompareAndSwap(false, true) {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != ObjectFree || !o.active {
		o.guard.Store(false)
		return false
	}
	o.state = ObjectBeingGrabbed
	return true
}

// CancelGrab releases the guard without completing the grab.
func (o *Object) CancelGrab() {
	o.mu.Lock()
	if o.state == ObjectBeingGrabbed {
		o.state = ObjectFree
	}
	o.moving = false
	o.mu.Unlock()
	o.guard.Store(false)
}

// OnGrabbed finalizes a grab: the object leaves the grid and follows holderID.
func (o *Object) OnGrabbed(holderID int) {
	o.mu.Lock()
	o.state = ObjectHeld
	o.holder = holderID
	o.sensing = false
	o.moving = false
	o.mu.Unlock()
	o.guard.Store(false)
}

// OnDropped clears the holder. A stacked object stays out of spatial sensing;
// otherwise the object becomes a free item again.
func (o *Object) OnDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.holder = noHolder
	o.moving = false
	if o.state != ObjectStacked {
		o.state = ObjectFree
		o.sensing = true
	}
}

// Deactivate removes the object from play. An in-flight grab observes this and aborts.
func (o *Object) Deactivate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = false
	o.sensing = false
}

func (o *Object) beginDrop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == ObjectHeld {
		o.state = ObjectBeingDropped
	}
	o.moving = true
}

func (o *Object) abortDrop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == ObjectBeingDropped {
		o.state = ObjectHeld
	}
	o.moving = false
}

// stackInto is called by Stack.TryAddItem under the stack's lock.
func (o *Object) stackInto(stackID int, slot WorldPoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = ObjectStacked
	o.stackID = stackID
	o.point = slot
	o.sensing = false
}

// SetPoint moves the rendered object.
func (o *Object) SetPoint(p WorldPoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.point = p
}

// follow places a held object above its holder unless an action animates it.
func (o *Object) follow(holderPoint WorldPoint, lift float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == ObjectHeld && !o.moving {
		o.point = holderPoint.Up(lift)
	}
}

func (o *Object) setMoving(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.moving = v
}

// Point returns the rendered position.
func (o *Object) Point() WorldPoint {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.point
}

// Cell returns the last grid cell the object rested on.
func (o *Object) Cell() GridPosition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cell
}

// State returns the lifecycle state.
func (o *Object) State() ObjectState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Holder returns the holding agent id, if any.
func (o *Object) Holder() (int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.holder, o.holder != noHolder
}

// StackID returns the stack the object was committed to, if any.
func (o *Object) StackID() (int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stackID, o.stackID != noHolder
}

// Active reports whether the object is still in play.
func (o *Object) Active() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active
}

// Sensing reports whether sensors and spatial queries can see the object.
func (o *Object) Sensing() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sensing && o.active
}

// Guarded reports whether a grab attempt currently owns the guard.
func (o *Object) Guarded() bool {
	return o.guard.Load()
}
