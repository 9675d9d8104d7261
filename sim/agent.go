package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Agent is a grid robot. Its logical position and holding state are written only by
// its own action goroutine; the contact flag is raised by the world collaborator.
//
// Lifecycle: Idle -> Executing(action) -> Idle. Only one action may be in flight.
type Agent struct {
	ID int

	env *Env

	busy    atomic.Bool
	contact atomic.Bool

	mu      sync.RWMutex
	pos     GridPosition
	point   WorldPoint
	holding *Object
}

// NewAgent places an idle agent at pos.
func NewAgent(id int, pos GridPosition, env *Env) *Agent {
	return &Agent{
		ID:    id,
		env:   env,
		pos:   pos,
		point: env.Geometry.PositionToWorld(pos),
	}
}

// Position returns the logical grid cell.
func (a *Agent) Position() GridPosition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pos
}

// Point returns the rendered position.
func (a *Agent) Point() WorldPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.point
}

// Holding returns the held object, or nil.
func (a *Agent) Holding() *Object {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.holding
}

// SetContact is the body-contact callback of the world collaborator.
func (a *Agent) SetContact(v bool) {
	a.contact.Store(v)
}

// InContact reports the current body-contact flag.
func (a *Agent) InContact() bool {
	return a.contact.Load()
}

// Busy reports whether an action is in flight.
func (a *Agent) Busy() bool {
	return a.busy.Load()
}

func (a *Agent) setPos(p GridPosition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = p
}

func (a *Agent) setHolding(o *Object) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.holding = o
}

// setPoint moves the rendered agent, drags a held object along and forwards the
// transform to the world. The world is called without holding a.mu.
func (a *Agent) setPoint(p WorldPoint) {
	a.mu.Lock()
	a.point = p
	held := a.holding
	a.mu.Unlock()
	if held != nil {
		held.follow(p, a.env.GrabHeight)
	}
	if a.env.World != nil {
		a.env.World.ApplyTransform(a.ID, p)
	}
}

// Execute runs one action within budget and returns its single completion result.
// Rejections, contention, interruptions, cancellation and panics all complete.
func (a *Agent) Execute(ctx context.Context, act Action, budget time.Duration) (res ActionResult) {
	res = ActionResult{AgentID: a.ID, Action: act, Start: a.Position()}
	if !a.busy.CompareAndSwap(false, true) {
		res.Outcome = OutcomeRejected
		res.Reason = "another action is executing"
		res.Err = ErrActionInFlight
		res.End = res.Start
		return res
	}

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("agent %d: %s panicked: %v", a.ID, act, r)
			res.Reason = res.Err.Error()
		}
		res.End = a.Position()
		res.Duration = time.Since(started)
		a.busy.Store(false)
		a.logResult(res)
	}()

	switch act.Kind {
	case ActionMove:
		res.Outcome, res.Reason = a.move(ctx, act.Direction, budget)
	case ActionGrab:
		res.Outcome, res.Reason = a.grab(ctx, act.Direction, budget)
	case ActionDrop:
		res.Outcome, res.Reason = a.drop(ctx, act.Direction, budget)
	case ActionWait:
		res.Outcome = OutcomeSucceeded
	default:
		res.Outcome = OutcomeRejected
		res.Reason = fmt.Sprintf("unknown action %s", act)
	}
	return res
}

func (a *Agent) logResult(res ActionResult) {
	entry := a.env.logger().WithFields(logrus.Fields{
		"agent":   a.ID,
		"action":  res.Action.String(),
		"outcome": res.Outcome,
		"pos":     res.End.String(),
	})
	switch res.Outcome {
	case OutcomeSucceeded:
		entry.Debug("action completed")
	case OutcomeRejected, OutcomeContended:
		entry.Warnf("action not performed: %s", res.Reason)
	case OutcomeInterrupted, OutcomeCancelled:
		entry.Infof("action cut short: %s", res.Reason)
	default:
		entry.Errorf("action failed: %s", res.Reason)
	}
}

// animate calls step once per frame with progress t = elapsed/budget until the budget
// is spent, step returns false, or ctx ends. completed is true only when the full
// budget ran.
func (a *Agent) animate(ctx context.Context, budget time.Duration, step func(t float64) bool) (elapsed time.Duration, completed bool, err error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if budget <= 0 {
		return 0, true, nil
	}
	start := time.Now()
	ticker := time.NewTicker(a.env.frameInterval())
	defer ticker.Stop()
	for {
		elapsed = time.Since(start)
		if !step(float64(elapsed) / float64(budget)) {
			return elapsed, false, nil
		}
		if elapsed >= budget {
			return elapsed, true, nil
		}
		select {
		case <-ctx.Done():
			return time.Since(start), false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// move updates the logical cell optimistically, then animates. Contact during the
// transition triggers one corrective move back for the remaining budget. Cancellation
// snaps the agent back to where it started.
func (a *Agent) move(ctx context.Context, d Direction, budget time.Duration) (Outcome, string) {
	if code := a.env.Sensors.Get(a.ID, d); code != OccupancyNone {
		return OutcomeRejected, fmt.Sprintf("%s is blocked by %s", d, code)
	}

	from := a.Position()
	to := from.Add(d)
	a.contact.Store(false)
	a.setPos(to)

	start, target := a.Point(), a.env.Geometry.PositionToWorld(to)
	elapsed, done, err := a.animate(ctx, budget, func(t float64) bool {
		a.setPoint(Lerp(start, target, t))
		return !a.contact.Load()
	})
	if err != nil {
		a.setPos(from)
		a.setPoint(start)
		return OutcomeCancelled, "cancelled while moving"
	}
	if !done {
		a.correct(ctx, from, budget-elapsed)
		return OutcomeInterrupted, fmt.Sprintf("contact while moving %s, returned to %s", d, from)
	}
	a.setPoint(target)
	return OutcomeSucceeded, ""
}

// correct is the single reactive rollback of an interrupted move. It does not check
// sensors or contact; if the budget runs out the rendered point stays where it is.
func (a *Agent) correct(ctx context.Context, back GridPosition, remaining time.Duration) {
	a.setPos(back)
	if remaining <= 0 {
		return
	}
	start, target := a.Point(), a.env.Geometry.PositionToWorld(back)
	_, done, err := a.animate(ctx, remaining, func(t float64) bool {
		a.setPoint(Lerp(start, target, t))
		return true
	})
	if err == nil && done {
		a.setPoint(target)
	}
}

// moveBack animates the rendered agent toward p without touching the logical cell.
func (a *Agent) moveBack(ctx context.Context, p WorldPoint, remaining time.Duration) {
	start := a.Point()
	_, done, err := a.animate(ctx, remaining, func(t float64) bool {
		a.setPoint(Lerp(start, p, t))
		return true
	})
	if err == nil && done {
		a.setPoint(p)
	}
}

// grab lifts the object in d and steps into its cell. The object's guard is released
// on every path that does not finish the grab.
func (a *Agent) grab(ctx context.Context, d Direction, budget time.Duration) (Outcome, string) {
	if a.Holding() != nil {
		return OutcomeRejected, "already holding an object"
	}
	obj := a.env.World.ObjectAt(a.ID, d)
	if obj == nil {
		return OutcomeRejected, fmt.Sprintf("no object to grab in %s", d)
	}
	if !obj.TryGrab() {
		return OutcomeContended, fmt.Sprintf("object %d is already being grabbed", obj.ID)
	}

	grabbed := false
	defer func() {
		if !grabbed {
			obj.CancelGrab()
		}
	}()

	to := a.Position().Add(d)
	agStart, objStart := a.Point(), obj.Point()
	agTarget := a.env.Geometry.PositionToWorld(to)
	lift := agTarget.Up(a.env.GrabHeight)

	obj.setMoving(true)
	elapsed, done, err := a.animate(ctx, budget, func(t float64) bool {
		if !obj.Active() {
			return false
		}
		obj.SetPoint(Lerp(objStart, lift, t))
		a.setPoint(Lerp(agStart, agTarget, t))
		return true
	})
	if err != nil {
		obj.SetPoint(objStart)
		a.setPoint(agStart)
		return OutcomeCancelled, "cancelled while grabbing"
	}
	if !done {
		a.moveBack(ctx, agStart, budget-elapsed)
		return OutcomeInterrupted, fmt.Sprintf("object %d vanished during grab", obj.ID)
	}

	grabbed = true
	obj.OnGrabbed(a.ID)
	a.setPos(to)
	a.setHolding(obj)
	a.setPoint(agTarget)
	a.env.Sensors.UpdateSensorValue(a.ID, d, OccupancyNone)
	return OutcomeSucceeded, ""
}

// drop moves the held object onto the stack in d. The stack lock is released on every
// exit path, panics included.
func (a *Agent) drop(ctx context.Context, d Direction, budget time.Duration) (Outcome, string) {
	obj := a.Holding()
	if obj == nil {
		return OutcomeRejected, "no object to drop"
	}
	st := a.env.World.StackAt(a.ID, d)
	if st == nil {
		return OutcomeRejected, fmt.Sprintf("no stack to drop into in %s", d)
	}
	if !st.TryLock() {
		return OutcomeContended, fmt.Sprintf("stack %d is busy or full", st.ID)
	}
	defer st.Unlock()

	objStart := obj.Point()
	slot := st.NextItemPosition(st.Len() + 1)
	obj.beginDrop()

	elapsed, _, err := a.animate(ctx, budget, func(t float64) bool {
		obj.SetPoint(Lerp(objStart, slot, t))
		return true
	})
	if err != nil {
		obj.SetPoint(objStart)
		obj.abortDrop()
		return OutcomeCancelled, "cancelled while dropping"
	}
	obj.SetPoint(slot)

	if st.TryAddItem(obj) {
		a.setHolding(nil)
		obj.OnDropped()
		return OutcomeSucceeded, ""
	}

	remaining := budget - elapsed
	if remaining > 0 {
		_, _, _ = a.animate(ctx, remaining, func(t float64) bool {
			obj.SetPoint(Lerp(slot, objStart, t))
			return true
		})
	}
	obj.SetPoint(objStart)
	obj.abortDrop()
	return OutcomeRejected, fmt.Sprintf("stack %d refused the item", st.ID)
}
