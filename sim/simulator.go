package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Decider chooses exactly one action per perceived agent.
type Decider interface {
	Decide(ctx context.Context, perceptions []Perception) ([]Command, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, perceptions []Perception) ([]Command, error)

func (f DeciderFunc) Decide(ctx context.Context, perceptions []Perception) ([]Command, error) {
	return f(ctx, perceptions)
}

// WorldView is what the tick loop needs from the world between ticks.
type WorldView interface {
	// Sense publishes fresh sensor readings for every agent.
	Sense(ctx context.Context) error
	Snapshot() WorldSnapshot
}

// TickReport describes one completed iteration.
type TickReport struct {
	Tick        int
	Started     time.Time
	Duration    time.Duration
	Perceptions []Perception
	Commands    []Command
	Results     []ActionResult // one per command, in command order
	Err         error          // decision failure; no actions were dispatched
	TimedOut    bool           // the iteration deadline cut the barrier short
	Snapshot    WorldSnapshot
	FullStacks  int
	Complete    bool
}

// Failed reports whether the tick's dispatch was skipped.
func (r TickReport) Failed() bool { return r.Err != nil }

// TickObserver receives every TickReport, in tick order, on the loop goroutine.
type TickObserver interface {
	ObserveTick(r TickReport)
}

// TickObserverFunc adapts a function to TickObserver.
type TickObserverFunc func(r TickReport)

func (f TickObserverFunc) ObserveTick(r TickReport) { f(r) }

// Simulator drives the sense -> decide -> act -> resync loop.
type Simulator struct {
	timing     TimingConfig
	agents     map[int]*Agent
	order      []*Agent
	sensors    *SensorState
	world      WorldView
	decider    Decider
	completion *Completion
	logger     logrus.FieldLogger

	observers []TickObserver
	tick      int
}

// NewSimulator wires a simulator over agents. world and completion may be nil.
func NewSimulator(timing TimingConfig, agents []*Agent, sensors *SensorState, world WorldView, completion *Completion, decider Decider, logger logrus.FieldLogger) *Simulator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Simulator{
		timing:     timing,
		agents:     make(map[int]*Agent, len(agents)),
		order:      append([]*Agent(nil), agents...),
		sensors:    sensors,
		world:      world,
		decider:    decider,
		completion: completion,
		logger:     logger,
	}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i].ID < s.order[j].ID })
	return s
}

// NewSimulatorFromLayout is NewSimulator over a built Layout.
func NewSimulatorFromLayout(timing TimingConfig, l *Layout, decider Decider) *Simulator {
	return NewSimulator(timing, l.Agents, l.Env.Sensors, l.World, l.Completion, decider, l.Env.Logger)
}

// AddObserver registers o. Not safe to call while Run is active.
func (s *Simulator) AddObserver(o TickObserver) {
	s.observers = append(s.observers, o)
}

// Ticks returns the number of iterations run so far.
func (s *Simulator) Ticks() int { return s.tick }

// Run loops until ctx is cancelled, every stack is full or MaxIterations ticks ran.
// Cancellation and completion are not errors; only a failed initial sense is.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.sensors.Pump(ctx)
	}()
	defer func() {
		cancel()
		<-pumpDone
	}()

	perceptions, err := s.resync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initial sense: %w", err)
	}

	for {
		if ctx.Err() != nil {
			s.logger.WithField("tick", s.tick).Info("simulation cancelled")
			return nil
		}
		if s.completion != nil && s.completion.Complete() {
			s.logger.WithField("tick", s.tick).Info("all stacks full, simulation complete")
			return nil
		}
		if s.timing.MaxIterations > 0 && s.tick >= s.timing.MaxIterations {
			s.logger.WithField("tick", s.tick).Info("iteration limit reached")
			return nil
		}

		start := time.Now()
		report, next := s.iterate(ctx, perceptions)
		if next != nil {
			perceptions = next
		}
		for _, o := range s.observers {
			o.ObserveTick(report)
		}

		s.pace(ctx, s.timing.Cadence-time.Since(start))
	}
}

// pace sleeps until the next cadence slot, waking early on cancellation or completion.
func (s *Simulator) pace(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		return
	}
	var done <-chan struct{}
	if s.completion != nil {
		done = s.completion.Done()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-done:
	case <-timer.C:
	}
}

// iterate runs one tick and returns its report and the next tick's input. next is nil
// when the tick was cut short by cancellation before resync.
func (s *Simulator) iterate(ctx context.Context, perceptions []Perception) (report TickReport, next []Perception) {
	s.tick++
	report = TickReport{Tick: s.tick, Started: time.Now(), Perceptions: perceptions}
	log := s.logger.WithField("tick", s.tick)
	defer func() {
		report.Duration = time.Since(report.Started)
		if s.world != nil {
			report.Snapshot = s.world.Snapshot()
		}
		if s.completion != nil {
			report.FullStacks = s.completion.FullCount()
			report.Complete = s.completion.Complete()
		}
	}()

	commands, err := s.decide(ctx, perceptions)
	if err != nil {
		report.Err = err
		if ctx.Err() != nil {
			return report, nil
		}
		log.WithError(err).Error("decision failed, skipping dispatch")
		resynced, rerr := s.resync(ctx)
		if rerr != nil {
			return report, nil
		}
		return report, resynced
	}
	report.Commands = commands

	if ctx.Err() != nil {
		return report, nil
	}
	report.Results, report.TimedOut = s.dispatch(ctx, commands)
	if report.TimedOut {
		log.Warn("iteration deadline reached before every action completed")
	}
	if ctx.Err() != nil {
		return report, nil
	}

	next, err = s.resync(ctx)
	if err != nil {
		return report, nil
	}
	log.WithFields(logrus.Fields{
		"actions":  len(report.Results),
		"duration": time.Since(report.Started).Round(time.Millisecond),
	}).Info("tick complete")
	return report, next
}

func (s *Simulator) decide(ctx context.Context, perceptions []Perception) ([]Command, error) {
	timeout := s.timing.DecisionTimeout
	if timeout <= 0 {
		timeout = s.timing.IterationTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	commands, err := s.decider.Decide(dctx, perceptions)
	if err != nil {
		return nil, err
	}
	if err := MatchCommands(perceptions, commands); err != nil {
		return nil, err
	}
	return commands, nil
}

// MatchCommands checks that commands name exactly the perceived agents, once each.
func MatchCommands(perceptions []Perception, commands []Command) error {
	if len(commands) != len(perceptions) {
		return fmt.Errorf("%w: got %d commands for %d agents", ErrCommandMismatch, len(commands), len(perceptions))
	}
	want := make(map[int]bool, len(perceptions))
	for _, p := range perceptions {
		want[p.ID] = true
	}
	for _, c := range commands {
		if !want[c.ID] {
			return fmt.Errorf("%w: unexpected or duplicate agent %d", ErrCommandMismatch, c.ID)
		}
		delete(want, c.ID)
	}
	return nil
}

// dispatch runs every command on its own goroutine and waits for all of them or the
// iteration deadline. On deadline the actions' context is cancelled and dispatch
// waits for them to unwind, so no agent is busy when the next tick starts. The bool
// reports whether the deadline fired.
func (s *Simulator) dispatch(ctx context.Context, commands []Command) ([]ActionResult, bool) {
	dctx, cancel := context.WithTimeout(ctx, s.timing.IterationTimeout)
	defer cancel()

	results := make([]ActionResult, len(commands))
	g, gctx := errgroup.WithContext(dctx)
	for i, cmd := range commands {
		a, ok := s.agents[cmd.ID]
		if !ok {
			results[i] = ActionResult{AgentID: cmd.ID, Action: cmd.Action, Outcome: OutcomeRejected,
				Reason: "unknown agent", Err: fmt.Errorf("%w: %d", ErrUnknownAgent, cmd.ID)}
			continue
		}
		i, cmd := i, cmd
		g.Go(func() error {
			results[i] = a.Execute(gctx, cmd.Action, s.timing.ActionDuration)
			return nil
		})
	}

	// Every action observes gctx, so the deadline bounds Wait.
	_ = g.Wait()
	return results, errors.Is(dctx.Err(), context.DeadlineExceeded)
}

// resync re-senses the world, waits for the readings to land and snapshots every
// agent's sensors in id order.
func (s *Simulator) resync(ctx context.Context) ([]Perception, error) {
	if s.world != nil {
		if err := s.world.Sense(ctx); err != nil {
			return nil, err
		}
	}
	if err := s.sensors.Flush(ctx); err != nil {
		return nil, err
	}
	return s.Perceive()
}

// Perceive snapshots every agent's sensors in id order.
func (s *Simulator) Perceive() ([]Perception, error) {
	out := make([]Perception, 0, len(s.order))
	for _, a := range s.order {
		snap, err := s.sensors.GetSensorSnapshot(a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Perception{ID: a.ID, Sensors: snap})
	}
	return out, nil
}
