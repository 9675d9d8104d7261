// Package history persists tick records beyond the life of a run: a compressed JSONL
// log is the source of truth, a SQLite index makes recent ticks queryable, and an
// optional Postgres store collects runs from many hosts.
package history

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/stacksim/sim"
	"github.com/inference-sim/stacksim/sim/trace"
)

// Entry is one persisted tick, tagged with the run it belongs to.
type Entry struct {
	RunID string `json:"run_id"`
	trace.TickRecord
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Seed      int64     `json:"seed"`
	Agents    int       `json:"agents"`
	Objects   int       `json:"objects"`
	Stacks    int       `json:"stacks"`
}

// Sink stores tick entries.
type Sink interface {
	WriteTick(e Entry) error
	Close() error
}

// RunSink is implemented by sinks that also keep a run table.
type RunSink interface {
	WriteRun(info RunInfo) error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// defaultQueue bounds the ticks waiting to be written.
const defaultQueue = 1024

// Recorder is a sim.TickObserver that hands tick entries to its sinks on a background
// goroutine, so slow storage never stalls the tick loop. Entries are dropped, with a
// warning, when the queue is full.
type Recorder struct {
	runID  string
	level  trace.TraceLevel
	sinks  []Sink
	logger logrus.FieldLogger

	ch      chan Entry
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewRecorder starts a recorder for runID. level selects whether per-agent actions are
// kept (trace.TraceLevelActions) or only tick summaries.
func NewRecorder(runID string, level trace.TraceLevel, logger logrus.FieldLogger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if level == "" || level == trace.TraceLevelNone {
		level = trace.TraceLevelTicks
	}
	r := &Recorder{
		runID:  runID,
		level:  level,
		sinks:  sinks,
		logger: logger.WithField("run", runID),
		ch:     make(chan Entry, defaultQueue),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
	return r
}

// RunID returns the run this recorder tags entries with.
func (r *Recorder) RunID() string { return r.runID }

// Begin records info in every sink that keeps runs.
func (r *Recorder) Begin(info RunInfo) error {
	info.RunID = r.runID
	var errs []error
	for _, s := range r.sinks {
		if rs, ok := s.(RunSink); ok {
			if err := rs.WriteRun(info); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ObserveTick queues the tick for persistence.
func (r *Recorder) ObserveTick(rep sim.TickReport) {
	e := Entry{RunID: r.runID, TickRecord: trace.FromReport(rep, r.level)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.dropped++
		r.logger.WithField("tick", rep.Tick).Warn("history queue full, dropping tick")
	}
}

// Dropped counts ticks lost to a full queue.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close drains queued entries and closes every sink.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
		r.wg.Wait()

		var errs []error
		for _, s := range r.sinks {
			if cerr := s.Close(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}

func (r *Recorder) loop() {
	for e := range r.ch {
		for _, s := range r.sinks {
			if err := s.WriteTick(e); err != nil {
				r.logger.WithError(err).WithField("tick", e.Tick).Error("writing tick history")
			}
		}
	}
}
