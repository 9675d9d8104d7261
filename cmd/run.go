package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/stacksim/sim"
	"github.com/inference-sim/stacksim/sim/decision"
	"github.com/inference-sim/stacksim/sim/history"
	"github.com/inference-sim/stacksim/sim/observer"
	"github.com/inference-sim/stacksim/sim/policy"
	"github.com/inference-sim/stacksim/sim/trace"
)

// RunResult is what a finished run reports.
type RunResult struct {
	RunID     string              `json:"run_id"`
	Ticks     int                 `json:"ticks"`
	Wall      string              `json:"wall_time"`
	Summary   *trace.TraceSummary `json:"summary"`
	Decisions int                 `json:"decision_failures,omitempty"`
	LogPath   string              `json:"history_log,omitempty"`
}

// runSimulation builds the world described by cfg, runs it until ctx ends, every stack
// is full or the iteration limit is hit, and prints the summary to out.
func runSimulation(ctx context.Context, cfg RunConfig, out io.Writer) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	simCfg := cfg.SimConfig()
	runID := history.NewRunID()
	logger := logrus.WithField("run", runID)

	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed))
	layout, err := sim.BuildLayout(simCfg, rng, logger)
	if err != nil {
		return nil, fmt.Errorf("build layout: %w", err)
	}

	var (
		decider  sim.Decider
		recorder *decision.Recorder
		reactive *policy.Reactive
	)
	if cfg.Decision.Endpoint == "" {
		reactive = policy.NewReactive(rng.ForSubsystem(sim.SubsystemPolicy))
		decider = reactive
		logger.Info("using the in-process reference policy")
	} else {
		client := decision.NewClient(cfg.Decision.Endpoint, cfg.Decision.Timeout, logger)
		if cfg.Decision.Record > 0 {
			recorder = decision.NewRecorder(cfg.Decision.Record)
			client.WithRecorder(recorder)
		}
		decider = client
		logger.WithField("endpoint", cfg.Decision.Endpoint).Info("using the HTTP decision service")
	}

	s := sim.NewSimulatorFromLayout(simCfg.Timing, layout, decider)
	if reactive != nil {
		s.AddObserver(reactive)
	}
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(cfg.Trace)})
	s.AddObserver(st)

	result := &RunResult{RunID: runID}
	hist, logPath, err := openHistory(cfg, runID, logger)
	if err != nil {
		return nil, err
	}
	if hist != nil {
		defer func() {
			if err := hist.Close(); err != nil {
				logger.WithError(err).Error("closing history")
			}
		}()
		if err := hist.Begin(history.RunInfo{
			StartedAt: time.Now(),
			Seed:      cfg.Seed,
			Agents:    len(layout.Agents),
			Objects:   len(layout.Objects),
			Stacks:    len(layout.Stacks),
		}); err != nil {
			logger.WithError(err).Warn("recording run start")
		}
		s.AddObserver(hist)
		result.LogPath = logPath
	}

	if cfg.Observer.Addr != "" {
		hub := observer.NewHub(layout.World, logger)
		layout.World.SetRenderer(hub)
		s.AddObserver(hub)
		obsCtx, stopObs := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.ListenAndServe(obsCtx, cfg.Observer.Addr); err != nil {
				logger.WithError(err).Error("observer feed stopped")
			}
		}()
		defer func() {
			stopObs()
			wg.Wait()
		}()
		logger.WithField("addr", cfg.Observer.Addr).Info("observer feed listening on " + observer.Path)
	}

	logger.WithFields(logrus.Fields{
		"agents":  len(layout.Agents),
		"objects": len(layout.Objects),
		"stacks":  len(layout.Stacks),
		"seed":    cfg.Seed,
	}).Info("starting simulation")
	start := time.Now()
	if err := s.Run(ctx); err != nil {
		return nil, err
	}

	result.Ticks = s.Ticks()
	result.Wall = time.Since(start).Round(time.Millisecond).String()
	result.Summary = trace.Summarize(st)
	if recorder != nil {
		result.Decisions = recorder.Failures()
	}
	printResult(out, result)
	return result, nil
}

// openHistory opens every configured sink; nil when none is configured.
func openHistory(cfg RunConfig, runID string, logger logrus.FieldLogger) (*history.Recorder, string, error) {
	var (
		sinks   []history.Sink
		logPath string
	)
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	if cfg.History.Dir != "" {
		w, err := history.OpenJSONL(cfg.History.Dir, runID)
		if err != nil {
			return nil, "", fmt.Errorf("open tick log: %w", err)
		}
		sinks = append(sinks, w)
		logPath = w.Path()
	}
	if cfg.History.SQLite != "" {
		idx, err := history.OpenSQLite(cfg.History.SQLite)
		if err != nil {
			closeAll()
			return nil, "", fmt.Errorf("open tick index: %w", err)
		}
		sinks = append(sinks, idx)
	}
	if cfg.History.PostgresDSN != "" {
		db, err := history.OpenPostgres(cfg.History.PostgresDSN)
		if err != nil {
			closeAll()
			return nil, "", err
		}
		store, err := history.NewPostgresStore(db, 0)
		if err != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
			closeAll()
			return nil, "", err
		}
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		return nil, "", nil
	}
	return history.NewRecorder(runID, trace.TraceLevel(cfg.History.Level), logger, sinks...), logPath, nil
}

func printResult(out io.Writer, r *RunResult) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		logrus.Errorf("Error marshalling run summary: %v", err)
		return
	}
	fmt.Fprintln(out, "=== Simulation Summary ===")
	fmt.Fprintln(out, string(data))
}
