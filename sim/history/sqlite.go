package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inference-sim/stacksim/sim"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteIndex keeps a queryable index of ticks and actions. Writes go through a single
// writer goroutine; when it falls behind, ticks are dropped (the JSONL log remains the
// source of truth).
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

type req struct {
	entry *Entry
	run   *RunInfo
}

// TickRow is one row of the ticks table.
type TickRow struct {
	RunID      string
	Tick       int
	Started    time.Time
	DurationMs float64
	Agents     int
	Actions    int
	Succeeded  int
	Error      string
	TimedOut   bool
	FullStacks int
	Complete   bool
}

// OpenSQLite opens (creating if needed) the index at path.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, 4096)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			seed INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			objects INTEGER NOT NULL,
			stacks INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			agents INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			error TEXT,
			timed_out INTEGER NOT NULL,
			full_stacks INTEGER NOT NULL,
			complete INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			agent_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			direction TEXT,
			outcome TEXT NOT NULL,
			reason TEXT,
			PRIMARY KEY (run_id, tick, agent_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_agent ON actions(run_id, agent_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteTick queues e for indexing. It never blocks.
func (s *SQLiteIndex) WriteTick(e Entry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{entry: &e}:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// WriteRun queues info for the runs table.
func (s *SQLiteIndex) WriteRun(info RunInfo) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{run: &info}:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Dropped counts writes lost because the writer fell behind.
func (s *SQLiteIndex) Dropped() int64 { return s.dropped.Load() }

// Close drains pending writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// LatestRun returns the most recently started run id, or "" when there is none.
func (s *SQLiteIndex) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// RecentTicks returns up to limit ticks of runID, newest first.
func (s *SQLiteIndex) RecentTicks(ctx context.Context, runID string, limit int) ([]TickRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, tick, started_at, duration_ms, agents, actions, succeeded,
		       COALESCE(error, ''), timed_out, full_stacks, complete
		FROM ticks WHERE run_id = ? ORDER BY tick DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var (
			r        TickRow
			started  string
			timedOut int
			complete int
		)
		if err := rows.Scan(&r.RunID, &r.Tick, &started, &r.DurationMs, &r.Agents, &r.Actions,
			&r.Succeeded, &r.Error, &timedOut, &r.FullStacks, &complete); err != nil {
			return nil, err
		}
		r.Started, _ = time.Parse(timeLayout, started)
		r.TimedOut = timedOut != 0
		r.Complete = complete != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutcomeCounts tallies the outcomes of runID's actions.
func (s *SQLiteIndex) OutcomeCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM actions WHERE run_id = ? GROUP BY outcome`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		var err error
		switch {
		case r.entry != nil:
			err = s.insertTick(*r.entry)
		case r.run != nil:
			err = s.insertRun(*r.run)
		}
		if err != nil {
			s.dropped.Add(1)
		}
	}
}

func (s *SQLiteIndex) insertRun(info RunInfo) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs(run_id,started_at,seed,agents,objects,stacks) VALUES(?,?,?,?,?,?)`,
		info.RunID, info.StartedAt.UTC().Format(timeLayout), info.Seed, info.Agents, info.Objects, info.Stacks)
	return err
}

func (s *SQLiteIndex) insertTick(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	succeeded := 0
	for _, a := range e.Actions {
		if a.Outcome == sim.OutcomeSucceeded {
			succeeded++
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO ticks(run_id,tick,started_at,duration_ms,agents,actions,succeeded,error,timed_out,full_stacks,complete,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.RunID, e.Tick, e.Started.UTC().Format(timeLayout), e.DurationMs, e.Agents, len(e.Actions), succeeded,
		nullable(e.Error), boolInt(e.TimedOut), e.FullStacks, boolInt(e.Complete), string(raw)); err != nil {
		return err
	}
	for _, a := range e.Actions {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO actions(run_id,tick,agent_id,action,direction,outcome,reason) VALUES(?,?,?,?,?,?,?)`,
			e.RunID, e.Tick, a.AgentID, a.Action, nullable(a.Direction), string(a.Outcome), nullable(a.Reason)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
