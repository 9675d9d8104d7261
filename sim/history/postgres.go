package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TickModel is the Postgres row for one tick.
type TickModel struct {
	RunID      string    `gorm:"primaryKey;size:36"`
	Tick       int       `gorm:"primaryKey"`
	StartedAt  time.Time `gorm:"not null"`
	DurationMs float64   `gorm:"not null"`
	Agents     int       `gorm:"not null"`
	Actions    int       `gorm:"not null"`
	Error      string
	TimedOut   bool `gorm:"not null"`
	FullStacks int  `gorm:"not null"`
	Complete   bool `gorm:"not null"`
	Payload    []byte
}

func (TickModel) TableName() string { return "stacksim_ticks" }

// RunModel is the Postgres row for one run.
type RunModel struct {
	RunID     string    `gorm:"primaryKey;size:36"`
	StartedAt time.Time `gorm:"not null;index"`
	Seed      int64
	Agents    int
	Objects   int
	Stacks    int
}

func (RunModel) TableName() string { return "stacksim_runs" }

// OpenPostgres connects to dsn.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// PostgresStore writes ticks and runs through gorm.
type PostgresStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewPostgresStore migrates the tables and returns a store. Each write is bounded by
// timeout (5s when zero).
func NewPostgresStore(db *gorm.DB, timeout time.Duration) (*PostgresStore, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := db.AutoMigrate(&RunModel{}, &TickModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db, timeout: timeout}, nil
}

func (s *PostgresStore) WriteTick(e Entry) error {
	row, err := tickModel(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *PostgresStore) WriteRun(info RunInfo) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	row := RunModel{
		RunID:     info.RunID,
		StartedAt: info.StartedAt,
		Seed:      info.Seed,
		Agents:    info.Agents,
		Objects:   info.Objects,
		Stacks:    info.Stacks,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// RecentTicks returns up to limit ticks of runID, newest first.
func (s *PostgresStore) RecentTicks(ctx context.Context, runID string, limit int) ([]Entry, error) {
	rows := []TickModel{}
	q := s.db.WithContext(ctx).
		Where(&TickModel{RunID: runID}).
		Clauses(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: "tick"}, Desc: true}}})
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		var e Entry
		if err := json.Unmarshal(r.Payload, &e); err != nil {
			return nil, fmt.Errorf("tick %d payload: %w", r.Tick, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func tickModel(e Entry) (TickModel, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return TickModel{}, err
	}
	return TickModel{
		RunID:      e.RunID,
		Tick:       e.Tick,
		StartedAt:  e.Started,
		DurationMs: e.DurationMs,
		Agents:     e.Agents,
		Actions:    len(e.Actions),
		Error:      e.Error,
		TimedOut:   e.TimedOut,
		FullStacks: e.FullStacks,
		Complete:   e.Complete,
		Payload:    payload,
	}, nil
}
