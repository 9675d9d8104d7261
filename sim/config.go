package sim

import (
	"fmt"
	"time"
)

// WorldConfig groups the grid geometry and world population parameters.
type WorldConfig struct {
	Cols          int            // grid width in cells (must be > 0)
	Rows          int            // grid height in cells (must be > 0)
	TileSize      float64        // world units per cell (must be > 0)
	YOffset       float64        // height of the resting plane
	NumAgents     int            // agents placed on random free cells
	NumObjects    int            // objects placed on random free cells
	NumObstacles  int            // static obstacles placed on random free cells
	StackCells    []GridPosition // fixed stack cells, placed before anything random
	ExtraStacks   int            // stacks placed on random free cells
	StackCapacity int            // items per stack (must be > 0)
	ItemOffset    float64        // vertical spacing between stacked items
	GrabHeight    float64        // how far above its holder a held object floats
	ContactRadius float64        // planar distance that counts as body contact (0 = 0.6 tiles)
}

// TimingConfig groups the tick loop cadence and action budgets.
type TimingConfig struct {
	Cadence          time.Duration // minimum spacing between iteration starts
	IterationTimeout time.Duration // barrier deadline for one tick's actions
	ActionDuration   time.Duration // interpolation budget of one action
	FrameInterval    time.Duration // step of every interpolation loop
	DecisionTimeout  time.Duration // deadline of one decision call (0 = IterationTimeout)
	MaxIterations    int           // 0 = run until cancelled or complete
}

// Config is the full simulation configuration.
type Config struct {
	World  WorldConfig
	Timing TimingConfig
}

// DefaultStackCells are the four fixed stacks of the 20x20 reference warehouse.
var DefaultStackCells = []GridPosition{{X: 5, Y: 15}, {X: 5, Y: 5}, {X: 15, Y: 15}, {X: 15, Y: 5}}

// DefaultConfig returns the reference warehouse: 20x20 tiles, 5 agents, 20 objects and
// four stacks of five.
func DefaultConfig() Config {
	return Config{
		World: WorldConfig{
			Cols:          20,
			Rows:          20,
			TileSize:      1,
			NumAgents:     5,
			NumObjects:    20,
			StackCells:    append([]GridPosition(nil), DefaultStackCells...),
			StackCapacity: 5,
			ItemOffset:    2,
			GrabHeight:    1,
		},
		Timing: TimingConfig{
			Cadence:          time.Second,
			IterationTimeout: 1500 * time.Millisecond,
			ActionDuration:   time.Second,
			FrameInterval:    16 * time.Millisecond,
		},
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	w, t := c.World, c.Timing
	switch {
	case w.Cols <= 0 || w.Rows <= 0:
		return fmt.Errorf("%w: grid must be at least 1x1, got %dx%d", ErrInvalidConfig, w.Cols, w.Rows)
	case w.TileSize <= 0:
		return fmt.Errorf("%w: tile size must be > 0, got %v", ErrInvalidConfig, w.TileSize)
	case w.NumAgents < 0 || w.NumObjects < 0 || w.NumObstacles < 0 || w.ExtraStacks < 0:
		return fmt.Errorf("%w: entity counts must be >= 0", ErrInvalidConfig)
	case w.StackCapacity <= 0:
		return fmt.Errorf("%w: stack capacity must be > 0, got %d", ErrInvalidConfig, w.StackCapacity)
	case w.ContactRadius < 0:
		return fmt.Errorf("%w: contact radius must be >= 0, got %v", ErrInvalidConfig, w.ContactRadius)
	case t.IterationTimeout <= 0:
		return fmt.Errorf("%w: iteration timeout must be > 0, got %v", ErrInvalidConfig, t.IterationTimeout)
	case t.ActionDuration < 0 || t.Cadence < 0 || t.FrameInterval < 0 || t.DecisionTimeout < 0:
		return fmt.Errorf("%w: durations must be >= 0", ErrInvalidConfig)
	case t.ActionDuration > t.IterationTimeout:
		return fmt.Errorf("%w: action duration %v exceeds iteration timeout %v", ErrInvalidConfig, t.ActionDuration, t.IterationTimeout)
	case t.MaxIterations < 0:
		return fmt.Errorf("%w: max iterations must be >= 0, got %d", ErrInvalidConfig, t.MaxIterations)
	}

	seen := make(map[GridPosition]bool, len(w.StackCells))
	for _, p := range w.StackCells {
		if p.X < 0 || p.Y < 0 || p.X >= w.Cols || p.Y >= w.Rows {
			return fmt.Errorf("%w: stack cell %s is outside the %dx%d grid", ErrInvalidConfig, p, w.Cols, w.Rows)
		}
		if seen[p] {
			return fmt.Errorf("%w: duplicate stack cell %s", ErrInvalidConfig, p)
		}
		seen[p] = true
	}

	need := w.NumAgents + w.NumObjects + w.NumObstacles + w.ExtraStacks + len(w.StackCells)
	if need > w.Cols*w.Rows {
		return fmt.Errorf("%w: %d entities do not fit on %d cells", ErrInvalidConfig, need, w.Cols*w.Rows)
	}
	return nil
}
