package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/stacksim/sim"
	"github.com/inference-sim/stacksim/sim/trace"
)

// Cell is a grid cell in YAML form.
type Cell struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// WorldSection mirrors sim.WorldConfig.
type WorldSection struct {
	Cols          int     `yaml:"cols"`
	Rows          int     `yaml:"rows"`
	TileSize      float64 `yaml:"tile_size"`
	YOffset       float64 `yaml:"y_offset"`
	Agents        int     `yaml:"agents"`
	Objects       int     `yaml:"objects"`
	Obstacles     int     `yaml:"obstacles"`
	Stacks        []Cell  `yaml:"stacks"`
	ExtraStacks   int     `yaml:"extra_stacks"`
	StackCapacity int     `yaml:"stack_capacity"`
	ItemOffset    float64 `yaml:"item_offset"`
	GrabHeight    float64 `yaml:"grab_height"`
	ContactRadius float64 `yaml:"contact_radius"`
}

// TimingSection mirrors sim.TimingConfig. Durations use Go syntax ("1.5s").
type TimingSection struct {
	Cadence          time.Duration `yaml:"cadence"`
	IterationTimeout time.Duration `yaml:"iteration_timeout"`
	ActionDuration   time.Duration `yaml:"action_duration"`
	FrameInterval    time.Duration `yaml:"frame_interval"`
	DecisionTimeout  time.Duration `yaml:"decision_timeout"`
	MaxIterations    int           `yaml:"max_iterations"`
}

// DecisionSection selects the decision service. An empty endpoint runs the reference
// policy in-process.
type DecisionSection struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Record   int           `yaml:"record"` // exchanges kept for the summary; 0 disables
}

// HistorySection configures durable tick records. Empty values disable each sink.
type HistorySection struct {
	Dir         string `yaml:"dir"`
	SQLite      string `yaml:"sqlite"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Level       string `yaml:"level"`
}

// ObserverSection configures the WebSocket feed. An empty address disables it.
type ObserverSection struct {
	Addr string `yaml:"addr"`
}

// RunConfig is the full stacksim.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type RunConfig struct {
	Seed     int64           `yaml:"seed"`
	Log      string          `yaml:"log"`
	Trace    string          `yaml:"trace"`
	World    WorldSection    `yaml:"world"`
	Timing   TimingSection   `yaml:"timing"`
	Decision DecisionSection `yaml:"decision"`
	History  HistorySection  `yaml:"history"`
	Observer ObserverSection `yaml:"observer"`
}

// DefaultRunConfig is the reference warehouse with every optional sink off.
func DefaultRunConfig() RunConfig {
	def := sim.DefaultConfig()
	w, t := def.World, def.Timing
	stacks := make([]Cell, len(w.StackCells))
	for i, p := range w.StackCells {
		stacks[i] = Cell{X: p.X, Y: p.Y}
	}
	return RunConfig{
		Seed:  42,
		Log:   "info",
		Trace: string(trace.TraceLevelActions),
		World: WorldSection{
			Cols:          w.Cols,
			Rows:          w.Rows,
			TileSize:      w.TileSize,
			YOffset:       w.YOffset,
			Agents:        w.NumAgents,
			Objects:       w.NumObjects,
			Obstacles:     w.NumObstacles,
			Stacks:        stacks,
			ExtraStacks:   w.ExtraStacks,
			StackCapacity: w.StackCapacity,
			ItemOffset:    w.ItemOffset,
			GrabHeight:    w.GrabHeight,
			ContactRadius: w.ContactRadius,
		},
		Timing: TimingSection{
			Cadence:          t.Cadence,
			IterationTimeout: t.IterationTimeout,
			ActionDuration:   t.ActionDuration,
			FrameInterval:    t.FrameInterval,
			DecisionTimeout:  t.DecisionTimeout,
			MaxIterations:    t.MaxIterations,
		},
		Decision: DecisionSection{Timeout: 2 * time.Second},
		History:  HistorySection{Level: string(trace.TraceLevelActions)},
	}
}

// LoadRunConfig reads path over DefaultRunConfig. Unknown keys are errors.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SimConfig converts to the simulator's configuration.
func (c RunConfig) SimConfig() sim.Config {
	cells := make([]sim.GridPosition, len(c.World.Stacks))
	for i, s := range c.World.Stacks {
		cells[i] = sim.GridPosition{X: s.X, Y: s.Y}
	}
	return sim.Config{
		World: sim.WorldConfig{
			Cols:          c.World.Cols,
			Rows:          c.World.Rows,
			TileSize:      c.World.TileSize,
			YOffset:       c.World.YOffset,
			NumAgents:     c.World.Agents,
			NumObjects:    c.World.Objects,
			NumObstacles:  c.World.Obstacles,
			StackCells:    cells,
			ExtraStacks:   c.World.ExtraStacks,
			StackCapacity: c.World.StackCapacity,
			ItemOffset:    c.World.ItemOffset,
			GrabHeight:    c.World.GrabHeight,
			ContactRadius: c.World.ContactRadius,
		},
		Timing: sim.TimingConfig{
			Cadence:          c.Timing.Cadence,
			IterationTimeout: c.Timing.IterationTimeout,
			ActionDuration:   c.Timing.ActionDuration,
			FrameInterval:    c.Timing.FrameInterval,
			DecisionTimeout:  c.Timing.DecisionTimeout,
			MaxIterations:    c.Timing.MaxIterations,
		},
	}
}

// Validate checks the sections the simulator does not own.
func (c RunConfig) Validate() error {
	if err := c.SimConfig().Validate(); err != nil {
		return err
	}
	if !trace.IsValidTraceLevel(c.Trace) {
		return fmt.Errorf("unknown trace level %q (none, ticks, actions)", c.Trace)
	}
	if !trace.IsValidTraceLevel(c.History.Level) {
		return fmt.Errorf("unknown history level %q (none, ticks, actions)", c.History.Level)
	}
	if c.Decision.Timeout < 0 {
		return fmt.Errorf("decision timeout must be >= 0, got %v", c.Decision.Timeout)
	}
	return nil
}

// runFlags holds the values bound to the run command's flags.
type runFlags struct {
	seed             int64
	log              string
	trace            string
	agents           int
	objects          int
	obstacles        int
	cols             int
	rows             int
	stackCapacity    int
	cadence          time.Duration
	iterationTimeout time.Duration
	actionDuration   time.Duration
	maxIterations    int
	decisionURL      string
	decisionTimeout  time.Duration
	historyDir       string
	sqlitePath       string
	postgresDSN      string
	observerAddr     string
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	def := DefaultRunConfig()
	fs.Int64Var(&f.seed, "seed", def.Seed, "Seed for the world layout and the reference policy")
	fs.StringVar(&f.log, "log", def.Log, "Log level (trace, debug, info, warn, error, fatal, panic)")
	fs.StringVar(&f.trace, "trace", def.Trace, "In-memory trace level (none, ticks, actions)")
	fs.IntVar(&f.agents, "agents", def.World.Agents, "Number of agents")
	fs.IntVar(&f.objects, "objects", def.World.Objects, "Number of objects")
	fs.IntVar(&f.obstacles, "obstacles", def.World.Obstacles, "Number of static obstacles")
	fs.IntVar(&f.cols, "cols", def.World.Cols, "Grid width in cells")
	fs.IntVar(&f.rows, "rows", def.World.Rows, "Grid height in cells")
	fs.IntVar(&f.stackCapacity, "stack-capacity", def.World.StackCapacity, "Items per stack")
	fs.DurationVar(&f.cadence, "cadence", def.Timing.Cadence, "Minimum spacing between iteration starts")
	fs.DurationVar(&f.iterationTimeout, "iteration-timeout", def.Timing.IterationTimeout, "Deadline for one iteration's actions")
	fs.DurationVar(&f.actionDuration, "action-duration", def.Timing.ActionDuration, "Interpolation budget of one action")
	fs.IntVar(&f.maxIterations, "max-iterations", def.Timing.MaxIterations, "Stop after this many iterations (0 = until every stack is full)")
	fs.StringVar(&f.decisionURL, "decision-url", def.Decision.Endpoint, "Decision service endpoint (empty = in-process reference policy)")
	fs.DurationVar(&f.decisionTimeout, "decision-timeout", def.Decision.Timeout, "HTTP timeout of one decision call")
	fs.StringVar(&f.historyDir, "history-dir", def.History.Dir, "Directory for compressed JSONL tick logs")
	fs.StringVar(&f.sqlitePath, "index-db", def.History.SQLite, "SQLite tick index path")
	fs.StringVar(&f.postgresDSN, "postgres-dsn", def.History.PostgresDSN, "Postgres DSN for the remote tick store")
	fs.StringVar(&f.observerAddr, "observer-addr", def.Observer.Addr, "Address of the WebSocket observer feed (empty = off)")
}

// apply overrides cfg with every flag the user set explicitly; YAML values win over
// flag defaults.
func (f *runFlags) apply(cfg *RunConfig, fs *pflag.FlagSet) {
	if fs.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fs.Changed("log") {
		cfg.Log = f.log
	}
	if fs.Changed("trace") {
		cfg.Trace = f.trace
	}
	if fs.Changed("agents") {
		cfg.World.Agents = f.agents
	}
	if fs.Changed("objects") {
		cfg.World.Objects = f.objects
	}
	if fs.Changed("obstacles") {
		cfg.World.Obstacles = f.obstacles
	}
	if fs.Changed("cols") {
		cfg.World.Cols = f.cols
	}
	if fs.Changed("rows") {
		cfg.World.Rows = f.rows
	}
	if fs.Changed("stack-capacity") {
		cfg.World.StackCapacity = f.stackCapacity
	}
	if fs.Changed("cadence") {
		cfg.Timing.Cadence = f.cadence
	}
	if fs.Changed("iteration-timeout") {
		cfg.Timing.IterationTimeout = f.iterationTimeout
	}
	if fs.Changed("action-duration") {
		cfg.Timing.ActionDuration = f.actionDuration
	}
	if fs.Changed("max-iterations") {
		cfg.Timing.MaxIterations = f.maxIterations
	}
	if fs.Changed("decision-url") {
		cfg.Decision.Endpoint = f.decisionURL
	}
	if fs.Changed("decision-timeout") {
		cfg.Decision.Timeout = f.decisionTimeout
	}
	if fs.Changed("history-dir") {
		cfg.History.Dir = f.historyDir
	}
	if fs.Changed("index-db") {
		cfg.History.SQLite = f.sqlitePath
	}
	if fs.Changed("postgres-dsn") {
		cfg.History.PostgresDSN = f.postgresDSN
	}
	if fs.Changed("observer-addr") {
		cfg.Observer.Addr = f.observerAddr
	}
}
