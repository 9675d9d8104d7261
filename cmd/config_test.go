package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/stacksim/sim"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stacksim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRunConfig_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := LoadRunConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRunConfig(), cfg)
	assert.Equal(t, sim.DefaultConfig(), cfg.SimConfig())
}

func TestLoadRunConfig_OverridesOnlyGivenKeys(t *testing.T) {
	// GIVEN a file that changes the grid, stacks and cadence
	path := writeConfig(t, `
seed: 7
world:
  cols: 8
  rows: 6
  stacks:
    - {x: 1, y: 1}
timing:
  cadence: 250ms
  max_iterations: 12
decision:
  endpoint: http://localhost:8585/gmrs
`)

	// WHEN it is loaded
	cfg, err := LoadRunConfig(path)

	// THEN given keys replace defaults and the rest stay
	require.NoError(t, err)
	assert.EqualValues(t, 7, cfg.Seed)
	assert.Equal(t, 8, cfg.World.Cols)
	assert.Equal(t, []Cell{{X: 1, Y: 1}}, cfg.World.Stacks)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing.Cadence)
	assert.Equal(t, 12, cfg.Timing.MaxIterations)
	assert.Equal(t, "http://localhost:8585/gmrs", cfg.Decision.Endpoint)
	assert.Equal(t, DefaultRunConfig().World.Agents, cfg.World.Agents)
	assert.Equal(t, DefaultRunConfig().Timing.IterationTimeout, cfg.Timing.IterationTimeout)
}

func TestLoadRunConfig_UnknownKeyFails(t *testing.T) {
	path := writeConfig(t, "world:\n  colz: 8\n")
	_, err := LoadRunConfig(path)
	assert.ErrorContains(t, err, "colz")
}

func TestLoadRunConfig_MissingFile(t *testing.T) {
	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunFlags_OnlyChangedFlagsOverrideYAML(t *testing.T) {
	// GIVEN a YAML seed of 7 and agent count of 3
	cfg := DefaultRunConfig()
	cfg.Seed = 7
	cfg.World.Agents = 3

	var f runFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)

	// WHEN only --agents and --decision-url are passed
	require.NoError(t, fs.Parse([]string{"--agents", "9", "--decision-url", "http://x/gmrs"}))
	f.apply(&cfg, fs)

	// THEN those override and the YAML seed survives the flag default
	assert.Equal(t, 9, cfg.World.Agents)
	assert.Equal(t, "http://x/gmrs", cfg.Decision.Endpoint)
	assert.EqualValues(t, 7, cfg.Seed)
}

func TestRunFlags_AllOverrides(t *testing.T) {
	cfg := DefaultRunConfig()
	var f runFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)

	require.NoError(t, fs.Parse([]string{
		"--seed=1", "--log=debug", "--trace=ticks", "--objects=3", "--obstacles=2",
		"--cols=9", "--rows=8", "--stack-capacity=4", "--cadence=10ms",
		"--iteration-timeout=50ms", "--action-duration=20ms", "--max-iterations=5",
		"--decision-timeout=1s", "--history-dir=/tmp/h", "--index-db=/tmp/i.db",
		"--postgres-dsn=postgres://x", "--observer-addr=:9000",
	}))
	f.apply(&cfg, fs)

	assert.EqualValues(t, 1, cfg.Seed)
	assert.Equal(t, "debug", cfg.Log)
	assert.Equal(t, "ticks", cfg.Trace)
	assert.Equal(t, 3, cfg.World.Objects)
	assert.Equal(t, 2, cfg.World.Obstacles)
	assert.Equal(t, 9, cfg.World.Cols)
	assert.Equal(t, 8, cfg.World.Rows)
	assert.Equal(t, 4, cfg.World.StackCapacity)
	assert.Equal(t, 10*time.Millisecond, cfg.Timing.Cadence)
	assert.Equal(t, 50*time.Millisecond, cfg.Timing.IterationTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.Timing.ActionDuration)
	assert.Equal(t, 5, cfg.Timing.MaxIterations)
	assert.Equal(t, time.Second, cfg.Decision.Timeout)
	assert.Equal(t, "/tmp/h", cfg.History.Dir)
	assert.Equal(t, "/tmp/i.db", cfg.History.SQLite)
	assert.Equal(t, "postgres://x", cfg.History.PostgresDSN)
	assert.Equal(t, ":9000", cfg.Observer.Addr)
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *RunConfig)
		errIs  error
	}{
		{"bad grid", func(c *RunConfig) { c.World.Cols = 0 }, sim.ErrInvalidConfig},
		{"stack off grid", func(c *RunConfig) { c.World.Stacks = []Cell{{X: 99, Y: 0}} }, sim.ErrInvalidConfig},
		{"bad trace level", func(c *RunConfig) { c.Trace = "verbose" }, nil},
		{"bad history level", func(c *RunConfig) { c.History.Level = "all" }, nil},
		{"negative decision timeout", func(c *RunConfig) { c.Decision.Timeout = -time.Second }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
	assert.NoError(t, DefaultRunConfig().Validate())
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	// GIVEN the stacksim.yaml at the repository root
	cfg, err := LoadRunConfig(filepath.Join("..", "stacksim.yaml"))

	// THEN it parses strictly and documents the built-in defaults
	require.NoError(t, err)
	assert.Equal(t, DefaultRunConfig(), cfg)
}
