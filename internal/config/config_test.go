package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kavach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "v1", cfg.Version)
	assert.Equal(t, 0.8, cfg.Scoring.FraudThreshold)
	assert.Equal(t, time.Hour, cfg.Scoring.VelocityWindow)
	assert.Equal(t, 10*time.Minute, cfg.Scoring.FanInWindow)
	assert.Equal(t, 5, cfg.Scoring.FanInThreshold)
	assert.Equal(t, 0.99, cfg.Scoring.FallbackCap)
	assert.Len(t, cfg.Scoring.FallbackRules, 2)
	assert.Equal(t, 3, cfg.Predictor.TopK)
	assert.Equal(t, "kavach:alerts", cfg.Alerts.Redis.Channel)
}

func TestNewLoader_ParsesDurationsAndRules(t *testing.T) {
	path := writeConfig(t, `
version: v3
scoring:
  fan_in_window: 5m
  fan_in_threshold: 3
  retention: 2h
  fallback_rules:
    - id: night_cash
      expr: "hour_of_day < 5 AND amount > 10000"
      weight: 0.6
predictor:
  top_k: 5
`)
	l, err := NewLoader(path)
	require.NoError(t, err)
	cfg := l.Config()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "v3", cfg.Version)
	assert.Equal(t, 5*time.Minute, cfg.Scoring.FanInWindow)
	assert.Equal(t, 3, cfg.Scoring.FanInThreshold)
	assert.Equal(t, 2*time.Hour, cfg.Scoring.Retention)
	require.Len(t, cfg.Scoring.FallbackRules, 1)
	assert.Equal(t, "night_cash", cfg.Scoring.FallbackRules[0].ID)
	assert.Equal(t, 5, cfg.Predictor.TopK)
	assert.Equal(t, time.Hour, cfg.Scoring.VelocityWindow)
	assert.Equal(t, path, l.Path())
}

func TestNewLoader_Errors(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")

	_, err = NewLoader(writeConfig(t, "scoring: [not, a, map]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestNewLoader_ExplicitZeros(t *testing.T) {
	l, err := NewLoader(writeConfig(t, "simulation:\n  mule_probability: 0\nscoring:\n  fan_in_threshold: 0\n"))
	require.NoError(t, err)
	cfg := l.Config()
	require.NoError(t, Validate(cfg))

	mule, circular := cfg.Simulation.Probabilities()
	assert.Zero(t, mule, "explicit 0 disables the mule pattern")
	assert.Equal(t, 0.02, circular)
	assert.Equal(t, 5, cfg.Scoring.FanInThreshold, "0 selects the default")

	mule, circular = SimulationConf{}.Probabilities()
	assert.Equal(t, 0.05, mule)
	assert.Equal(t, 0.02, circular)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("KAVACH_MODEL_PATH", "/models/rf.json")
	t.Setenv("KAVACH_SIMULATION", "true")

	l, err := NewLoader(writeConfig(t, "logging:\n  level: warn\n"))
	require.NoError(t, err)
	cfg := l.Config()
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "localhost:6379", cfg.Alerts.Redis.Addr)
	assert.Equal(t, "/models/rf.json", cfg.Scoring.ModelPath)
	assert.True(t, cfg.Simulation.Enabled)

	t.Setenv("KAVACH_SIMULATION", "maybe")
	l, err = NewLoader("")
	require.NoError(t, err)
	assert.False(t, l.Config().Simulation.Enabled)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Engine.Workers = 0
	cfg.Scoring.FraudThreshold = 1.5
	cfg.Scoring.Retention = time.Minute
	cfg.Scoring.FallbackRules[0].Expr = "mystery > 1"
	cfg.Predictor.ETAMaxMinutes = 10
	mule, circular := 0.9, 0.2
	cfg.Simulation.MuleProbability = &mule
	cfg.Simulation.CircularProbability = &circular
	cfg.Scoring.FanInThreshold = -1
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"engine.workers",
		"scoring.fraud_threshold 1.5",
		"scoring.retention",
		"scoring.fallback_rules",
		"predictor eta range",
		"simulation probabilities",
		"scoring.fan_in_threshold must be >= 1",
		`logging.format "xml"`,
	} {
		assert.Contains(t, msg, want)
	}

	cfg = Default()
	cfg.Version = ""
	assert.EqualError(t, Validate(cfg), "config: version is required")
}

func TestReload_NotifiesAndKeepsOldOnError(t *testing.T) {
	path := writeConfig(t, "version: v1\n")
	l, err := NewLoader(path)
	require.NoError(t, err)

	var calls atomic.Int32
	var seen atomic.Value
	l.OnChange(func(c *Config) {
		calls.Add(1)
		seen.Store(c.Scoring.FraudThreshold)
	})

	require.NoError(t, os.WriteFile(path, []byte("version: v2\nscoring:\n  fraud_threshold: 0.6\n"), 0o644))
	cfg, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, "v2", cfg.Version)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0.6, seen.Load())

	require.NoError(t, os.WriteFile(path, []byte("version: v3\nengine:\n  workers: -1\n"), 0o644))
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, "v2", l.Config().Version)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "version: v1\n")
	l, err := NewLoader(path)
	require.NoError(t, err)

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()
	defer stop() // idempotent

	require.NoError(t, os.WriteFile(path, []byte("version: v9\n"), 0o644))
	assert.Eventually(t, func() bool { return l.Config().Version == "v9" }, 3*time.Second, 10*time.Millisecond)

	_, err = (&Loader{}).Watch()
	assert.Error(t, err)
}

func TestRestartRequired(t *testing.T) {
	prev := Default()
	assert.Empty(t, RestartRequired(prev, Default()))

	next := Default()
	next.Scoring.FraudThreshold = 0.5
	next.Scoring.VelocityWindow = 30 * time.Minute
	next.Scoring.LedgerCapacity = 100
	next.Predictor.SmoothingKM = 2
	assert.Empty(t, RestartRequired(prev, next), "hot-reloadable fields")

	next.Engine.Workers = 2
	next.Scoring.Retention = 3 * time.Hour
	next.Scoring.JanitorInterval = time.Minute
	next.Alerts.Redis.Addr = "redis:6379"
	zero := 0.0
	next.Simulation.MuleProbability = &zero
	next.Logging.Level = "debug"
	assert.Equal(t, []string{
		"engine", "scoring.retention", "scoring.janitor_interval", "alerts", "simulation", "logging",
	}, RestartRequired(prev, next))
}
