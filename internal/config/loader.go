package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/gyaneshwarpardhi/kavach/internal/risk/rule"
)

// Defaults applied to zero-valued fields after parsing.
const (
	defaultWorkers             = 8
	defaultQueueDepth          = 10000
	defaultProcessTimeoutMs    = 5000
	defaultFraudThreshold      = 0.8
	defaultVelocityWindow      = time.Hour
	defaultFanInWindow         = 10 * time.Minute
	defaultFanInThreshold      = 5
	defaultRetention           = time.Hour
	defaultInferenceTimeoutMs  = 250
	defaultFallbackCap         = 0.99
	defaultTopK                = 3
	defaultConfidenceCeiling   = 0.90
	defaultSmoothingKM         = 0.5
	defaultETAMinMinutes       = 15
	defaultETAMaxMinutes       = 60
	defaultRedisChannel        = "kavach:alerts"
	defaultSimIntervalMs       = 2000
	defaultMuleProbability     = 0.05
	defaultCircularProbability = 0.02
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
)

// Loader reads a YAML config file and watches it for changes. An empty path
// yields the defaults plus environment overrides.
type Loader struct {
	path     string
	logger   *slog.Logger
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path, logger: slog.Default()}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// WithLogger sets the logger used for watch errors.
func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Path returns the watched file path.
func (l *Loader) Path() string { return l.path }

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return nil, fmt.Errorf("config watcher: no config file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if _, err := l.Reload(); err != nil {
					// keep serving the previous config
					l.logger.Warn("config reload failed", "path", l.path, "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file. An invalid file
// leaves the current config in place.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	var cfg Config
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.path, err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied and no file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "v1"
	}

	e := &cfg.Engine
	if e.Workers == 0 {
		e.Workers = defaultWorkers
	}
	if e.QueueDepth == 0 {
		e.QueueDepth = defaultQueueDepth
	}
	if e.ProcessTimeoutMs == 0 {
		e.ProcessTimeoutMs = defaultProcessTimeoutMs
	}

	s := &cfg.Scoring
	if s.FraudThreshold == 0 {
		s.FraudThreshold = defaultFraudThreshold
	}
	if s.VelocityWindow == 0 {
		s.VelocityWindow = defaultVelocityWindow
	}
	if s.FanInWindow == 0 {
		s.FanInWindow = defaultFanInWindow
	}
	if s.FanInThreshold == 0 {
		s.FanInThreshold = defaultFanInThreshold
	}
	if s.Retention == 0 {
		s.Retention = defaultRetention
	}
	if s.InferenceTimeoutMs == 0 {
		s.InferenceTimeoutMs = defaultInferenceTimeoutMs
	}
	if s.FallbackCap == 0 {
		s.FallbackCap = defaultFallbackCap
	}
	if len(s.FallbackRules) == 0 {
		s.FallbackRules = rule.DefaultDefs()
	}

	p := &cfg.Predictor
	if p.TopK == 0 {
		p.TopK = defaultTopK
	}
	if p.ConfidenceCeiling == 0 {
		p.ConfidenceCeiling = defaultConfidenceCeiling
	}
	if p.SmoothingKM == 0 {
		p.SmoothingKM = defaultSmoothingKM
	}
	if p.ETAMinMinutes == 0 {
		p.ETAMinMinutes = defaultETAMinMinutes
	}
	if p.ETAMaxMinutes == 0 {
		p.ETAMaxMinutes = defaultETAMaxMinutes
	}

	if cfg.Alerts.Redis.Channel == "" {
		cfg.Alerts.Redis.Channel = defaultRedisChannel
	}

	sim := &cfg.Simulation
	if sim.IntervalMs == 0 {
		sim.IntervalMs = defaultSimIntervalMs
	}
	if sim.MuleProbability == nil {
		v := defaultMuleProbability
		sim.MuleProbability = &v
	}
	if sim.CircularProbability == nil {
		v := defaultCircularProbability
		sim.CircularProbability = &v
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}
}

// applyEnv lets deployment environment variables override file values.
func applyEnv(cfg *Config) {
	cfg.Logging.Level = valueOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = valueOrDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Alerts.Redis.Addr = valueOrDefault("REDIS_ADDR", cfg.Alerts.Redis.Addr)
	cfg.Alerts.Redis.Password = valueOrDefault("REDIS_PASSWORD", cfg.Alerts.Redis.Password)
	cfg.Tracing.OTLPEndpoint = valueOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Scoring.ModelPath = valueOrDefault("KAVACH_MODEL_PATH", cfg.Scoring.ModelPath)
	cfg.Scoring.ColumnsPath = valueOrDefault("KAVACH_COLUMNS_PATH", cfg.Scoring.ColumnsPath)
	cfg.Registry.Path = valueOrDefault("KAVACH_REGISTRY_PATH", cfg.Registry.Path)
	cfg.Simulation.Enabled = parseBoolWithDefault("KAVACH_SIMULATION", cfg.Simulation.Enabled)
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}
