package config

import (
	"time"

	"github.com/gyaneshwarpardhi/kavach/internal/risk/rule"
)

// Config is the top-level YAML structure.
type Config struct {
	Version    string         `yaml:"version"`
	Engine     EngineConf     `yaml:"engine"`
	Scoring    ScoringConf    `yaml:"scoring"`
	Predictor  PredictorConf  `yaml:"predictor"`
	Registry   RegistryConf   `yaml:"registry"`
	Alerts     AlertsConf     `yaml:"alerts"`
	Simulation SimulationConf `yaml:"simulation"`
	Logging    LoggingConf    `yaml:"logging"`
	Tracing    TracingConf    `yaml:"tracing"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	Workers          int `yaml:"workers"`
	QueueDepth       int `yaml:"queue_depth"`
	ProcessTimeoutMs int `yaml:"process_timeout_ms"`
}

// ScoringConf controls feature windows, the fraud threshold and the
// classifier artifacts. It is hot-reloadable.
type ScoringConf struct {
	FraudThreshold     float64       `yaml:"fraud_threshold"`
	VelocityWindow     time.Duration `yaml:"velocity_window"`
	FanInWindow        time.Duration `yaml:"fan_in_window"`
	FanInThreshold     int           `yaml:"fan_in_threshold"` // 0 = default 5
	LedgerCapacity     int           `yaml:"ledger_capacity"` // 0 = unbounded
	Retention          time.Duration `yaml:"retention"`
	JanitorInterval    time.Duration `yaml:"janitor_interval"` // 0 = janitor off
	InferenceTimeoutMs int           `yaml:"inference_timeout_ms"`
	ModelPath          string        `yaml:"model_path"`
	ColumnsPath        string        `yaml:"columns_path"`
	FallbackCap        float64       `yaml:"fallback_cap"`
	FallbackRules      []rule.Def    `yaml:"fallback_rules"`
}

// PredictorConf tunes withdrawal-location ranking.
type PredictorConf struct {
	TopK              int     `yaml:"top_k"`
	ConfidenceCeiling float64 `yaml:"confidence_ceiling"`
	SmoothingKM       float64 `yaml:"smoothing_km"`
	ETAMinMinutes     int     `yaml:"eta_min_minutes"`
	ETAMaxMinutes     int     `yaml:"eta_max_minutes"`
}

// RegistryConf points at the cash-out location file. Empty uses the built-in set.
type RegistryConf struct {
	Path string `yaml:"path"`
}

type AlertsConf struct {
	Log   bool      `yaml:"log"`
	Redis RedisConf `yaml:"redis"`
}

// RedisConf enables pub/sub fan-out of results when Addr is set.
type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// SimulationConf drives the synthetic feed. The probabilities are pointers so
// an explicit 0 disables a pattern instead of selecting the default.
type SimulationConf struct {
	Enabled             bool     `yaml:"enabled"`
	IntervalMs          int      `yaml:"interval_ms"`
	MuleProbability     *float64 `yaml:"mule_probability"`
	CircularProbability *float64 `yaml:"circular_probability"`
}

// Probabilities returns the mule and circular pattern probabilities, with
// the defaults for unset fields.
func (s SimulationConf) Probabilities() (mule, circular float64) {
	mule, circular = defaultMuleProbability, defaultCircularProbability
	if s.MuleProbability != nil {
		mule = *s.MuleProbability
	}
	if s.CircularProbability != nil {
		circular = *s.CircularProbability
	}
	return mule, circular
}

type LoggingConf struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"` // text|json
	IncludeCaller bool   `yaml:"include_caller"`
}

type TracingConf struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}
