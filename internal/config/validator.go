package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/kavach/internal/risk"
	"github.com/gyaneshwarpardhi/kavach/internal/risk/rule"
)

// Validate checks the config for:
//   - Required fields and positive sizes
//   - Scores and probabilities inside [0,1]
//   - Fallback rules that compile against the model's feature columns
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if cfg.Engine.Workers <= 0 {
		fail("engine.workers must be > 0")
	}
	if cfg.Engine.QueueDepth <= 0 {
		fail("engine.queue_depth must be > 0")
	}
	if cfg.Engine.ProcessTimeoutMs <= 0 {
		fail("engine.process_timeout_ms must be > 0")
	}

	s := cfg.Scoring
	if s.FraudThreshold <= 0 || s.FraudThreshold > 1 {
		fail("scoring.fraud_threshold %v must be in (0, 1]", s.FraudThreshold)
	}
	if s.VelocityWindow <= 0 {
		fail("scoring.velocity_window must be > 0")
	}
	if s.FanInWindow <= 0 {
		fail("scoring.fan_in_window must be > 0")
	}
	if s.FanInThreshold < 1 {
		fail("scoring.fan_in_threshold must be >= 1 (0 selects the default %d)", defaultFanInThreshold)
	}
	if s.LedgerCapacity < 0 {
		fail("scoring.ledger_capacity must be >= 0")
	}
	if s.Retention < s.VelocityWindow || s.Retention < s.FanInWindow {
		fail("scoring.retention %v must cover the feature windows", s.Retention)
	}
	if s.JanitorInterval < 0 {
		fail("scoring.janitor_interval must be >= 0")
	}
	if s.InferenceTimeoutMs <= 0 {
		fail("scoring.inference_timeout_ms must be > 0")
	}
	if s.FallbackCap <= 0 || s.FallbackCap > 1 {
		fail("scoring.fallback_cap %v must be in (0, 1]", s.FallbackCap)
	}
	if _, err := rule.NewSet(s.FallbackRules, risk.DefaultColumns, s.FallbackCap); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fail("scoring.fallback_rules: %s", line)
		}
	}

	p := cfg.Predictor
	if p.TopK <= 0 {
		fail("predictor.top_k must be > 0")
	}
	if p.ConfidenceCeiling <= 0 || p.ConfidenceCeiling > 1 {
		fail("predictor.confidence_ceiling %v must be in (0, 1]", p.ConfidenceCeiling)
	}
	if p.SmoothingKM <= 0 {
		fail("predictor.smoothing_km must be > 0")
	}
	if p.ETAMinMinutes < 0 || p.ETAMaxMinutes <= p.ETAMinMinutes {
		fail("predictor eta range [%d, %d) is empty", p.ETAMinMinutes, p.ETAMaxMinutes)
	}

	sim := cfg.Simulation
	if sim.IntervalMs <= 0 {
		fail("simulation.interval_ms must be > 0")
	}
	mule, circular := sim.Probabilities()
	if mule < 0 || circular < 0 || mule+circular > 1 {
		fail("simulation probabilities must be >= 0 and sum to at most 1")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		fail("logging.format %q must be text or json", cfg.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
