package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/kavach/internal/config"
	"github.com/gyaneshwarpardhi/kavach/internal/graph"
	"github.com/gyaneshwarpardhi/kavach/internal/predict"
	"github.com/gyaneshwarpardhi/kavach/internal/risk"
	"github.com/gyaneshwarpardhi/kavach/internal/risk/rule"
)

// DefaultFraudThreshold is the strict lower bound a final score must exceed
// to be flagged.
const DefaultFraudThreshold = 0.8

// Scoring is the hot-swappable part of the engine: the model adapter, the
// thresholds applied to its output and the cash-out predictor. A nil
// Predictor uses the engine's own.
type Scoring struct {
	Adapter        *risk.Adapter
	Threshold      float64
	FanInWindow    time.Duration
	FanInThreshold int
	TopK           int
	Predictor      *predict.Predictor
}

func (s *Scoring) withDefaults() *Scoring {
	out := *s
	if out.Threshold <= 0 {
		out.Threshold = DefaultFraudThreshold
	}
	if out.FanInWindow <= 0 {
		out.FanInWindow = graph.FanInWindow
	}
	if out.FanInThreshold <= 0 {
		out.FanInThreshold = graph.FanInThreshold
	}
	if out.TopK <= 0 {
		out.TopK = predict.DefaultTopK
	}
	if out.Adapter == nil {
		set, err := rule.NewSet(rule.DefaultDefs(), risk.DefaultColumns, rule.DefaultCap)
		if err != nil {
			panic(fmt.Sprintf("default fallback rules: %v", err))
		}
		rb := risk.NewRuleBased(set)
		out.Adapter = risk.NewAdapter(rb, rb, 0, nil)
	}
	return &out
}

// NewScoring builds the scoring settings from config: it compiles the
// fallback rules, loads the classifier artifacts, picks the strategy and
// builds the predictor.
func NewScoring(sc config.ScoringConf, pc config.PredictorConf, logger *slog.Logger) (*Scoring, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defs := sc.FallbackRules
	if len(defs) == 0 {
		defs = rule.DefaultDefs()
	}
	rules, err := rule.NewSet(defs, risk.DefaultColumns, sc.FallbackCap)
	if err != nil {
		return nil, fmt.Errorf("fallback rules: %w", err)
	}
	arts, err := risk.LoadArtifacts(sc.ModelPath, sc.ColumnsPath)
	if err != nil {
		return nil, fmt.Errorf("model artifacts: %w", err)
	}

	fallback := risk.NewRuleBased(rules)
	primary := risk.Select(arts, rules)
	if primary.Name() == risk.StrategyRuleBased && sc.ModelPath != "" {
		logger.Warn("model artifact not found, scoring with rules only", "model_path", sc.ModelPath)
	}
	timeout := time.Duration(sc.InferenceTimeoutMs) * time.Millisecond
	predictor := predict.New(predict.Options{
		TopK:              pc.TopK,
		ConfidenceCeiling: pc.ConfidenceCeiling,
		SmoothingKM:       pc.SmoothingKM,
		ETAMin:            pc.ETAMinMinutes,
		ETAMax:            pc.ETAMaxMinutes,
	})

	return (&Scoring{
		Adapter:        risk.NewAdapter(primary, fallback, timeout, logger),
		Threshold:      sc.FraudThreshold,
		FanInWindow:    sc.FanInWindow,
		FanInThreshold: sc.FanInThreshold,
		TopK:           pc.TopK,
		Predictor:      predictor,
	}).withDefaults(), nil
}
