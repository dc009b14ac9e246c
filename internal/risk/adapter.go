package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gyaneshwarpardhi/kavach/internal/metrics"
	"github.com/gyaneshwarpardhi/kavach/internal/traces"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

// DefaultInferenceTimeout bounds a single classifier call.
const DefaultInferenceTimeout = 250 * time.Millisecond

// Fallback reasons, used as the model_fallbacks_total label.
const (
	ReasonTimeout       = "timeout"
	ReasonPanic         = "panic"
	ReasonError         = "error"
	ReasonInvalidOutput = "invalid_output"
)

var errInferenceTimeout = errors.New("inference timed out")

// Assessment is the model-risk outcome for one transaction.
type Assessment struct {
	Score      float64  `json:"score"`
	Strategy   string   `json:"strategy"`
	Fallback   bool     `json:"fallback"`
	Reason     string   `json:"reason,omitempty"`
	RulesFired []string `json:"rules_fired,omitempty"`
}

// Adapter runs the selected strategy and degrades to the rule-based score
// whenever it fails. Score never returns an error.
type Adapter struct {
	primary  Strategy
	fallback *RuleBased
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAdapter creates an Adapter. timeout <= 0 uses DefaultInferenceTimeout.
func NewAdapter(primary Strategy, fallback *RuleBased, timeout time.Duration, logger *slog.Logger) *Adapter {
	if timeout <= 0 {
		timeout = DefaultInferenceTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if primary == nil {
		primary = fallback
	}
	return &Adapter{primary: primary, fallback: fallback, timeout: timeout, logger: logger}
}

// Strategy returns the name of the primary strategy.
func (a *Adapter) Strategy() string { return a.primary.Name() }

// Score returns the model risk for tx, clamped to [0,1].
func (a *Adapter) Score(ctx context.Context, tx txn.Transaction, f Features) Assessment {
	if rb, ok := a.primary.(*RuleBased); ok {
		return a.ruleAssessment(rb, tx, f, "")
	}

	ctx, span := traces.StartSpan(ctx, "risk.inference", traces.TxnID(tx.ID), traces.Strategy(a.primary.Name()))
	defer span.End()

	score, err := a.guarded(ctx, tx, f)
	if err != nil {
		reason := classify(err)
		metrics.ModelFallbacks.WithLabelValues(reason).Inc()
		a.logger.Warn("model scoring failed, using rule fallback",
			"txn_id", tx.ID, "strategy", a.primary.Name(), "reason", reason, "err", err)
		span.RecordError(err)
		return a.ruleAssessment(a.fallback, tx, f, reason)
	}

	metrics.ScoringStrategy.WithLabelValues(a.primary.Name()).Inc()
	span.SetAttributes(traces.Score(score))
	return Assessment{Score: clamp01(score), Strategy: a.primary.Name()}
}

type outcome struct {
	score float64
	err   error
}

// guarded runs the primary strategy on its own goroutine so a stalled or
// panicking model cannot hold the caller past the timeout.
func (a *Adapter) guarded(ctx context.Context, tx txn.Transaction, f Features) (float64, error) {
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{value: r}}
			}
		}()
		s, err := a.primary.Score(ctx, tx, f)
		if err == nil && (math.IsNaN(s) || s < 0 || s > 1) {
			err = fmt.Errorf("%w: %v", ErrInvalidOutput, s)
		}
		done <- outcome{score: s, err: err}
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case o := <-done:
		return o.score, o.err
	case <-timer.C:
		return 0, fmt.Errorf("%w after %v", errInferenceTimeout, a.timeout)
	}
}

func (a *Adapter) ruleAssessment(rb *RuleBased, tx txn.Transaction, f Features, reason string) Assessment {
	score, fired := rb.Explain(tx, f)
	metrics.ScoringStrategy.WithLabelValues(StrategyRuleBased).Inc()
	return Assessment{
		Score:      clamp01(score),
		Strategy:   StrategyRuleBased,
		Fallback:   reason != "",
		Reason:     reason,
		RulesFired: fired,
	}
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("classifier panic: %v", e.value) }

func classify(err error) string {
	var pe *panicError
	switch {
	case errors.Is(err, errInferenceTimeout):
		return ReasonTimeout
	case errors.As(err, &pe):
		return ReasonPanic
	case errors.Is(err, ErrInvalidOutput):
		return ReasonInvalidOutput
	default:
		return ReasonError
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
