package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gyaneshwarpardhi/kavach/internal/risk/rule"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

const (
	StrategyLearned   = "learned"
	StrategyRuleBased = "rule_based"
)

var ErrInvalidOutput = errors.New("classifier returned an invalid probability")

// Strategy scores a transaction in [0,1].
type Strategy interface {
	Name() string
	Score(ctx context.Context, tx txn.Transaction, f Features) (float64, error)
}

// Learned scores with a trained classifier, feeding it columns in the order
// it was trained with.
type Learned struct {
	classifier Classifier
	columns    []string
	fraudIndex int
}

// NewLearned wraps c. fraudIndex is the position of the fraud class in the
// classifier's probability output.
func NewLearned(c Classifier, columns []string, fraudIndex int) *Learned {
	return &Learned{classifier: c, columns: columns, fraudIndex: fraudIndex}
}

func (l *Learned) Name() string { return StrategyLearned }

func (l *Learned) Score(_ context.Context, tx txn.Transaction, f Features) (float64, error) {
	x := Reindex(Vector(tx, f), l.columns)
	proba, err := l.classifier.PredictProba(x)
	if err != nil {
		return 0, err
	}
	if l.fraudIndex < 0 || l.fraudIndex >= len(proba) {
		return 0, fmt.Errorf("%w: %d classes, fraud index %d", ErrInvalidOutput, len(proba), l.fraudIndex)
	}
	p := proba[l.fraudIndex]
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidOutput, p)
	}
	return p, nil
}

// RuleBased scores with the weighted fallback rules.
type RuleBased struct {
	rules *rule.Set
}

func NewRuleBased(rules *rule.Set) *RuleBased {
	return &RuleBased{rules: rules}
}

func (r *RuleBased) Name() string { return StrategyRuleBased }

func (r *RuleBased) Score(_ context.Context, tx txn.Transaction, f Features) (float64, error) {
	score, _ := r.rules.Score(Vector(tx, f))
	return score, nil
}

// Explain returns the score together with the ids of the rules that fired.
func (r *RuleBased) Explain(tx txn.Transaction, f Features) (float64, []string) {
	return r.rules.Score(Vector(tx, f))
}

// Select picks the scoring strategy once at startup: Learned when the
// artifacts carry a model, RuleBased otherwise.
func Select(a *Artifacts, rules *rule.Set) Strategy {
	if a != nil && a.Forest != nil {
		return NewLearned(a.Forest, a.Columns, a.Forest.FraudIndex())
	}
	return NewRuleBased(rules)
}
