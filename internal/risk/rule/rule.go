package rule

import (
	"errors"
	"fmt"
)

// DefaultCap bounds the summed score of a Set.
const DefaultCap = 0.99

// Def is the configured form of a rule.
type Def struct {
	ID     string  `yaml:"id" json:"id"`
	Expr   string  `yaml:"expr" json:"expr"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Rule is a compiled Def.
type Rule struct {
	ID     string
	Source string
	Weight float64
	expr   Expr
}

// Matches reports whether the rule fires for vars.
func (r *Rule) Matches(vars Vars) bool { return r.expr.eval(vars) }

// Set is an ordered list of weighted rules. Its score is the sum of the
// weights of matching rules, capped at Cap.
type Set struct {
	Rules []*Rule
	Cap   float64
}

// DefaultDefs reproduces the built-in fallback: large amounts and high
// velocity each add 0.4.
func DefaultDefs() []Def {
	return []Def{
		{ID: "large_amount", Expr: "amount > 20000", Weight: 0.4},
		{ID: "high_velocity", Expr: "velocity_1h > 5", Weight: 0.4},
	}
}

// NewSet compiles defs against the known feature names. capValue <= 0 uses
// DefaultCap. All compile errors are reported together.
func NewSet(defs []Def, known []string, capValue float64) (*Set, error) {
	if capValue <= 0 {
		capValue = DefaultCap
	}
	s := &Set{Cap: capValue}
	var errs []error
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		id := d.ID
		if id == "" {
			id = fmt.Sprintf("rule_%d", i)
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", id))
			continue
		}
		seen[id] = true
		if d.Weight < 0 {
			errs = append(errs, fmt.Errorf("rule %s: weight must be >= 0", id))
			continue
		}
		e, err := Compile(d.Expr, known)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", id, err))
			continue
		}
		s.Rules = append(s.Rules, &Rule{ID: id, Source: d.Expr, Weight: d.Weight, expr: e})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// Score sums the weights of matching rules and returns the ids that fired.
func (s *Set) Score(vars Vars) (float64, []string) {
	total := 0.0
	var fired []string
	for _, r := range s.Rules {
		if r.Matches(vars) {
			total += r.Weight
			fired = append(fired, r.ID)
		}
	}
	if total > s.Cap {
		total = s.Cap
	}
	return total, fired
}
