package risk

import (
	"errors"
	"fmt"
)

// FraudLabel is the class label of the positive (fraud) class.
const FraudLabel = 1

var ErrFeatureCount = errors.New("feature vector length mismatch")

// Classifier produces class probabilities for one feature row.
type Classifier interface {
	PredictProba(x []float64) ([]float64, error)
}

// TreeNode is one node of an exported decision tree. Internal nodes send
// x[Feature] <= Threshold to Left, everything else to Right. Leaves have
// Left == -1 and carry per-class counts or weights in Value.
type TreeNode struct {
	Feature   int       `yaml:"feature" json:"feature"`
	Threshold float64   `yaml:"threshold" json:"threshold"`
	Left      int       `yaml:"left" json:"left"`
	Right     int       `yaml:"right" json:"right"`
	Value     []float64 `yaml:"value,omitempty" json:"value,omitempty"`
}

type Tree struct {
	Nodes []TreeNode `yaml:"nodes" json:"nodes"`
}

// Forest is a tree ensemble exported from the offline trainer. Class
// probabilities are the mean of the per-tree leaf distributions.
type Forest struct {
	Classes    []int  `yaml:"classes" json:"classes"`
	NFeatures  int    `yaml:"n_features" json:"n_features"`
	Trees      []Tree `yaml:"trees" json:"trees"`
	fraudIndex int
}

// Validate checks the structure once at load time so prediction can walk
// trees without bounds errors.
func (f *Forest) Validate() error {
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if len(f.Classes) < 2 {
		return fmt.Errorf("forest needs at least two classes, got %d", len(f.Classes))
	}
	f.fraudIndex = -1
	for i, c := range f.Classes {
		if c == FraudLabel {
			f.fraudIndex = i
		}
	}
	if f.fraudIndex < 0 {
		return fmt.Errorf("forest classes %v lack fraud label %d", f.Classes, FraudLabel)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d: no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if n.Left == -1 {
				if len(n.Value) != len(f.Classes) {
					return fmt.Errorf("tree %d node %d: leaf has %d values for %d classes", ti, ni, len(n.Value), len(f.Classes))
				}
				continue
			}
			// children must point forward so every walk terminates
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: child index out of range", ti, ni)
			}
			if n.Feature < 0 || (f.NFeatures > 0 && n.Feature >= f.NFeatures) {
				return fmt.Errorf("tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
		}
	}
	return nil
}

// FraudIndex is the position of FraudLabel in the PredictProba output.
func (f *Forest) FraudIndex() int { return f.fraudIndex }

// PredictProba implements Classifier.
func (f *Forest) PredictProba(x []float64) ([]float64, error) {
	if f.NFeatures > 0 && len(x) != f.NFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(x), f.NFeatures)
	}
	proba := make([]float64, len(f.Classes))
	for ti := range f.Trees {
		leaf, err := f.Trees[ti].leaf(x)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", ti, err)
		}
		total := 0.0
		for _, v := range leaf {
			total += v
		}
		if total <= 0 {
			continue
		}
		for c, v := range leaf {
			proba[c] += v / total
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.Trees))
	}
	return proba, nil
}

func (t *Tree) leaf(x []float64) ([]float64, error) {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left == -1 {
			return n.Value, nil
		}
		if n.Feature >= len(x) {
			return nil, fmt.Errorf("%w: node needs feature %d", ErrFeatureCount, n.Feature)
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
