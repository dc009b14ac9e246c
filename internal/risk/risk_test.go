package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/kavach/internal/risk/rule"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleTx(amount float64) txn.Transaction {
	return txn.Transaction{
		ID:        "t-1",
		SenderID:  "alice",
		Amount:    amount,
		Timestamp: time.Date(2025, 3, 14, 23, 15, 0, 0, time.UTC),
		Lat:       28.61,
		Lng:       77.21,
	}
}

func defaultRules(t *testing.T) *RuleBased {
	t.Helper()
	set, err := rule.NewSet(rule.DefaultDefs(), DefaultColumns, 0)
	require.NoError(t, err)
	return NewRuleBased(set)
}

// stumpForest splits on velocity_1h: <= 5 is mostly legit, otherwise fraud.
func stumpForest() *Forest {
	f := &Forest{
		Classes:   []int{0, 1},
		NFeatures: len(DefaultColumns),
		Trees: []Tree{
			{Nodes: []TreeNode{
				{Feature: 3, Threshold: 5, Left: 1, Right: 2},
				{Left: -1, Right: -1, Value: []float64{9, 1}},
				{Left: -1, Right: -1, Value: []float64{1, 3}},
			}},
			{Nodes: []TreeNode{
				{Left: -1, Right: -1, Value: []float64{0.5, 0.5}},
			}},
		},
	}
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

func TestVector_DefaultsAndColumns(t *testing.T) {
	tx := sampleTx(25000)
	vec := Vector(tx, Features{})

	assert.Equal(t, 25000.0, vec[ColAmount])
	assert.InDelta(t, math.Log1p(25000), vec[ColAmountLog], 1e-12)
	assert.Equal(t, 23.0, vec[ColHourOfDay])
	assert.Equal(t, float64(DefaultVelocity), vec[ColVelocity1h])
	assert.Equal(t, float64(DefaultGeoClusterID), vec[ColGeoClusterID])
	assert.Equal(t, 28.61, vec[ColLat])
	assert.Equal(t, 77.21, vec[ColLng])
}

func TestReindex_AnyOrderAndGaps(t *testing.T) {
	vec := map[string]float64{"amount": 10, "lat": 1, "lng": 2}
	got := Reindex(vec, []string{"lng", "merchant_risk", "amount"})
	assert.Equal(t, []float64{2, 0, 10}, got)
}

func TestForest_PredictProba(t *testing.T) {
	f := stumpForest()
	x := Reindex(Vector(sampleTx(100), Features{Velocity1h: 8}), DefaultColumns)
	p, err := f.PredictProba(x)
	require.NoError(t, err)
	// tree 1: 0.75 fraud, tree 2: 0.5 fraud
	assert.InDelta(t, 0.625, p[1], 1e-12)
	assert.InDelta(t, 1.0, p[0]+p[1], 1e-12)

	x = Reindex(Vector(sampleTx(100), Features{Velocity1h: 2}), DefaultColumns)
	p, err = f.PredictProba(x)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, p[1], 1e-12)

	_, err = f.PredictProba([]float64{1, 2})
	assert.ErrorIs(t, err, ErrFeatureCount)
}

func TestForest_ValidateRejectsBrokenTrees(t *testing.T) {
	cases := map[string]*Forest{
		"no trees":       {Classes: []int{0, 1}},
		"one class":      {Classes: []int{0}, Trees: []Tree{{Nodes: []TreeNode{{Left: -1, Value: []float64{1}}}}}},
		"no fraud label": {Classes: []int{0, 2}, Trees: []Tree{{Nodes: []TreeNode{{Left: -1, Value: []float64{1, 1}}}}}},
		"backward child": {Classes: []int{0, 1}, Trees: []Tree{{Nodes: []TreeNode{{Left: 0, Right: 1}, {Left: -1, Value: []float64{1, 1}}}}}},
		"leaf width":     {Classes: []int{0, 1}, Trees: []Tree{{Nodes: []TreeNode{{Left: -1, Value: []float64{1}}}}}},
		"feature range":  {Classes: []int{0, 1}, NFeatures: 2, Trees: []Tree{{Nodes: []TreeNode{{Feature: 5, Left: 1, Right: 2}, {Left: -1, Value: []float64{1, 0}}, {Left: -1, Value: []float64{0, 1}}}}}},
	}
	for name, f := range cases {
		assert.Error(t, f.Validate(), name)
	}
}

func TestLoadArtifacts(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.json")
	cols := filepath.Join(dir, "columns.yaml")

	require.NoError(t, os.WriteFile(model, []byte(`{
		"classes": [0, 1],
		"trees": [{"nodes": [
			{"feature": 0, "threshold": 20000, "left": 1, "right": 2},
			{"left": -1, "right": -1, "value": [1, 0]},
			{"left": -1, "right": -1, "value": [0, 1]}
		]}]
	}`), 0o644))
	require.NoError(t, os.WriteFile(cols, []byte("columns: [amount, lat, lng]\n"), 0o644))

	a, err := LoadArtifacts(model, cols)
	require.NoError(t, err)
	require.NotNil(t, a.Forest)
	assert.Equal(t, []string{"amount", "lat", "lng"}, a.Columns)
	assert.Equal(t, 3, a.Forest.NFeatures)
	assert.Equal(t, 1, a.Forest.FraudIndex())

	s := Select(a, nil)
	assert.Equal(t, StrategyLearned, s.Name())
	score, err := s.Score(context.Background(), sampleTx(25000), Features{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestLoadArtifacts_BareColumnList(t *testing.T) {
	cols := filepath.Join(t.TempDir(), "columns.json")
	require.NoError(t, os.WriteFile(cols, []byte(`["lng", "lat"]`), 0o644))
	a, err := LoadArtifacts("", cols)
	require.NoError(t, err)
	assert.Equal(t, []string{"lng", "lat"}, a.Columns)
	assert.Nil(t, a.Forest)
}

func TestLoadArtifacts_MissingFilesFallBack(t *testing.T) {
	dir := t.TempDir()
	a, err := LoadArtifacts(filepath.Join(dir, "nope.json"), filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Nil(t, a.Forest)
	assert.Equal(t, DefaultColumns, a.Columns)
	assert.Equal(t, StrategyRuleBased, Select(a, nil).Name())
}

func TestLoadArtifacts_FeatureCountMismatch(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(model, []byte("classes: [0, 1]\nn_features: 3\ntrees:\n  - nodes:\n      - {left: -1, right: -1, value: [1, 1]}\n"), 0o644))
	_, err := LoadArtifacts(model, "")
	assert.Error(t, err)
}

func TestRuleFallback_BoundaryScore(t *testing.T) {
	a := NewAdapter(nil, defaultRules(t), 0, quiet)
	got := a.Score(context.Background(), sampleTx(25000), Features{Velocity1h: 6})
	assert.Equal(t, 0.8, got.Score)
	assert.Equal(t, StrategyRuleBased, got.Strategy)
	assert.False(t, got.Fallback)
	assert.False(t, got.Score > 0.8, "0.8 is not above the fraud threshold")
	assert.ElementsMatch(t, []string{"large_amount", "high_velocity"}, got.RulesFired)
}

func TestAdapter_LearnedPath(t *testing.T) {
	f := stumpForest()
	a := NewAdapter(NewLearned(f, DefaultColumns, f.FraudIndex()), defaultRules(t), 0, quiet)
	got := a.Score(context.Background(), sampleTx(100), Features{Velocity1h: 8})
	assert.Equal(t, StrategyLearned, got.Strategy)
	assert.False(t, got.Fallback)
	assert.InDelta(t, 0.625, got.Score, 1e-12)
}

type mockClassifier struct{ mock.Mock }

func (m *mockClassifier) PredictProba(x []float64) ([]float64, error) {
	args := m.Called(x)
	p, _ := args.Get(0).([]float64)
	return p, args.Error(1)
}

type funcClassifier func([]float64) ([]float64, error)

func (f funcClassifier) PredictProba(x []float64) ([]float64, error) { return f(x) }

func TestAdapter_FallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		clf    Classifier
		reason string
	}{
		{
			name: "error",
			clf: func() Classifier {
				m := &mockClassifier{}
				m.On("PredictProba", mock.Anything).Return(nil, errors.New("model exploded"))
				return m
			}(),
			reason: ReasonError,
		},
		{
			name:   "panic",
			clf:    funcClassifier(func([]float64) ([]float64, error) { panic("index out of range") }),
			reason: ReasonPanic,
		},
		{
			name: "timeout",
			clf: funcClassifier(func([]float64) ([]float64, error) {
				time.Sleep(200 * time.Millisecond)
				return []float64{0, 1}, nil
			}),
			reason: ReasonTimeout,
		},
		{
			name:   "nan",
			clf:    funcClassifier(func([]float64) ([]float64, error) { return []float64{0, math.NaN()}, nil }),
			reason: ReasonInvalidOutput,
		},
		{
			name:   "out of range",
			clf:    funcClassifier(func([]float64) ([]float64, error) { return []float64{0, 1.7}, nil }),
			reason: ReasonInvalidOutput,
		},
		{
			name:   "short output",
			clf:    funcClassifier(func([]float64) ([]float64, error) { return []float64{1}, nil }),
			reason: ReasonInvalidOutput,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAdapter(NewLearned(tc.clf, DefaultColumns, 1), defaultRules(t), 20*time.Millisecond, quiet)
			got := a.Score(context.Background(), sampleTx(25000), Features{Velocity1h: 6})
			assert.True(t, got.Fallback)
			assert.Equal(t, tc.reason, got.Reason)
			assert.Equal(t, StrategyRuleBased, got.Strategy)
			assert.Equal(t, 0.8, got.Score)
		})
	}
}

func TestAdapter_MockReceivesTrainingColumnOrder(t *testing.T) {
	m := &mockClassifier{}
	cols := []string{ColVelocity1h, ColAmount}
	m.On("PredictProba", []float64{3, 500}).Return([]float64{0.9, 0.1}, nil).Once()

	a := NewAdapter(NewLearned(m, cols, 1), defaultRules(t), time.Second, quiet)
	got := a.Score(context.Background(), sampleTx(500), Features{Velocity1h: 3})
	assert.InDelta(t, 0.1, got.Score, 1e-12)
	m.AssertExpectations(t)
}
