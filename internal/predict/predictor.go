// Package predict ranks cash-out points a flagged transaction is likely to be
// withdrawn from.
package predict

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/kavach/internal/geo"
	"github.com/gyaneshwarpardhi/kavach/internal/registry"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

// Defaults for Options.
const (
	DefaultTopK              = 3
	DefaultConfidenceCeiling = 0.90
	DefaultSmoothingKM       = 0.5
	DefaultETAMin            = 15
	DefaultETAMax            = 60
)

// scoreScale is the numerator of the inverse-distance score. It cancels in
// normalisation but keeps raw scores readable.
const scoreScale = 100.0

// Prediction is one ranked cash-out point. ETA is a bounded random
// placeholder, not a routing estimate.
type Prediction struct {
	ID            string  `json:"id"`
	City          string  `json:"city"`
	Location      string  `json:"location"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	Probability   float64 `json:"probability"`
	DistanceKM    float64 `json:"distance_km"`
	EstimatedTime string  `json:"estimated_time"`
	ETAMinutes    int     `json:"eta_minutes"`
}

// ETASource returns a whole number of minutes in [lo, hi).
type ETASource func(lo, hi int) int

func randomETA(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo)
}

type Options struct {
	TopK              int
	ConfidenceCeiling float64
	SmoothingKM       float64
	ETAMin            int
	ETAMax            int
	ETA               ETASource
}

// Predictor scores candidates by inverse distance and normalises the top K
// into a distribution whose mass never exceeds ConfidenceCeiling.
type Predictor struct {
	opts Options
}

// New returns a Predictor; zero option fields take the package defaults.
func New(opts Options) *Predictor {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ConfidenceCeiling <= 0 {
		opts.ConfidenceCeiling = DefaultConfidenceCeiling
	}
	if opts.SmoothingKM <= 0 {
		opts.SmoothingKM = DefaultSmoothingKM
	}
	if opts.ETAMin <= 0 && opts.ETAMax <= 0 {
		opts.ETAMin, opts.ETAMax = DefaultETAMin, DefaultETAMax
	}
	if opts.ETA == nil {
		opts.ETA = randomETA
	}
	return &Predictor{opts: opts}
}

// TopK returns the configured default result size.
func (p *Predictor) TopK() int { return p.opts.TopK }

type scored struct {
	c     registry.Candidate
	dist  float64
	score float64
}

// Predict ranks candidates for tx. topK <= 0 uses the configured default.
// When tx carries a city the candidates are narrowed to it, unless that
// leaves nothing, in which case all candidates are ranked.
func (p *Predictor) Predict(tx txn.Transaction, candidates []registry.Candidate, topK int) []Prediction {
	if topK <= 0 {
		topK = p.opts.TopK
	}
	pool := filterCity(candidates, tx.City)
	if len(pool) == 0 {
		return []Prediction{}
	}

	ranked := make([]scored, len(pool))
	for i, c := range pool {
		d := geo.DistanceKM(tx.Lat, tx.Lng, c.Lat, c.Lng)
		ranked[i] = scored{c: c, dist: d, score: scoreScale / (d + p.opts.SmoothingKM)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	total := 0.0
	for _, r := range ranked {
		total += r.score
	}

	out := make([]Prediction, len(ranked))
	for i, r := range ranked {
		eta := p.opts.ETA(p.opts.ETAMin, p.opts.ETAMax)
		out[i] = Prediction{
			ID:            r.c.ID,
			City:          r.c.City,
			Location:      r.c.Location,
			Lat:           r.c.Lat,
			Lng:           r.c.Lng,
			Probability:   r.score / total * p.opts.ConfidenceCeiling,
			DistanceKM:    math.Round(r.dist*100) / 100,
			EstimatedTime: fmt.Sprintf("%d mins", eta),
			ETAMinutes:    eta,
		}
	}
	return out
}

func filterCity(candidates []registry.Candidate, city string) []registry.Candidate {
	city = strings.TrimSpace(city)
	if city == "" {
		return candidates
	}
	var same []registry.Candidate
	for _, c := range candidates {
		if strings.EqualFold(c.City, city) {
			same = append(same, c)
		}
	}
	if len(same) == 0 {
		return candidates
	}
	return same
}
