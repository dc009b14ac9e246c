// Package risk turns a transaction and its derived features into a model
// fraud probability, falling back to weighted rules when no classifier is
// available or the classifier misbehaves.
package risk

import (
	"math"

	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

// Feature column names, in the order the offline model was trained with.
const (
	ColAmount       = "amount"
	ColAmountLog    = "amount_log"
	ColHourOfDay    = "hour_of_day"
	ColVelocity1h   = "velocity_1h"
	ColGeoClusterID = "geo_cluster_id"
	ColLat          = "lat"
	ColLng          = "lng"
)

// DefaultColumns is the training column order, used when no columns
// artifact is present.
var DefaultColumns = []string{
	ColAmount, ColAmountLog, ColHourOfDay, ColVelocity1h, ColGeoClusterID, ColLat, ColLng,
}

// Documented defaults for features that are missing at scoring time.
// Live points are never re-clustered, so every streaming prediction uses
// DefaultGeoClusterID.
const (
	DefaultVelocity     = 1
	DefaultGeoClusterID = 0
)

// Features are the values derived outside the transaction itself.
type Features struct {
	Velocity1h   int
	GeoClusterID int
}

func (f Features) withDefaults() Features {
	if f.Velocity1h <= 0 {
		f.Velocity1h = DefaultVelocity
	}
	if f.GeoClusterID < 0 {
		f.GeoClusterID = DefaultGeoClusterID
	}
	return f
}

// Vector builds the named feature map for tx.
func Vector(tx txn.Transaction, f Features) map[string]float64 {
	f = f.withDefaults()
	return map[string]float64{
		ColAmount:       tx.Amount,
		ColAmountLog:    math.Log1p(tx.Amount),
		ColHourOfDay:    float64(tx.Timestamp.Hour()),
		ColVelocity1h:   float64(f.Velocity1h),
		ColGeoClusterID: float64(f.GeoClusterID),
		ColLat:          tx.Lat,
		ColLng:          tx.Lng,
	}
}

// Reindex lays vec out in columns order. Columns the vector does not know
// are filled with 0.
func Reindex(vec map[string]float64, columns []string) []float64 {
	out := make([]float64, len(columns))
	for i, c := range columns {
		out[i] = vec[c]
	}
	return out
}
