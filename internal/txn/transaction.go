package txn

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingSender     = errors.New("sender_id is required")
	ErrInvalidAmount     = errors.New("amount must be a positive number")
	ErrInvalidCoordinate = errors.New("lat/lng outside WGS84 range")
)

// Transaction is the canonical, immutable model scored by the engine.
type Transaction struct {
	ID         string    `json:"txn_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	DeviceID   string    `json:"device_id,omitempty"`
	City       string    `json:"city,omitempty"`
	Merchant   string    `json:"merchant,omitempty"`
}

// Input is the wire form accepted from producers. Timestamp stays a string so
// a malformed value can be recovered instead of failing the whole decode.
type Input struct {
	TxnID      string  `json:"txn_id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID string  `json:"receiver_id"`
	Amount     float64 `json:"amount"`
	Timestamp  string  `json:"timestamp"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DeviceID   string  `json:"device_id"`
	City       string  `json:"city,omitempty"`
	Merchant   string  `json:"merchant,omitempty"`
}

// Normalized is the outcome of Input.Normalize.
type Normalized struct {
	Transaction       Transaction
	TimestampFallback bool // timestamp was missing or malformed and replaced with now
	GeneratedID       bool
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseTimestamp parses the ISO-8601 shapes producers send (with or without
// zone, 'T' or space separated).
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Normalize validates the input and converts it to a Transaction.
// Recoverable defects (missing id, bad timestamp) are fixed with defaults.
func (in Input) Normalize(now time.Time) (Normalized, error) {
	var out Normalized

	sender := strings.TrimSpace(in.SenderID)
	if sender == "" {
		return out, ErrMissingSender
	}
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount <= 0 {
		return out, fmt.Errorf("%w: got %v", ErrInvalidAmount, in.Amount)
	}
	if math.Abs(in.Lat) > 90 || math.Abs(in.Lng) > 180 {
		return out, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, in.Lat, in.Lng)
	}

	id := strings.TrimSpace(in.TxnID)
	if id == "" {
		id = uuid.New().String()
		out.GeneratedID = true
	}

	ts, ok := ParseTimestamp(in.Timestamp)
	if !ok {
		ts = now
		out.TimestampFallback = true
	}

	out.Transaction = Transaction{
		ID:         id,
		SenderID:   sender,
		ReceiverID: strings.TrimSpace(in.ReceiverID),
		Amount:     in.Amount,
		Timestamp:  ts,
		Lat:        in.Lat,
		Lng:        in.Lng,
		DeviceID:   in.DeviceID,
		City:       strings.TrimSpace(in.City),
		Merchant:   in.Merchant,
	}
	return out, nil
}

// ToInput renders a Transaction back into wire form.
func (t Transaction) ToInput() Input {
	return Input{
		TxnID:      t.ID,
		SenderID:   t.SenderID,
		ReceiverID: t.ReceiverID,
		Amount:     t.Amount,
		Timestamp:  t.Timestamp.Format(time.RFC3339Nano),
		Lat:        t.Lat,
		Lng:        t.Lng,
		DeviceID:   t.DeviceID,
		City:       t.City,
		Merchant:   t.Merchant,
	}
}
