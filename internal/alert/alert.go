// Package alert fans scored transactions out to the collaborators that watch
// them: the log, the dashboard stream and a redis channel.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/kavach/internal/metrics"
	"github.com/gyaneshwarpardhi/kavach/internal/predict"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

// Kind distinguishes the two event streams.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindAlert       Kind = "alert"
)

const SeverityCritical = "CRITICAL"

// Factors are the two risk components behind a decision.
type Factors struct {
	GraphRisk float64 `json:"graph_risk"`
	AIRisk    float64 `json:"ai_risk"`
}

// Event is emitted once per scored transaction (KindTransaction) and once
// more per flagged transaction (KindAlert).
type Event struct {
	Type          Kind                 `json:"type"`
	ID            string               `json:"id"`
	Timestamp     time.Time            `json:"timestamp"`
	Severity      string               `json:"severity,omitempty"`
	Transaction   txn.Transaction      `json:"transaction"`
	RiskScore     float64              `json:"risk_score"`
	IsFraud       bool                 `json:"is_fraud"`
	Factors       Factors              `json:"factors"`
	PredictedATMs []predict.Prediction `json:"predicted_atms,omitempty"`
}

// Notifier delivers events to one destination.
type Notifier interface {
	// Name is the key the notifier is registered under.
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Dispatcher delivers every event to all registered notifiers.
// Register should only be called at startup.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers []Notifier
	names     map[string]bool
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{names: make(map[string]bool), logger: logger}
}

// Register adds n. Panics on a duplicate name to surface misconfiguration early.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.names[n.Name()] {
		panic(fmt.Sprintf("alert dispatcher: duplicate notifier %q", n.Name()))
	}
	d.names[n.Name()] = true
	d.notifiers = append(d.notifiers, n)
}

// Names returns registered notifier names in registration order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		out[i] = n.Name()
	}
	return out
}

// Dispatch sends ev to every notifier. A failing notifier does not stop the
// others; failures are logged, counted and returned joined.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	d.mu.RLock()
	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.mu.RUnlock()

	var errs []error
	for _, n := range notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			metrics.NotifierErrors.WithLabelValues(n.Name()).Inc()
			d.logger.Warn("notifier failed", "notifier", n.Name(), "event", ev.Type, "txn_id", ev.Transaction.ID, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
