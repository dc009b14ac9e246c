package engine

import (
	"context"
	"math"
	"time"

	"github.com/gyaneshwarpardhi/kavach/internal/graph"
	"github.com/gyaneshwarpardhi/kavach/internal/metrics"
)

// cycleDepth bounds the circular-flow search in account views.
const cycleDepth = 4

// Stats are the dashboard counters.
type Stats struct {
	TotalTransactions  int64   `json:"total_transactions"`
	ThreatsIntercepted int64   `json:"threats_intercepted"`
	AmountIntercepted  float64 `json:"amount_intercepted"` // INR, 2dp
	BlockedSenders     int     `json:"blocked_senders"`
	FraudRate          float64 `json:"fraud_rate"` // percent, 2dp
	LedgerSize         int     `json:"ledger_size"`
	GraphNodes         int     `json:"graph_nodes"`
	GraphEdges         int     `json:"graph_edges"`
	QueueUtilization   float64 `json:"queue_utilization"`
	Strategy           string  `json:"strategy"`
}

func (e *Engine) Stats() Stats {
	total, flagged := e.total.Load(), e.flagged.Load()
	nodes, edges := e.graph.Stats()
	s := Stats{
		TotalTransactions:  total,
		ThreatsIntercepted: flagged,
		LedgerSize:         e.ledger.Len(),
		GraphNodes:         nodes,
		GraphEdges:         edges,
		QueueUtilization:   e.QueueUtilization(),
		Strategy:           e.scoring.Load().Adapter.Strategy(),
	}
	e.interceptMu.Lock()
	s.AmountIntercepted = math.Round(e.intercepted*100) / 100
	s.BlockedSenders = len(e.blocked)
	e.interceptMu.Unlock()
	if total > 0 {
		s.FraudRate = math.Round(float64(flagged)/float64(total)*100*100) / 100
	}
	return s
}

// Account is what the engine knows about one account right now.
type Account struct {
	graph.AccountView
	Velocity     int      `json:"velocity_1h"`
	FanIn        int      `json:"fan_in"`
	FanInRisk    float64  `json:"fan_in_risk"`
	CircularFlow []string `json:"circular_flow,omitempty"`
}

// Account returns the graph position, current velocity, fan-in and any
// circular flow through id. recent bounds the incoming edges listed.
func (e *Engine) Account(id string, recent int) (Account, bool) {
	view, ok := e.graph.Account(id, recent)
	if !ok {
		return Account{}, false
	}
	sc := e.scoring.Load()
	now := e.now()
	return Account{
		AccountView:  view,
		Velocity:     e.ledger.CountSince(id, now.Add(-e.ledger.Window())),
		FanIn:        e.graph.FanInCount(id, now, sc.FanInWindow),
		FanInRisk:    e.graph.FanInRisk(id, now, sc.FanInWindow, sc.FanInThreshold),
		CircularFlow: e.graph.FindCycle(id, now.Add(-e.ledger.Window()), cycleDepth),
	}, true
}

// Evict drops ledger entries and graph edges older than cutoff. It runs under
// the ingest lock so scoring never sees a half-pruned state.
func (e *Engine) Evict(cutoff time.Time) (entries, edges int) {
	e.ingestMu.Lock()
	entries = e.ledger.EvictBefore(cutoff)
	edges = e.graph.PruneBefore(cutoff)
	e.ingestMu.Unlock()

	metrics.LedgerSize.Set(float64(e.ledger.Len()))
	_, n := e.graph.Stats()
	metrics.GraphEdges.Set(float64(n))
	return entries, edges
}

// RunJanitor evicts history older than retention every interval until ctx is
// done. A non-positive interval returns immediately.
func (e *Engine) RunJanitor(ctx context.Context, every, retention time.Duration) {
	if every <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, edges := e.Evict(e.now().Add(-retention))
			if entries > 0 || edges > 0 {
				e.logger.Debug("janitor evicted history", "entries", entries, "edges", edges)
			}
		}
	}
}
