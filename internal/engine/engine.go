// Package engine turns each incoming transaction into a fraud decision: it
// records the transaction, reads the velocity and fan-in features, asks the
// model for a risk score and emits the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/gyaneshwarpardhi/kavach/internal/alert"
	"github.com/gyaneshwarpardhi/kavach/internal/config"
	"github.com/gyaneshwarpardhi/kavach/internal/graph"
	"github.com/gyaneshwarpardhi/kavach/internal/ledger"
	"github.com/gyaneshwarpardhi/kavach/internal/metrics"
	"github.com/gyaneshwarpardhi/kavach/internal/predict"
	"github.com/gyaneshwarpardhi/kavach/internal/registry"
	"github.com/gyaneshwarpardhi/kavach/internal/risk"
	"github.com/gyaneshwarpardhi/kavach/internal/traces"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

var (
	ErrQueueFull = errors.New("transaction queue full")
	ErrTimeout   = errors.New("transaction processing timeout")
)

// Status is the terminal state of a processed transaction.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// Result is the outcome of scoring one transaction.
type Result struct {
	TxnID         string               `json:"txn_id"`
	RiskScore     float64              `json:"risk_score"`
	IsFraud       bool                 `json:"is_fraud"`
	Factors       alert.Factors        `json:"factors"`
	PredictedATMs []predict.Prediction `json:"predicted_atms,omitempty"`
	Velocity      int                  `json:"velocity_1h"`
	Strategy      string               `json:"strategy"`
	Fallback      bool                 `json:"fallback,omitempty"`
	RulesFired    []string             `json:"rules_fired,omitempty"`
	Status        Status               `json:"status"`
	Error         string               `json:"error,omitempty"`
	DurationMs    int64                `json:"duration_ms"`
}

// Deps are the collaborators an Engine scores against. Ledger, Graph,
// Predictor and Registry default to fresh instances; Dispatcher defaults to
// one with no notifiers.
type Deps struct {
	Ledger     *ledger.Ledger
	Graph      *graph.Graph
	Predictor  *predict.Predictor
	Registry   *registry.Registry
	Dispatcher *alert.Dispatcher
	Scoring    *Scoring
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Engine scores transactions on a bounded worker pool.
type Engine struct {
	// ingestMu makes the ledger append, graph insert and feature read one
	// step, so two concurrent transactions never see each other half-applied.
	ingestMu sync.Mutex

	ledger     *ledger.Ledger
	graph      *graph.Graph
	predictor  *predict.Predictor
	registry   *registry.Registry
	dispatcher *alert.Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	scoring atomic.Pointer[Scoring]
	pool    *workerPool[txn.Transaction, *Result]
	conf    config.EngineConf

	total   atomic.Int64
	flagged atomic.Int64

	interceptMu sync.Mutex
	intercepted float64             // summed amount of flagged transactions
	blocked     map[string]struct{} // senders with at least one flagged transaction
}

// New creates an Engine and starts its workers. Workers stop when ctx is
// cancelled or Shutdown is called.
func New(ctx context.Context, deps Deps, conf config.EngineConf) *Engine {
	if deps.Ledger == nil {
		deps.Ledger = ledger.New(0)
	}
	if deps.Graph == nil {
		deps.Graph = graph.New()
	}
	if deps.Predictor == nil {
		deps.Predictor = predict.New(predict.Options{})
	}
	if deps.Registry == nil {
		deps.Registry = registry.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = alert.NewDispatcher(deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Scoring == nil {
		deps.Scoring = &Scoring{}
	}

	e := &Engine{
		ledger:     deps.Ledger,
		graph:      deps.Graph,
		predictor:  deps.Predictor,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Clock,
		conf:       conf,
		blocked:    make(map[string]struct{}),
	}
	e.scoring.Store(deps.Scoring.withDefaults())
	e.pool = newWorkerPool(ctx, conf.Workers, conf.QueueDepth, e.Process)
	return e
}

// SwapScoring atomically replaces the scoring settings (used on hot-reload).
// Transactions already past the feature read finish with the old settings.
func (e *Engine) SwapScoring(s *Scoring) {
	if s == nil {
		return
	}
	cur := s.withDefaults()
	e.scoring.Store(cur)
	e.logger.Info("scoring settings swapped", "strategy", cur.Adapter.Strategy(), "threshold", cur.Threshold)
}

// Scoring returns the settings currently in use.
func (e *Engine) Scoring() *Scoring { return e.scoring.Load() }

// Predictor returns the cash-out predictor currently in use.
func (e *Engine) Predictor() *predict.Predictor {
	return e.predictorFor(e.scoring.Load())
}

func (e *Engine) predictorFor(sc *Scoring) *predict.Predictor {
	if sc.Predictor != nil {
		return sc.Predictor
	}
	return e.predictor
}

// ResizeHistory changes the velocity window and ledger capacity in place.
// Transactions already ingested keep the velocity they were scored with.
func (e *Engine) ResizeHistory(window time.Duration, capacity int) {
	e.ingestMu.Lock()
	e.ledger.Resize(window, capacity)
	e.ingestMu.Unlock()
	metrics.LedgerSize.Set(float64(e.ledger.Len()))
	e.logger.Info("ledger resized", "velocity_window", e.ledger.Window(), "capacity", capacity)
}

// ProcessSync queues tx and waits for its result. It fails with ErrQueueFull
// when the queue has no room and ErrTimeout when the result takes longer than
// the configured process timeout.
func (e *Engine) ProcessSync(ctx context.Context, tx txn.Transaction) (*Result, error) {
	reply := make(chan *Result, 1)
	if !e.pool.Submit(ctx, tx, reply) {
		metrics.TransactionsDropped.Inc()
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}
	metrics.TransactionsEnqueued.Inc()
	e.observeQueue()

	timeout := time.Duration(e.conf.ProcessTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync queues tx for background scoring. Returns false if the queue
// is full.
func (e *Engine) ProcessAsync(tx txn.Transaction) bool {
	if !e.pool.Submit(context.Background(), tx, nil) {
		metrics.TransactionsDropped.Inc()
		return false
	}
	metrics.TransactionsEnqueued.Inc()
	e.observeQueue()
	return true
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

func (e *Engine) observeQueue() {
	metrics.QueueUtilization.Set(e.QueueUtilization())
}

// Process scores tx on the calling goroutine. It always returns a result;
// failures after ingestion are reported as StatusError and the ledger and
// graph keep the transaction.
func (e *Engine) Process(ctx context.Context, tx txn.Transaction) (res *Result) {
	start := time.Now()
	sc := e.scoring.Load()

	ctx, span := traces.StartSpan(ctx, "engine.process", traces.TxnID(tx.ID), traces.Sender(tx.SenderID))
	defer span.End()

	res = &Result{TxnID: tx.ID, Status: StatusCompleted}
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusError
			res.Error = fmt.Sprintf("scoring failed: %v", r)
			span.SetStatus(codes.Error, res.Error)
			e.logger.Error("transaction scoring panicked", "txn_id", tx.ID, "panic", r)
		}
		res.DurationMs = time.Since(start).Milliseconds()
		metrics.TransactionsProcessed.WithLabelValues(string(res.Status)).Inc()
		metrics.ProcessingDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	entry, graphRisk := e.ingest(tx, sc)
	res.Velocity = entry.Velocity

	a := sc.Adapter.Score(ctx, tx, risk.Features{Velocity1h: entry.Velocity})
	res.Factors = alert.Factors{GraphRisk: graphRisk, AIRisk: a.Score}
	res.Strategy = a.Strategy
	res.Fallback = a.Fallback
	res.RulesFired = a.RulesFired

	res.RiskScore = math.Max(graphRisk, a.Score)
	res.IsFraud = res.RiskScore > sc.Threshold
	span.SetAttributes(traces.Score(res.RiskScore), traces.Strategy(a.Strategy))

	if res.IsFraud {
		e.intercept(tx)
		metrics.FraudFlagged.Inc()
		res.PredictedATMs = e.predictorFor(sc).Predict(tx, e.registry.All(), sc.TopK)
	}

	e.emit(ctx, tx, res)
	return res
}

// ingest records tx and reads its features under one lock.
func (e *Engine) ingest(tx txn.Transaction, sc *Scoring) (ledger.Entry, float64) {
	var (
		entry     ledger.Entry
		graphRisk float64
	)
	func() {
		e.ingestMu.Lock()
		defer e.ingestMu.Unlock()
		entry = e.ledger.Record(tx)
		e.graph.AddEdge(tx.SenderID, tx.ReceiverID, tx.Amount, tx.Timestamp, tx.ID)
		if tx.ReceiverID != "" {
			graphRisk = e.graph.FanInRisk(tx.ReceiverID, tx.Timestamp, sc.FanInWindow, sc.FanInThreshold)
		}
	}()

	e.total.Add(1)
	metrics.LedgerSize.Set(float64(e.ledger.Len()))
	_, edges := e.graph.Stats()
	metrics.GraphEdges.Set(float64(edges))
	return entry, graphRisk
}

func (e *Engine) intercept(tx txn.Transaction) {
	e.interceptMu.Lock()
	e.intercepted += tx.Amount
	e.blocked[tx.SenderID] = struct{}{}
	e.interceptMu.Unlock()
	e.flagged.Add(1)
}

func (e *Engine) emit(ctx context.Context, tx txn.Transaction, res *Result) {
	ev := alert.Event{
		Type:          alert.KindTransaction,
		ID:            tx.ID,
		Timestamp:     e.now(),
		Transaction:   tx,
		RiskScore:     res.RiskScore,
		IsFraud:       res.IsFraud,
		Factors:       res.Factors,
		PredictedATMs: res.PredictedATMs,
	}
	// notifier failures are logged and counted by the dispatcher
	_ = e.dispatcher.Dispatch(ctx, ev)

	if !res.IsFraud {
		return
	}
	ev.Type = alert.KindAlert
	ev.ID = uuid.NewString()
	ev.Severity = alert.SeverityCritical
	_ = e.dispatcher.Dispatch(ctx, ev)
}

// Shutdown stops accepting work and waits for queued transactions.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
