package simulate

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/kavach/internal/metrics"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

// DefaultInterval is the mean pause between batches.
const DefaultInterval = 2 * time.Second

// Sink accepts generated transactions without blocking.
type Sink interface {
	ProcessAsync(tx txn.Transaction) bool
}

// Status describes the runner for the API.
type Status struct {
	Running    bool  `json:"running"`
	Generated  int64 `json:"generated"`
	Dropped    int64 `json:"dropped"`
	IntervalMs int64 `json:"interval_ms"`
}

// Runner feeds batches from a Generator into a Sink on a jittered interval
// until stopped.
type Runner struct {
	gen      *Generator
	sink     Sink
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	generated atomic.Int64
	dropped   atomic.Int64
}

func NewRunner(gen *Generator, sink Sink, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{gen: gen, sink: sink, interval: interval, logger: logger}
}

// Start begins generating. It returns false if the runner is already running.
func (r *Runner) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	r.logger.Info("simulation started", "interval", r.interval)
	return true
}

// Stop halts generation and waits for the loop to exit. It returns false if
// the runner was not running.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	r.logger.Info("simulation stopped", "generated", r.generated.Load())
	return true
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	running := r.cancel != nil
	r.mu.Unlock()
	return Status{
		Running:    running,
		Generated:  r.generated.Load(),
		Dropped:    r.dropped.Load(),
		IntervalMs: r.interval.Milliseconds(),
	}
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	// Stop clears the state itself; this covers the parent context ending.
	defer func() {
		r.mu.Lock()
		if r.done == done {
			r.cancel()
			r.cancel, r.done = nil, nil
			r.logger.Info("simulation stopped", "generated", r.generated.Load(), "reason", ctx.Err())
		}
		r.mu.Unlock()
	}()
	timer := time.NewTimer(r.jitter())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.emit()
			timer.Reset(r.jitter())
		}
	}
}

// emit pushes one batch. The generator is only touched from the loop
// goroutine.
func (r *Runner) emit() {
	scenario, batch := r.gen.Next()
	for _, tx := range batch {
		if !r.sink.ProcessAsync(tx) {
			r.dropped.Add(1)
			continue
		}
		r.generated.Add(1)
		metrics.SimulatedTransactions.WithLabelValues(string(scenario)).Inc()
	}
	if scenario != ScenarioNormal {
		r.logger.Debug("simulated fraud batch", "scenario", scenario, "size", len(batch))
	}
}

// jitter spreads ticks uniformly over [0.5, 1.5) × interval.
func (r *Runner) jitter() time.Duration {
	return time.Duration(float64(r.interval) * (0.5 + rand.Float64()))
}
