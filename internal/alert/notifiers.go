package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// LogNotifier writes alerts at warn level and ordinary results at debug.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, ev Event) error {
	tx := ev.Transaction
	if ev.Type == KindAlert {
		atms := make([]string, len(ev.PredictedATMs))
		for i, p := range ev.PredictedATMs {
			atms[i] = p.ID
		}
		l.logger.WarnContext(ctx, "fraud alert",
			"alert_id", ev.ID, "txn_id", tx.ID, "sender", tx.SenderID, "receiver", tx.ReceiverID,
			"amount", tx.Amount, "risk_score", ev.RiskScore, "graph_risk", ev.Factors.GraphRisk,
			"ai_risk", ev.Factors.AIRisk, "predicted_atms", atms)
		return nil
	}
	l.logger.DebugContext(ctx, "transaction scored",
		"txn_id", tx.ID, "sender", tx.SenderID, "receiver", tx.ReceiverID,
		"amount", tx.Amount, "risk_score", ev.RiskScore, "is_fraud", ev.IsFraud)
	return nil
}

// Publisher is the slice of the redis client RedisNotifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewRedisClient builds a client from connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisNotifier publishes events as JSON to channel. With alertsOnly set,
// ordinary transaction results are skipped.
type RedisNotifier struct {
	client     Publisher
	channel    string
	alertsOnly bool
}

func NewRedisNotifier(client Publisher, channel string, alertsOnly bool) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, alertsOnly: alertsOnly}
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	if r.alertsOnly && ev.Type != KindAlert {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Recorder keeps the most recent alerts in memory for the API.
type Recorder struct {
	mu    sync.RWMutex
	buf   []Event
	next  int
	full  bool
	total int64
}

// NewRecorder keeps up to size alerts. size <= 0 keeps 100.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 100
	}
	return &Recorder{buf: make([]Event, size)}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	if ev.Type != KindAlert {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	return nil
}

// Recent returns up to limit alerts, newest first. limit <= 0 returns all
// retained alerts.
func (r *Recorder) Recent(limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Total is the number of alerts ever recorded.
func (r *Recorder) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
