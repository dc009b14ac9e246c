package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/kavach/internal/predict"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

func alertEvent() Event {
	return Event{
		Type:        KindAlert,
		ID:          "a-1",
		Timestamp:   time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
		Severity:    SeverityCritical,
		Transaction: txn.Transaction{ID: "t-1", SenderID: "s", ReceiverID: "mule", Amount: 45000},
		RiskScore:   1,
		IsFraud:     true,
		Factors:     Factors{GraphRisk: 1, AIRisk: 0.4},
		PredictedATMs: []predict.Prediction{
			{ID: "DEL-001", Probability: 0.6},
		},
	}
}

type fakeNotifier struct {
	name string
	err  error
	got  []Event
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, ev Event) error {
	f.got = append(f.got, ev)
	return f.err
}

func TestDispatcher_DeliversToAllDespiteFailures(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(slog.New(slog.NewTextHandler(&buf, nil)))
	bad := &fakeNotifier{name: "bad", err: errors.New("down")}
	good := &fakeNotifier{name: "good"}
	d.Register(bad)
	d.Register(good)

	err := d.Dispatch(context.Background(), alertEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, bad.got, 1)
	assert.Len(t, good.got, 1)
	assert.Contains(t, buf.String(), "notifier failed")
	assert.Equal(t, []string{"bad", "good"}, d.Names())
}

func TestDispatcher_DuplicatePanics(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&fakeNotifier{name: "x"})
	assert.Panics(t, func() { d.Register(&fakeNotifier{name: "x"}) })
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	require.NoError(t, n.Notify(context.Background(), alertEvent()))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "fraud alert")
	assert.Contains(t, buf.String(), "DEL-001")

	buf.Reset()
	ev := alertEvent()
	ev.Type = KindTransaction
	require.NoError(t, n.Notify(context.Background(), ev))
	assert.Contains(t, buf.String(), "level=DEBUG")
}

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisNotifier_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := NewRedisNotifier(pub, "kavach:alerts", false)
	require.NoError(t, n.Notify(context.Background(), alertEvent()))
	assert.Equal(t, "kavach:alerts", pub.channel)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &decoded))
	assert.Equal(t, "alert", decoded["type"])
	assert.Equal(t, "CRITICAL", decoded["severity"])
	assert.Equal(t, "a-1", decoded["id"])
	assert.Len(t, decoded["predicted_atms"], 1)
}

func TestRedisNotifier_AlertsOnlyAndErrors(t *testing.T) {
	pub := &fakePublisher{}
	n := NewRedisNotifier(pub, "c", true)
	ev := alertEvent()
	ev.Type = KindTransaction
	require.NoError(t, n.Notify(context.Background(), ev))
	assert.Empty(t, pub.channel)

	pub.err = errors.New("connection refused")
	err := n.Notify(context.Background(), alertEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRecorder_RingNewestFirst(t *testing.T) {
	r := NewRecorder(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		ev := alertEvent()
		ev.ID = id
		require.NoError(t, r.Notify(context.Background(), ev))
	}
	ev := alertEvent()
	ev.Type = KindTransaction
	require.NoError(t, r.Notify(context.Background(), ev))

	got := r.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "b", got[2].ID)
	assert.Len(t, r.Recent(2), 2)
	assert.Equal(t, int64(4), r.Total())
	assert.Empty(t, NewRecorder(5).Recent(10))
}
