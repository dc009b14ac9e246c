package txn

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func validInput() Input {
	return Input{
		TxnID:      "t-1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Amount:     1200.5,
		Timestamp:  "2025-03-14T08:00:00Z",
		Lat:        28.61,
		Lng:        77.21,
		DeviceID:   "Pixel6_123",
		City:       "Delhi",
	}
}

func TestNormalize_Valid(t *testing.T) {
	n, err := validInput().Normalize(fixedNow)
	require.NoError(t, err)
	assert.False(t, n.TimestampFallback)
	assert.False(t, n.GeneratedID)
	assert.Equal(t, "t-1", n.Transaction.ID)
	assert.Equal(t, time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), n.Transaction.Timestamp)
	assert.Equal(t, "Delhi", n.Transaction.City)
}

func TestNormalize_TimestampFallback(t *testing.T) {
	for _, ts := range []string{"", "yesterday", "2025-13-45T99:00:00", "14/03/2025"} {
		in := validInput()
		in.Timestamp = ts
		n, err := in.Normalize(fixedNow)
		require.NoError(t, err, "timestamp %q", ts)
		assert.True(t, n.TimestampFallback, "timestamp %q", ts)
		assert.Equal(t, fixedNow, n.Transaction.Timestamp)
	}
}

func TestNormalize_TimestampLayouts(t *testing.T) {
	cases := map[string]time.Time{
		"2025-03-14T08:00:00+05:30":  time.Date(2025, 3, 14, 8, 0, 0, 0, time.FixedZone("", 19800)),
		"2025-03-14T08:00:00.123456": time.Date(2025, 3, 14, 8, 0, 0, 123456000, time.UTC),
		"2025-03-14 08:00:00":        time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC),
		"2025-03-14T08:00":           time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC),
		"2025-03-14T08:00:00.5Z":     time.Date(2025, 3, 14, 8, 0, 0, 500000000, time.UTC),
	}
	for raw, want := range cases {
		got, ok := ParseTimestamp(raw)
		require.True(t, ok, raw)
		assert.True(t, want.Equal(got), "%s: want %v got %v", raw, want, got)
	}
}

func TestNormalize_GeneratesID(t *testing.T) {
	in := validInput()
	in.TxnID = "  "
	n, err := in.Normalize(fixedNow)
	require.NoError(t, err)
	assert.True(t, n.GeneratedID)
	assert.Len(t, n.Transaction.ID, 36)
}

func TestNormalize_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Input)
		want   error
	}{
		{"missing sender", func(in *Input) { in.SenderID = "" }, ErrMissingSender},
		{"zero amount", func(in *Input) { in.Amount = 0 }, ErrInvalidAmount},
		{"negative amount", func(in *Input) { in.Amount = -5 }, ErrInvalidAmount},
		{"nan amount", func(in *Input) { in.Amount = math.NaN() }, ErrInvalidAmount},
		{"bad lat", func(in *Input) { in.Lat = 91 }, ErrInvalidCoordinate},
		{"bad lng", func(in *Input) { in.Lng = -181 }, ErrInvalidCoordinate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := in.Normalize(fixedNow)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestToInput_RoundTrip(t *testing.T) {
	n, err := validInput().Normalize(fixedNow)
	require.NoError(t, err)
	back, err := n.Transaction.ToInput().Normalize(fixedNow)
	require.NoError(t, err)
	assert.Equal(t, n.Transaction.ID, back.Transaction.ID)
	assert.True(t, n.Transaction.Timestamp.Equal(back.Transaction.Timestamp))
}
