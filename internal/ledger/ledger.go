// Package ledger keeps the recent transaction history used for velocity
// features. Entries are indexed by sender and kept in arrival order so the
// oldest can be evicted cheaply.
package ledger

import (
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

// VelocityWindow is the lookback used for the velocity_1h feature.
const VelocityWindow = time.Hour

// Entry is a recorded transaction together with the velocity observed when it
// was inserted (the transaction itself included).
type Entry struct {
	Transaction txn.Transaction `json:"transaction"`
	Velocity    int             `json:"velocity_1h"`
	seq         uint64
}

// Ledger is an append-only, optionally bounded history of transactions.
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	window   time.Duration

	bySender map[string][]Entry
	order    []ref // arrival order; order[head:] is live
	head     int
	seq      uint64
}

type ref struct {
	sender string
	seq    uint64
}

// New returns an empty Ledger. capacity <= 0 means unbounded.
func New(capacity int) *Ledger {
	return &Ledger{
		capacity: capacity,
		window:   VelocityWindow,
		bySender: make(map[string][]Entry),
	}
}

// WithWindow overrides the velocity lookback. Non-positive values are ignored.
func (l *Ledger) WithWindow(w time.Duration) *Ledger {
	if w > 0 {
		l.window = w
	}
	return l
}

// Window returns the velocity lookback.
func (l *Ledger) Window() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.window
}

// Resize changes the velocity lookback and the capacity of a live ledger.
// A non-positive window keeps the current one; capacity 0 means unbounded.
// Shrinking the capacity evicts the oldest entries at once.
func (l *Ledger) Resize(window time.Duration, capacity int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if window > 0 {
		l.window = window
	}
	if capacity < 0 {
		capacity = 0
	}
	l.capacity = capacity
	if l.capacity > 0 {
		for l.liveLocked() > l.capacity {
			l.popOldestLocked()
		}
	}
}

// Record appends tx and returns the entry with its velocity. The count and
// the append happen under the same lock, so no concurrent write is lost.
// Velocity only counts entries at or before tx's own timestamp: concurrent
// writers for one sender see distinct velocities only while their timestamps
// arrive in order.
func (l *Ledger) Record(tx txn.Transaction) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	velocity := l.countSinceLocked(tx.SenderID, tx.Timestamp.Add(-l.window), tx.Timestamp) + 1

	l.seq++
	e := Entry{Transaction: tx, Velocity: velocity, seq: l.seq}
	l.bySender[tx.SenderID] = append(l.bySender[tx.SenderID], e)
	l.order = append(l.order, ref{sender: tx.SenderID, seq: l.seq})

	if l.capacity > 0 {
		for l.liveLocked() > l.capacity {
			l.popOldestLocked()
		}
	}
	return e
}

// CountSince returns how many retained entries of sender have a timestamp at
// or after since.
func (l *Ledger) CountSince(sender string, since time.Time) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.bySender[sender] {
		if !e.Transaction.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

func (l *Ledger) countSinceLocked(sender string, since, until time.Time) int {
	n := 0
	for _, e := range l.bySender[sender] {
		ts := e.Transaction.Timestamp
		if !ts.Before(since) && !ts.After(until) {
			n++
		}
	}
	return n
}

// EvictBefore drops entries from the oldest end while their timestamp is
// before cutoff. It stops at the first newer entry, so out-of-order arrivals
// can stay retained a little longer. Returns the number evicted.
func (l *Ledger) EvictBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for l.liveLocked() > 0 {
		r := l.order[l.head]
		entries := l.bySender[r.sender]
		if len(entries) == 0 || entries[0].seq != r.seq || !entries[0].Transaction.Timestamp.Before(cutoff) {
			break
		}
		l.popOldestLocked()
		n++
	}
	return n
}

// Len returns the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.liveLocked()
}

// Senders returns the number of distinct senders with retained entries.
func (l *Ledger) Senders() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.bySender)
}

// History returns a copy of the sender's retained entries in arrival order.
func (l *Ledger) History(sender string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.bySender[sender]
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

func (l *Ledger) liveLocked() int { return len(l.order) - l.head }

// popOldestLocked removes the earliest-arrived entry. A sender's slice is in
// arrival order, so the oldest global entry is always the head of its slice.
func (l *Ledger) popOldestLocked() {
	r := l.order[l.head]
	l.order[l.head] = ref{}
	l.head++

	entries := l.bySender[r.sender]
	if len(entries) > 0 && entries[0].seq == r.seq {
		entries = entries[1:]
	}
	if len(entries) == 0 {
		delete(l.bySender, r.sender)
	} else {
		l.bySender[r.sender] = entries
	}

	// compact once the dead prefix dominates
	if l.head > 1024 && l.head*2 > len(l.order) {
		live := make([]ref, len(l.order)-l.head)
		copy(live, l.order[l.head:])
		l.order = live
		l.head = 0
	}
}
