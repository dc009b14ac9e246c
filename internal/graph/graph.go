// Package graph holds the in-memory sender→receiver relationship graph used
// for fan-in burst detection.
package graph

import (
	"sync"
	"time"
)

// Fan-in defaults: more than FanInThreshold incoming edges within
// FanInWindow marks the receiver as a mule.
const (
	FanInWindow    = 10 * time.Minute
	FanInThreshold = 5
)

// Edge is one transaction between two accounts. Parallel edges are kept.
type Edge struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	TxnID     string    `json:"txn_id"`
}

type node struct {
	in  []Edge
	out []Edge
}

// Graph is a directed multigraph keyed by account id.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
	edges int
}

// New allocates an empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddEdge records a transaction from → to, creating nodes as needed. An empty
// receiver only registers the sender.
func (g *Graph) AddEdge(from, to string, amount float64, ts time.Time, txnID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src := g.nodeLocked(from)
	if to == "" {
		return
	}
	dst := g.nodeLocked(to)
	e := Edge{From: from, To: to, Amount: amount, Timestamp: ts, TxnID: txnID}
	src.out = append(src.out, e)
	dst.in = append(dst.in, e)
	g.edges++
}

func (g *Graph) nodeLocked(id string) *node {
	n, ok := g.nodes[id]
	if !ok {
		n = &node{}
		g.nodes[id] = n
	}
	return n
}

// FanInCount counts incoming edges to receiver with timestamp >= now-window.
func (g *Graph) FanInCount(receiver string, now time.Time, window time.Duration) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fanInLocked(receiver, now.Add(-window))
}

func (g *Graph) fanInLocked(receiver string, since time.Time) int {
	n, ok := g.nodes[receiver]
	if !ok {
		return 0
	}
	count := 0
	for _, e := range n.in {
		if !e.Timestamp.Before(since) {
			count++
		}
	}
	return count
}

// FanInRisk is a step function: 1.0 when more than threshold edges reached
// receiver within the window, otherwise 0.0. Unknown receivers score 0.0.
func (g *Graph) FanInRisk(receiver string, now time.Time, window time.Duration, threshold int) float64 {
	if g.FanInCount(receiver, now, window) > threshold {
		return 1.0
	}
	return 0.0
}

// Has reports whether id is a known account.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Stats returns node and edge counts.
func (g *Graph) Stats() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), g.edges
}

// PruneBefore drops edges older than cutoff and any node left without edges.
// Returns the number of edges removed.
func (g *Graph) PruneBefore(cutoff time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, n := range g.nodes {
		var dropped int
		n.in, dropped = keepSince(n.in, cutoff)
		removed += dropped
		n.out, _ = keepSince(n.out, cutoff)
		if len(n.in) == 0 && len(n.out) == 0 {
			delete(g.nodes, id)
		}
	}
	g.edges -= removed
	return removed
}

func keepSince(edges []Edge, cutoff time.Time) ([]Edge, int) {
	kept := edges[:0]
	for _, e := range edges {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	dropped := len(edges) - len(kept)
	clear(edges[len(kept):])
	return kept, dropped
}
