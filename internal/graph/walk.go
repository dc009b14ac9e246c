package graph

import (
	"sort"
	"time"
)

// AccountView summarises one account's position in the graph.
type AccountView struct {
	ID              string  `json:"id"`
	InDegree        int     `json:"in_degree"`
	OutDegree       int     `json:"out_degree"`
	DistinctSenders int     `json:"distinct_senders"`
	TotalIn         float64 `json:"total_in"`
	TotalOut        float64 `json:"total_out"`
	RecentIn        []Edge  `json:"recent_in,omitempty"`
}

// Account returns a view of id and false when the account is unknown.
// RecentIn holds at most recent incoming edges, newest first.
func (g *Graph) Account(id string, recent int) (AccountView, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return AccountView{}, false
	}
	v := AccountView{ID: id, InDegree: len(n.in), OutDegree: len(n.out)}
	senders := make(map[string]struct{}, len(n.in))
	for _, e := range n.in {
		v.TotalIn += e.Amount
		senders[e.From] = struct{}{}
	}
	for _, e := range n.out {
		v.TotalOut += e.Amount
	}
	v.DistinctSenders = len(senders)

	if recent > 0 && len(n.in) > 0 {
		in := make([]Edge, len(n.in))
		copy(in, n.in)
		sort.SliceStable(in, func(i, j int) bool { return in[i].Timestamp.After(in[j].Timestamp) })
		if len(in) > recent {
			in = in[:recent]
		}
		v.RecentIn = in
	}
	return v, true
}

// FindCycle walks outgoing edges newer than since looking for a path that
// returns to start, e.g. A→B→C→A. It returns the account ids along the first
// cycle found (start repeated at the end) or nil. maxDepth bounds the path
// length in edges.
func (g *Graph) FindCycle(start string, since time.Time, maxDepth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[start]; !ok || maxDepth <= 0 {
		return nil
	}
	visited := map[string]bool{start: true}
	return g.dfs(start, start, since, maxDepth, []string{start}, visited)
}

// dfs extends path from cur; branches that revisit an account other than
// start are pruned.
func (g *Graph) dfs(start, cur string, since time.Time, depth int, path []string, visited map[string]bool) []string {
	if depth == 0 {
		return nil
	}
	for _, e := range g.nodes[cur].out {
		if e.Timestamp.Before(since) {
			continue
		}
		if e.To == start && len(path) > 1 {
			cycle := make([]string, len(path)+1)
			copy(cycle, path)
			cycle[len(path)] = start
			return cycle
		}
		if visited[e.To] {
			continue
		}
		visited[e.To] = true
		if found := g.dfs(start, e.To, since, depth-1, append(path, e.To), visited); found != nil {
			return found
		}
		visited[e.To] = false
	}
	return nil
}
