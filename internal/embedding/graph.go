// Package embedding builds the node2vec-style graph embedding the
// AnnIndex is populated from: a directed, weighted interaction graph
// constructed from likes, walked with biased second-order random
// walks, and trained with a skip-gram objective.
package embedding

import "github.com/lyncup/matchcore/internal/likes"

// Graph is a directed, weighted adjacency list keyed by user id, built
// the same way regardless of how many edges each user has — a
// zero-like user with no outgoing or incoming edges simply never
// appears as a key.
type Graph struct {
	adjacency map[int64]map[int64]float64
}

// edgeKey identifies a directed edge for reverse-direction lookups
// during reciprocal synthesis.
type edgeKey struct{ from, to int64 }

// BuildGraph sums duplicate forward edges, then for every forward edge
// (u,v) with no original (v,u) edge, synthesizes a reciprocal (v,u) at
// weight w*reciprocalWeight. The synthesis check is against the
// original edge set only — a synthetic edge added earlier in the same
// pass never blocks a later synthetic edge, and an original edge with
// weight zero still blocks synthesis of its reverse.
func BuildGraph(edges []likes.Edge, reciprocalWeight float64) *Graph {
	g := &Graph{adjacency: make(map[int64]map[int64]float64)}
	original := make(map[edgeKey]struct{}, len(edges))

	for _, e := range edges {
		g.addEdge(e.UserFrom, e.UserTo, e.LikeCount)
		original[edgeKey{e.UserFrom, e.UserTo}] = struct{}{}
	}

	// Snapshot forward edges before mutating the graph with synthetic
	// reciprocals, so synthesis decisions are made against the
	// original data only.
	type forward struct {
		from, to int64
		weight   float64
	}
	var forwards []forward
	for u, nbrs := range g.adjacency {
		for v, w := range nbrs {
			forwards = append(forwards, forward{u, v, w})
		}
	}

	for _, f := range forwards {
		if _, hasReverse := original[edgeKey{f.to, f.from}]; hasReverse {
			continue
		}
		g.addEdge(f.to, f.from, f.weight*reciprocalWeight)
	}

	return g
}

func (g *Graph) addEdge(from, to int64, weight float64) {
	nbrs, ok := g.adjacency[from]
	if !ok {
		nbrs = make(map[int64]float64)
		g.adjacency[from] = nbrs
	}
	nbrs[to] += weight
	if _, ok := g.adjacency[to]; !ok {
		g.adjacency[to] = make(map[int64]float64)
	}
}

// Nodes returns every user id that appears as an edge endpoint, in no
// particular order.
func (g *Graph) Nodes() []int64 {
	nodes := make([]int64, 0, len(g.adjacency))
	for n := range g.adjacency {
		nodes = append(nodes, n)
	}
	return nodes
}

// Neighbors returns node's outgoing (to, weight) pairs.
func (g *Graph) Neighbors(node int64) map[int64]float64 {
	return g.adjacency[node]
}

// EdgeCount returns the total number of directed edges, including
// synthesized reciprocals.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, nbrs := range g.adjacency {
		n += len(nbrs)
	}
	return n
}
