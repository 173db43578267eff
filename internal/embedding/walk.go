package embedding

import "math/rand"

// WalkParams configures the biased second-order random walk. With
// ReturnParam=InOutParam=1 this degenerates to a plain weighted
// DeepWalk.
type WalkParams struct {
	Length       int
	PerNode      int
	ReturnParam  float64 // p: the weight back to the previous node is divided by p (larger p, fewer immediate returns)
	InOutParam   float64 // q: weights to nodes not adjacent to the previous node are divided by q (larger q, more local walks)
}

// GenerateWalks runs PerNode walks of Length steps from every node in
// g, returning the corpus for skip-gram training. A node with no
// outgoing edges yields walks of length 1 (itself only) rather than
// being skipped, so it still receives a (trivial) training signal.
func GenerateWalks(g *Graph, params WalkParams, rng *rand.Rand) [][]int64 {
	nodes := g.Nodes()
	walks := make([][]int64, 0, len(nodes)*params.PerNode)
	for _, start := range nodes {
		for i := 0; i < params.PerNode; i++ {
			walks = append(walks, walkFrom(g, start, params, rng))
		}
	}
	return walks
}

func walkFrom(g *Graph, start int64, params WalkParams, rng *rand.Rand) []int64 {
	walk := make([]int64, 1, params.Length)
	walk[0] = start

	var prev int64 = -1
	hasPrev := false
	current := start

	for len(walk) < params.Length {
		nbrs := g.Neighbors(current)
		if len(nbrs) == 0 {
			break
		}

		var next int64
		if !hasPrev {
			next = weightedChoice(nbrs, rng)
		} else {
			next = biasedChoice(g, prev, current, nbrs, params, rng)
		}

		walk = append(walk, next)
		prev = current
		hasPrev = true
		current = next
	}
	return walk
}

// weightedChoice picks a neighbor with probability proportional to
// edge weight.
func weightedChoice(nbrs map[int64]float64, rng *rand.Rand) int64 {
	var total float64
	for _, w := range nbrs {
		total += w
	}
	if total <= 0 {
		return anyKey(nbrs)
	}

	target := rng.Float64() * total
	var acc float64
	for n, w := range nbrs {
		acc += w
		if acc >= target {
			return n
		}
	}
	return anyKey(nbrs)
}

// biasedChoice applies the node2vec second-order transition bias: the
// edge weight to the previous node is divided by p, edges to common
// neighbors of prev and current keep their weight, and edges to nodes
// unreachable from prev within one hop are divided by q.
func biasedChoice(g *Graph, prev, current int64, nbrs map[int64]float64, params WalkParams, rng *rand.Rand) int64 {
	prevNbrs := g.Neighbors(prev)

	type candidate struct {
		node   int64
		weight float64
	}
	candidates := make([]candidate, 0, len(nbrs))
	var total float64
	for n, w := range nbrs {
		bias := 1.0
		switch {
		case n == prev:
			bias = 1.0 / params.ReturnParam
		default:
			if _, isCommon := prevNbrs[n]; !isCommon {
				bias = 1.0 / params.InOutParam
			}
		}
		biased := w * bias
		candidates = append(candidates, candidate{n, biased})
		total += biased
	}

	if total <= 0 {
		return anyKey(nbrs)
	}
	target := rng.Float64() * total
	var acc float64
	for _, c := range candidates {
		acc += c.weight
		if acc >= target {
			return c.node
		}
	}
	return candidates[len(candidates)-1].node
}

func anyKey(m map[int64]float64) int64 {
	for k := range m {
		return k
	}
	return 0
}
