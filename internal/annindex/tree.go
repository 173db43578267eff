package annindex

import "math/rand"

// treeNode is either a leaf holding a small bucket of slots, or an
// internal split defined by a random hyperplane through the origin
// (its normal only, no offset): slots on the non-negative side of the
// plane route left, the rest route right. This is the same random-projection strategy Annoy uses for
// angular trees; it is re-derived here rather than imported since no
// Go ANN library appears anywhere in the corpus.
type treeNode struct {
	leaf   []int
	normal []float32
	left   *treeNode
	right  *treeNode
}

const leafSize = 10

// buildTree recursively partitions slots by random hyperplanes until
// each leaf holds leafSize or fewer members, except where a split
// degenerates: that node becomes a leaf of whatever size it has.
func buildTree(vectors [][]float32, slots []int, rng *rand.Rand) *treeNode {
	if len(slots) <= leafSize {
		leaf := make([]int, len(slots))
		copy(leaf, slots)
		return &treeNode{leaf: leaf}
	}

	a, b := slots[rng.Intn(len(slots))], slots[rng.Intn(len(slots))]
	normal := make([]float32, len(vectors[a]))
	for i := range normal {
		normal[i] = vectors[a][i] - vectors[b][i]
	}

	var left, right []int
	for _, s := range slots {
		if dot(vectors[s], normal) >= 0 {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	// A degenerate split (every vector identical, or a==b) would
	// recurse forever; fall back to a leaf.
	if len(left) == 0 || len(right) == 0 {
		leaf := make([]int, len(slots))
		copy(leaf, slots)
		return &treeNode{leaf: leaf}
	}

	return &treeNode{
		normal: normal,
		left:   buildTree(vectors, left, rng),
		right:  buildTree(vectors, right, rng),
	}
}

func dot(v, normal []float32) float64 {
	var sum float64
	for i := range v {
		sum += float64(v[i]) * float64(normal[i])
	}
	return sum
}

// candidates walks the tree toward query, collecting every slot in the
// leaf it lands in. A single tree only samples one region; the index
// unions candidates across all its trees before ranking.
func (n *treeNode) candidates(query []float32, out map[int]struct{}) {
	for n.leaf == nil {
		if dot(query, n.normal) >= 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	for _, s := range n.leaf {
		out[s] = struct{}{}
	}
}
