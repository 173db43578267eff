package embedding

import (
	"math"
	"math/rand"
)

// SkipGramParams configures training over the walk corpus.
type SkipGramParams struct {
	Dimensions int
	Window     int
	Epochs     int
	LearnRate  float64
	NegSamples int
}

// TrainSkipGram learns a Dimensions-wide vector per node by predicting
// context nodes within Window of each walk position, using negative
// sampling against the corpus's unigram distribution — the same
// objective word2vec/node2vec use, re-derived here in plain Go since
// no embedding-training library appears anywhere in the corpus.
func TrainSkipGram(walks [][]int64, params SkipGramParams, rng *rand.Rand) map[int64][]float32 {
	nodeSet := make(map[int64]struct{})
	freq := make(map[int64]int)
	for _, walk := range walks {
		for _, n := range walk {
			nodeSet[n] = struct{}{}
			freq[n]++
		}
	}

	nodes := make([]int64, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return map[int64][]float32{}
	}

	vectors := make(map[int64][]float64, len(nodes))
	context := make(map[int64][]float64, len(nodes))
	scale := 1.0 / float64(params.Dimensions)
	for _, n := range nodes {
		vectors[n] = randomVector(params.Dimensions, scale, rng)
		context[n] = randomVector(params.Dimensions, scale, rng)
	}

	negSampler := newUnigramSampler(freq, rng)
	negSamples := params.NegSamples
	if negSamples < 1 {
		negSamples = 5
	}

	epochs := params.Epochs
	if epochs < 1 {
		epochs = 1
	}

	for epoch := 0; epoch < epochs; epoch++ {
		for _, walk := range walks {
			for pos, center := range walk {
				lo := pos - params.Window
				if lo < 0 {
					lo = 0
				}
				hi := pos + params.Window
				if hi >= len(walk) {
					hi = len(walk) - 1
				}
				for ctxPos := lo; ctxPos <= hi; ctxPos++ {
					if ctxPos == pos {
						continue
					}
					trainPair(vectors[center], context[walk[ctxPos]], 1, params.LearnRate)
					for s := 0; s < negSamples; s++ {
						neg := negSampler.sample()
						trainPair(vectors[center], context[neg], 0, params.LearnRate)
					}
				}
			}
		}
	}

	out := make(map[int64][]float32, len(vectors))
	for n, v := range vectors {
		f32 := make([]float32, len(v))
		for i, x := range v {
			f32[i] = float32(x)
		}
		out[n] = f32
	}
	return out
}

// trainPair nudges center and ctx together (label=1) or apart (label=0)
// by one step of logistic-regression gradient descent on their dot
// product, in place.
func trainPair(center, ctx []float64, label float64, lr float64) {
	var dot float64
	for i := range center {
		dot += center[i] * ctx[i]
	}
	pred := sigmoid(dot)
	grad := lr * (label - pred)
	for i := range center {
		c, x := center[i], ctx[i]
		center[i] = c + grad*x
		ctx[i] = x + grad*c
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func randomVector(dim int, scale float64, rng *rand.Rand) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = (rng.Float64()*2 - 1) * scale
	}
	return v
}

// unigramSampler draws negative samples proportional to node frequency
// raised to the conventional 0.75 power.
type unigramSampler struct {
	nodes       []int64
	cumWeights  []float64
	totalWeight float64
	rng         *rand.Rand
}

func newUnigramSampler(freq map[int64]int, rng *rand.Rand) *unigramSampler {
	s := &unigramSampler{rng: rng}
	var total float64
	for n, f := range freq {
		w := math.Pow(float64(f), 0.75)
		total += w
		s.nodes = append(s.nodes, n)
		s.cumWeights = append(s.cumWeights, total)
	}
	s.totalWeight = total
	return s
}

func (s *unigramSampler) sample() int64 {
	if s.totalWeight <= 0 {
		return s.nodes[0]
	}
	target := s.rng.Float64() * s.totalWeight
	lo, hi := 0, len(s.cumWeights)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if s.cumWeights[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return s.nodes[lo]
}
