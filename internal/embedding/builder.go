package embedding

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/lyncup/matchcore/internal/annindex"
	"github.com/lyncup/matchcore/internal/likes"
)

// Params bundles every tunable the build step needs, named to match
// spec.md §4.2's contract.
type Params struct {
	Dimensions       int
	WalkLength       int
	WalksPerNode     int
	ReturnParam      float64
	InOutParam       float64
	Window           int
	NumTrees         int
	ReciprocalWeight float64
}

// DefaultParams returns the contract's stated defaults.
func DefaultParams() Params {
	return Params{
		Dimensions:       128,
		WalkLength:       10,
		WalksPerNode:     20,
		ReturnParam:      1.0,
		InOutParam:       1.0,
		Window:           5,
		NumTrees:         10,
		ReciprocalWeight: 0.5,
	}
}

// BuildResult reports what a successful build produced, for logging
// and metrics.
type BuildResult struct {
	Nodes    int
	Edges    int
	Duration time.Duration
}

// Build runs the full offline pipeline: load likes, construct the
// interaction graph, walk it, train embeddings, assemble and persist
// the ANN artifact under artifactDir. An empty likes feed is not an
// error — it simply produces no artifact, matching §4.2's stated
// failure semantics ("empty likes → no artifact emitted").
func Build(ctx context.Context, source likes.Source, artifactDir string, params Params, logger zerolog.Logger) (*BuildResult, error) {
	start := time.Now()

	edges, err := source.LoadAllLikes(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedding: load likes: %w", err)
	}
	if len(edges) == 0 {
		logger.Info().Msg("no likes found, skipping embedding build")
		return nil, nil
	}

	graph := BuildGraph(edges, params.ReciprocalWeight)
	nodes := graph.Nodes()
	logger.Info().
		Int("nodes", len(nodes)).
		Int("edges", graph.EdgeCount()).
		Msg("graph constructed")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	walks := GenerateWalks(graph, WalkParams{
		Length:      params.WalkLength,
		PerNode:     params.WalksPerNode,
		ReturnParam: params.ReturnParam,
		InOutParam:  params.InOutParam,
	}, rng)

	vectors := TrainSkipGram(walks, SkipGramParams{
		Dimensions: params.Dimensions,
		Window:     params.Window,
		Epochs:     1,
		LearnRate:  0.025,
		NegSamples: 5,
	}, rng)

	idx := annindex.Build(vectors, params.Dimensions, params.NumTrees)
	if err := idx.Save(artifactDir); err != nil {
		return nil, fmt.Errorf("embedding: save artifact: %w", err)
	}

	result := &BuildResult{
		Nodes:    len(nodes),
		Edges:    graph.EdgeCount(),
		Duration: time.Since(start),
	}
	logger.Info().
		Int("nodes", result.Nodes).
		Int("edges", result.Edges).
		Dur("duration", result.Duration).
		Msg("embedding build complete")
	return result, nil
}
