package matcher

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyncup/matchcore/internal/queue"
)

// fakeIndex is a narrow test double: each user's nearest neighbors,
// nearest first, are whatever the test wires up.
type fakeIndex struct {
	neighbors map[int64][]int64 // userID -> ordered neighbor userIDs, self first
}

func (f *fakeIndex) HasUser(userID int64) bool {
	_, ok := f.neighbors[userID]
	return ok
}

func (f *fakeIndex) TopK(userID int64, k int) ([]int, bool) {
	nbrs, ok := f.neighbors[userID]
	if !ok {
		return nil, false
	}
	limit := k + 1
	if limit > len(nbrs) {
		limit = len(nbrs)
	}
	slots := make([]int, limit)
	for i := 0; i < limit; i++ {
		slots[i] = int(nbrs[i])
	}
	return slots, true
}

func (f *fakeIndex) User(slot int) (int64, bool) {
	return int64(slot), true
}

func defaultParams() Params {
	return Params{BatchSize: 50, TopK: 50, MinGroup: 3, MaxGroup: 4}
}

func TestMatchInClusterFormsGroupOfFourFromSeedWithNeighbors(t *testing.T) {
	q := queue.New()
	for _, id := range []int64{1, 2, 3, 4} {
		q.Add(queue.Global, id)
	}
	idx := &fakeIndex{neighbors: map[int64][]int64{
		1: {1, 2, 3, 4},
		2: {2, 1, 3, 4},
		3: {3, 1, 2, 4},
		4: {4, 1, 2, 3},
	}}

	result := RunBatch(q, idx, defaultParams())
	groups := result[queue.Global]
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, groups[0].UserIDs)
}

func TestMatchInClusterColdStartUserGoesToLeftover(t *testing.T) {
	q := queue.New()
	q.Add(queue.Global, 1)
	idx := &fakeIndex{neighbors: map[int64][]int64{}}

	result := RunBatch(q, idx, defaultParams())
	assert.Empty(t, result[queue.Global])
	assert.Equal(t, 1, q.Size(queue.Leftover))
}

func TestMatchInClusterTooFewNeighborsSendsEveryoneToLeftover(t *testing.T) {
	q := queue.New()
	q.Add(queue.Global, 1)
	q.Add(queue.Global, 2)
	idx := &fakeIndex{neighbors: map[int64][]int64{
		1: {1, 2}, // only one neighbor found, minGroup-1=2 required
	}}

	// Called directly: RunBatch would go on to drain leftover into a
	// terminal group of two.
	groups := matchInCluster(q, idx, queue.Global, defaultParams())
	assert.Empty(t, groups)
	assert.Equal(t, 2, q.Size(queue.Leftover))
}

func TestMatchInClusterSkipsNeighborAlreadyMatchedOut(t *testing.T) {
	q := queue.New()
	for _, id := range []int64{1, 2, 3, 4, 5} {
		q.Add(queue.Global, id)
	}
	// Both 1 and 5 list 2,3,4 as nearest. If one of them pops before
	// any of 2,3,4, it claims all three and the other seed falls back
	// to leftover with <2 left.
	idx := &fakeIndex{neighbors: map[int64][]int64{
		1: {1, 2, 3, 4},
		5: {5, 2, 3, 4},
	}}

	result := RunBatch(q, idx, defaultParams())
	totalMatched := 0
	for _, groups := range result {
		for _, g := range groups {
			totalMatched += len(g.UserIDs)
		}
	}
	// Regardless of popRandom's order, every one of the 5 users ends
	// up in exactly one emitted group — either matched directly or
	// carried through the leftover drain — or, as a lone leftover user
	// with no chunk to join, held in leftover for the next tick.
	assert.Equal(t, 5, totalMatched+q.Size(queue.Leftover))
}

func TestRunBatchNilIndexOnlyDrainsLeftover(t *testing.T) {
	q := queue.New()
	q.Add(queue.Global, 1)
	q.Add(queue.Global, 2)
	for _, id := range []int64{10, 11, 12, 13} {
		q.Add(queue.Leftover, id)
	}

	result := RunBatch(q, nil, defaultParams())
	assert.Empty(t, result[queue.Global])
	require.Len(t, result[queue.Leftover], 1)
	assert.ElementsMatch(t, []int64{10, 11, 12, 13}, result[queue.Leftover][0].UserIDs)
}

func TestDrainLeftoverChunksOfFourExactly(t *testing.T) {
	q := queue.New()
	for i := int64(1); i <= 8; i++ {
		q.Add(queue.Leftover, i)
	}
	groups := drainLeftover(q, 4)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.Len(t, g.UserIDs, 4)
	}
}

func TestDrainLeftoverMergesTrailingSingletonIntoPreviousChunk(t *testing.T) {
	q := queue.New()
	for i := int64(1); i <= 5; i++ {
		q.Add(queue.Leftover, i)
	}
	groups := drainLeftover(q, 4)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].UserIDs, 5)
}

func TestDrainLeftoverLoneUserWithNoPrecedingChunkIsHeldForNextTick(t *testing.T) {
	q := queue.New()
	q.Add(queue.Leftover, 1)
	groups := drainLeftover(q, 4)
	assert.Empty(t, groups)
	assert.Equal(t, 1, q.Size(queue.Leftover))
}

func TestDrainLeftoverTerminalChunkOfTwoOrThreeIsValid(t *testing.T) {
	q := queue.New()
	for i := int64(1); i <= 6; i++ {
		q.Add(queue.Leftover, i)
	}
	groups := drainLeftover(q, 4)
	sizes := make([]int, len(groups))
	for i, g := range groups {
		sizes[i] = len(g.UserIDs)
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{2, 4}, sizes)
}

func TestDrainLeftoverEmptyYieldsNoGroups(t *testing.T) {
	q := queue.New()
	groups := drainLeftover(q, 4)
	assert.Empty(t, groups)
}
