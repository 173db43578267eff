// Package matcher implements the per-tick grouping algorithm: greedy
// nearest-neighbor matching per bucket, with a leftover drain that
// catches cold-start users and neighbors who lost a race to an earlier
// seed in the same tick.
package matcher

import (
	"github.com/lyncup/matchcore/internal/queue"
)

// Index is the narrow slice of annindex.Index the matcher needs,
// expressed as an interface so tests can supply a fake without
// building a real ANN artifact.
type Index interface {
	HasUser(userID int64) bool
	TopK(userID int64, k int) ([]int, bool)
	User(slot int) (int64, bool)
}

// Params mirrors spec.md §4.5's runBatch parameters.
type Params struct {
	BatchSize int
	TopK      int
	MinGroup  int
	MaxGroup  int
}

// Group is a matched set of users destined for one chat room, in the
// order they were assembled (seed first).
type Group struct {
	UserIDs []int64
}

// RunBatch matches every non-leftover bucket, then drains leftover,
// returning groups keyed by the bucket each group's seed came from
// (leftover groups are keyed "leftover").
//
// If index is nil (the artifact failed to load), every non-leftover
// bucket is skipped and only the leftover drain runs, matching
// §4.5's stated failure semantics.
func RunBatch(q *queue.Manager, index Index, params Params) map[string][]Group {
	out := make(map[string][]Group)

	for _, bucket := range q.Buckets() {
		if bucket == queue.Leftover {
			continue
		}
		if index == nil {
			continue
		}
		groups := matchInCluster(q, index, bucket, params)
		if len(groups) > 0 {
			out[bucket] = groups
		}
	}

	leftoverGroups := drainLeftover(q, params.MaxGroup)
	if len(leftoverGroups) > 0 {
		out[queue.Leftover] = leftoverGroups
	}

	return out
}

// matchInCluster implements §4.5's matchInCluster: pop a seed, cold-start
// users fall straight to leftover, otherwise pull up to maxGroup-1
// nearest neighbors still waiting in this bucket. Too few surviving
// neighbors sends everyone involved — seed included — to leftover
// rather than emitting an undersized group.
func matchInCluster(q *queue.Manager, index Index, bucket string, params Params) []Group {
	var groups []Group
	processed := 0

	for q.Size(bucket) > 0 && processed < params.BatchSize {
		seed, ok := q.PopRandom(bucket)
		if !ok {
			break
		}
		processed++

		if !index.HasUser(seed.UserID) {
			q.Add(queue.Leftover, seed.UserID)
			continue
		}

		slots, ok := index.TopK(seed.UserID, params.TopK)
		if !ok {
			// hasUser said yes but the index disagrees; treat as
			// cold-start rather than panicking the tick.
			q.Add(queue.Leftover, seed.UserID)
			continue
		}

		seedSlotIsSelf := func(uid int64) bool { return uid == seed.UserID }

		var chosen []queue.Entry
		for _, s := range slots {
			if len(chosen) >= params.MaxGroup-1 {
				break
			}
			uid, ok := index.User(s)
			if !ok || seedSlotIsSelf(uid) {
				continue
			}
			entry, ok := q.RemoveByID(bucket, uid)
			if !ok {
				// Already matched out by an earlier seed this tick,
				// or simply not waiting in this bucket.
				continue
			}
			chosen = append(chosen, entry)
		}

		if len(chosen) < params.MinGroup-1 {
			q.Add(queue.Leftover, seed.UserID)
			for _, e := range chosen {
				q.Add(queue.Leftover, e.UserID)
			}
			continue
		}

		ids := make([]int64, 0, 1+len(chosen))
		ids = append(ids, seed.UserID)
		for _, e := range chosen {
			ids = append(ids, e.UserID)
		}
		groups = append(groups, Group{UserIDs: ids})
	}

	return groups
}

// drainLeftover empties the leftover bucket in chunks of chunkSize. A
// trailing chunk of exactly one user is merged into the immediately
// preceding group of chunkSize rather than emitted alone, per the
// decided resolution of the size-1 terminal-chunk question: a lone
// straggler joining an already-formed foursome is a better outcome
// than either a degenerate solo room or holding them for another tick.
func drainLeftover(q *queue.Manager, chunkSize int) []Group {
	var ids []int64
	for {
		e, ok := q.PopRandom(queue.Leftover)
		if !ok {
			break
		}
		ids = append(ids, e.UserID)
	}

	total := len(ids)
	if total == 0 {
		return nil
	}

	fullChunks := total / chunkSize
	remainder := total % chunkSize

	// A lone trailing user merges into the immediately preceding chunk
	// (size chunkSize+1) rather than forming a group of one. With no
	// preceding chunk at all — the bucket held exactly one user the
	// whole tick — there is nothing to merge into; emitting it solo
	// would violate the "never emit size-1" mandate, so it goes back
	// into leftover to try again next tick instead.
	if remainder == 1 && fullChunks == 0 {
		q.Add(queue.Leftover, ids[0])
		return nil
	}

	var groups []Group
	chunksToEmit := fullChunks
	if remainder == 1 {
		chunksToEmit-- // merge the trailing singleton into the final chunk
	}
	for i := 0; i < chunksToEmit; i++ {
		groups = append(groups, Group{UserIDs: append([]int64(nil), ids[:chunkSize]...)})
		ids = ids[chunkSize:]
	}
	if len(ids) > 0 {
		groups = append(groups, Group{UserIDs: append([]int64(nil), ids...)})
	}

	return groups
}
