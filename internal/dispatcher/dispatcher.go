// Package dispatcher runs the per-tick matching cycle: gate on artifact
// availability, acquire the distributed lock, snapshot and filter the
// waiting set, run the matcher, allocate room ids, publish
// assignments, and release the lock on every exit path.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lyncup/matchcore/internal/annindex"
	"github.com/lyncup/matchcore/internal/lyncuperr"
	"github.com/lyncup/matchcore/internal/matcher"
	"github.com/lyncup/matchcore/internal/obsmetrics"
	"github.com/lyncup/matchcore/internal/queue"
)

// IdentityCatalog resolves which waiting user ids still correspond to
// real users. Out-of-process identity/credential issuance is entirely
// out of scope; this is the one narrow query the core makes of it.
type IdentityCatalog interface {
	FilterExtant(ctx context.Context, userIDs []int64) ([]int64, error)
}

// WaitingSet is the cross-process set of user ids awaiting a match.
type WaitingSet interface {
	Members(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, ids ...int64) (int, error)
}

// RoomCounter hands out the next monotonic room id.
type RoomCounter interface {
	Increment(ctx context.Context) (int64, error)
}

// SchedulingLock is the tick-scoped mutual-exclusion primitive.
type SchedulingLock interface {
	TryAcquire(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// PushBus delivers a room assignment to one user.
type PushBus interface {
	PublishRoomID(userID, roomID int64) error
}

// Clock is the narrow time dependency; Tick reads the tick's start
// time from it. New uses the wall clock when none is given.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Params bundles tick-scoped configuration.
type Params struct {
	ArtifactDir string
	LockTTL     time.Duration
	Matcher     matcher.Params
	HolderID    string // identifies this process in the lock value, for diagnostics
}

// Dispatcher owns one tick's worth of collaborators.
type Dispatcher struct {
	identity IdentityCatalog
	waiting  WaitingSet
	rooms    RoomCounter
	lock     SchedulingLock
	bus      PushBus
	artifact *annindex.Cache
	clock    Clock
	metrics  *obsmetrics.Metrics
	logger   zerolog.Logger
	params   Params
}

// New builds a Dispatcher. clock may be nil to use the real wall clock.
func New(identity IdentityCatalog, waiting WaitingSet, rooms RoomCounter, lock SchedulingLock, bus PushBus, clock Clock, metrics *obsmetrics.Metrics, logger zerolog.Logger, params Params) *Dispatcher {
	if clock == nil {
		clock = systemClock{}
	}
	return &Dispatcher{
		identity: identity,
		waiting:  waiting,
		rooms:    rooms,
		lock:     lock,
		bus:      bus,
		artifact: annindex.NewCache(params.ArtifactDir),
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		params:   params,
	}
}

// Outcome labels how a tick ended, for logging and the
// lyncup_tick_outcome_total metric.
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeLockHeld          Outcome = "lock_held"
	OutcomeArtifactMissing   Outcome = "artifact_missing"
	OutcomeTooFewUsers       Outcome = "too_few_users"
	OutcomeTransientExternal Outcome = "transient_external"
	OutcomeMalformed         Outcome = "malformed"
	OutcomeInvariant         Outcome = "invariant"
)

// Tick runs one full matching cycle.
func (d *Dispatcher) Tick(ctx context.Context) (Outcome, error) {
	start := d.clock.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// 1. Gate on index availability.
	index, err := d.artifact.Get()
	if err != nil {
		if err == annindex.ErrNotFound {
			d.logger.Info().Msg("no ann artifact present, skipping tick")
			d.observe(OutcomeArtifactMissing)
			return OutcomeArtifactMissing, nil
		}
		if errors.Is(err, annindex.ErrMalformedSidecar) {
			// Corrupt map file: §7 classifies this as Malformed, not
			// TransientExternal — the next tick will hit the same
			// corrupt file again, so this won't self-heal like a
			// genuine I/O outage would.
			d.observe(OutcomeMalformed)
			return OutcomeMalformed, fmt.Errorf("%w: %v", lyncuperr.ErrMalformed, err)
		}
		// A raw os.Stat/Load I/O error (permissions, disk failure) is
		// the genuine TransientExternal case: likely to clear on its
		// own by the next tick.
		d.observe(OutcomeTransientExternal)
		return OutcomeTransientExternal, fmt.Errorf("%w: %v", lyncuperr.ErrTransientExternal, err)
	}
	if d.metrics != nil {
		d.metrics.ArtifactAgeSeconds.Set(time.Since(index.ModTime()).Seconds())
	}

	// 2. Acquire scheduling lock.
	acquired, err := d.lock.TryAcquire(ctx, d.params.HolderID, d.params.LockTTL)
	if err != nil {
		d.observe(OutcomeTransientExternal)
		return OutcomeTransientExternal, fmt.Errorf("%w: %v", lyncuperr.ErrTransientExternal, err)
	}
	if !acquired {
		d.logger.Debug().Msg("scheduling lock held elsewhere, skipping tick")
		d.observe(OutcomeLockHeld)
		return OutcomeLockHeld, nil
	}
	defer func() {
		if err := d.lock.Release(ctx); err != nil {
			d.logger.Error().Err(err).Msg("failed to release scheduling lock")
		}
	}()
	d.logger.Debug().Msg("scheduling lock acquired")

	// 3. Snapshot WaitingSet; coerce to integers, drop malformed entries.
	members, err := d.waiting.Members(ctx)
	if err != nil {
		d.observe(OutcomeTransientExternal)
		return OutcomeTransientExternal, fmt.Errorf("%w: %v", lyncuperr.ErrTransientExternal, err)
	}
	if d.metrics != nil {
		d.metrics.WaitingSetSize.Set(float64(len(members)))
	}

	candidateIDs := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			d.logger.Warn().Str("raw", m).Msg("dropping malformed waiting-set entry")
			continue
		}
		candidateIDs = append(candidateIDs, id)
	}

	// 4. Filter to extant users.
	extant, err := d.identity.FilterExtant(ctx, candidateIDs)
	if err != nil {
		d.observe(OutcomeTransientExternal)
		return OutcomeTransientExternal, fmt.Errorf("%w: %v", lyncuperr.ErrTransientExternal, err)
	}
	if len(extant) < 2 {
		d.observe(OutcomeTooFewUsers)
		return OutcomeTooFewUsers, nil
	}

	// 5. Seed QueueManager.
	q := queue.New()
	for _, id := range extant {
		q.Add(queue.Global, id)
	}
	d.logger.Debug().Int("users", len(extant)).Msg("queue seeded")

	// 6. Run matching.
	groupsByBucket := matcher.RunBatch(q, index, d.params.Matcher)

	// 7+8. Allocate room ids and publish, one group at a time.
	var allRemoved []int64
	emitted := 0
	for bucket, groups := range groupsByBucket {
		for _, g := range groups {
			// A non-leftover group outside [minGroup, maxGroup] is a
			// programming error per §7's Invariant category: the
			// matcher's own contract never emits one, so seeing it
			// here means the algorithm itself is broken, not that
			// anything external misbehaved. Abort rather than publish
			// a group the spec says should never exist.
			if bucket != queue.Leftover && (len(g.UserIDs) < d.params.Matcher.MinGroup || len(g.UserIDs) > d.params.Matcher.MaxGroup) {
				d.observe(OutcomeInvariant)
				return OutcomeInvariant, fmt.Errorf("%w: bucket %q emitted group of size %d outside [%d,%d]", lyncuperr.ErrInvariant, bucket, len(g.UserIDs), d.params.Matcher.MinGroup, d.params.Matcher.MaxGroup)
			}

			roomID, err := d.rooms.Increment(ctx)
			if err != nil {
				d.logger.Error().Err(fmt.Errorf("%w: %v", lyncuperr.ErrTransientExternal, err)).Msg("failed to allocate room id, skipping group")
				continue
			}
			emitted++
			if d.metrics != nil {
				d.metrics.RoomIDsAllocated.Inc()
				d.metrics.GroupsEmitted.Inc()
				d.metrics.GroupSize.Observe(float64(len(g.UserIDs)))
			}

			for _, userID := range g.UserIDs {
				if err := d.bus.PublishRoomID(userID, roomID); err != nil {
					d.logger.Warn().Err(fmt.Errorf("%w: %v", lyncuperr.ErrPublishFailure, err)).Int64("user_id", userID).Int64("room_id", roomID).Msg("publish failed, leaving user in waiting set")
					if d.metrics != nil {
						d.metrics.PublishFailures.Inc()
					}
					continue
				}
				allRemoved = append(allRemoved, userID)
			}
		}
	}
	d.logger.Info().Int("groups", emitted).Int("published", len(allRemoved)).Msg("groups emitted")

	// 9. Remove matched (successfully published) users from WaitingSet.
	if len(allRemoved) > 0 {
		if _, err := d.waiting.Remove(ctx, allRemoved...); err != nil {
			d.logger.Error().Err(err).Msg("failed to remove matched users from waiting set")
		}
	}
	if d.metrics != nil {
		d.metrics.LeftoverSize.Set(float64(q.Size(queue.Leftover)))
	}

	// 10. Lock release happens in the deferred call above on every path.
	d.observe(OutcomeOK)
	return OutcomeOK, nil
}

func (d *Dispatcher) observe(o Outcome) {
	if d.metrics != nil {
		d.metrics.TickOutcome.WithLabelValues(string(o)).Inc()
	}
}
