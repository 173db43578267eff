package dispatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyncup/matchcore/internal/annindex"
	"github.com/lyncup/matchcore/internal/lyncuperr"
	"github.com/lyncup/matchcore/internal/matcher"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

// --- fakes, held by capability as the matcher/queue tests do ---

type fakeIdentity struct {
	known map[int64]bool
}

func (f *fakeIdentity) FilterExtant(ctx context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if f.known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeWaitingSet struct {
	mu      sync.Mutex
	members map[int64]bool
}

func newFakeWaitingSet(ids ...int64) *fakeWaitingSet {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return &fakeWaitingSet{members: m}
}

func (f *fakeWaitingSet) Members(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.members))
	for id := range f.members {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out, nil
}

func (f *fakeWaitingSet) Remove(ctx context.Context, ids ...int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if f.members[id] {
			delete(f.members, id)
			removed++
		}
	}
	return removed, nil
}

type fakeRoomCounter struct {
	mu   sync.Mutex
	next int64
}

func (f *fakeRoomCounter) Increment(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next, nil
}

type fakeLock struct {
	mu     sync.Mutex
	held   bool
	denied bool
}

func (f *fakeLock) TryAcquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied || f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	return nil
}

type fakeBus struct {
	mu        sync.Mutex
	delivered map[int64]int64
	failFor   map[int64]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{delivered: make(map[int64]int64), failFor: make(map[int64]bool)}
}

func (f *fakeBus) PublishRoomID(userID, roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[userID] {
		return assert.AnError
	}
	f.delivered[userID] = roomID
	return nil
}

func defaultMatcherParams() matcher.Params {
	return matcher.Params{BatchSize: 50, TopK: 50, MinGroup: 3, MaxGroup: 4}
}

func testParams(dir string) Params {
	return Params{
		ArtifactDir: dir,
		LockTTL:     60 * time.Second,
		Matcher:     defaultMatcherParams(),
		HolderID:    "test-holder",
	}
}

func buildArtifact(t *testing.T, dir string, ids ...int64) {
	t.Helper()
	vectors := make(map[int64][]float32, len(ids))
	for i, id := range ids {
		// One-hot vector per id (position i%4). These artifacts hold at
		// most four ids, fewer than a tree leaf, so TopK returns every
		// indexed id as a neighbor.
		v := make([]float32, 4)
		v[i%4] = 1
		vectors[id] = v
	}
	idx := annindex.Build(vectors, 4, 3)
	require.NoError(t, idx.Save(dir))
}

func TestTickArtifactMissingReturnsWithoutError(t *testing.T) {
	d := New(&fakeIdentity{}, newFakeWaitingSet(), &fakeRoomCounter{}, &fakeLock{}, newFakeBus(), nil, nil, noopLogger(), testParams(t.TempDir()))

	outcome, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeArtifactMissing, outcome)
}

func TestTickLockHeldReturnsWithoutRunning(t *testing.T) {
	dir := t.TempDir()
	buildArtifact(t, dir, 1, 2, 3)

	lock := &fakeLock{held: true}
	bus := newFakeBus()
	d := New(&fakeIdentity{known: map[int64]bool{1: true, 2: true, 3: true}}, newFakeWaitingSet(1, 2, 3), &fakeRoomCounter{}, lock, bus, nil, nil, noopLogger(), testParams(dir))

	outcome, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeLockHeld, outcome)
	assert.Empty(t, bus.delivered)
}

func TestTickTooFewExtantUsersLeavesWaitingSetUntouched(t *testing.T) {
	dir := t.TempDir()
	buildArtifact(t, dir, 1, 2, 3)

	ws := newFakeWaitingSet(1, 2, 3)
	identity := &fakeIdentity{known: map[int64]bool{1: true}} // only 1 known
	d := New(identity, ws, &fakeRoomCounter{}, &fakeLock{}, newFakeBus(), nil, nil, noopLogger(), testParams(dir))

	outcome, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeTooFewUsers, outcome)

	members, _ := ws.Members(context.Background())
	assert.Len(t, members, 3)
}

func TestTickSuccessfulMatchAllocatesRoomAndRemovesFromWaitingSet(t *testing.T) {
	dir := t.TempDir()
	buildArtifact(t, dir, 1, 2, 3, 4)

	ws := newFakeWaitingSet(1, 2, 3, 4)
	identity := &fakeIdentity{known: map[int64]bool{1: true, 2: true, 3: true, 4: true}}
	rooms := &fakeRoomCounter{}
	bus := newFakeBus()
	d := New(identity, ws, rooms, &fakeLock{}, bus, nil, nil, noopLogger(), testParams(dir))

	outcome, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)

	assert.Len(t, bus.delivered, 4)
	for _, roomID := range bus.delivered {
		assert.Equal(t, int64(1), roomID)
	}

	members, _ := ws.Members(context.Background())
	assert.Empty(t, members)
}

func TestTickPublishFailureLeavesUserInWaitingSet(t *testing.T) {
	dir := t.TempDir()
	buildArtifact(t, dir, 1, 2, 3, 4)

	ws := newFakeWaitingSet(1, 2, 3, 4)
	identity := &fakeIdentity{known: map[int64]bool{1: true, 2: true, 3: true, 4: true}}
	bus := newFakeBus()
	bus.failFor[2] = true
	d := New(identity, ws, &fakeRoomCounter{}, &fakeLock{}, bus, nil, nil, noopLogger(), testParams(dir))

	outcome, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)

	members, _ := ws.Members(context.Background())
	require.Len(t, members, 1)
	assert.Contains(t, members, "2")
}

func TestTickMalformedWaitingSetEntryIsDropped(t *testing.T) {
	dir := t.TempDir()
	buildArtifact(t, dir, 1, 2, 3)

	ws := &fakeWaitingSet{members: map[int64]bool{1: true, 2: true, 3: true}}
	// Inject a malformed entry directly via Members override below.
	malformedWS := &malformedEntryWaitingSet{fakeWaitingSet: ws}

	identity := &fakeIdentity{known: map[int64]bool{1: true, 2: true, 3: true}}
	d := New(identity, malformedWS, &fakeRoomCounter{}, &fakeLock{}, newFakeBus(), nil, nil, noopLogger(), testParams(dir))

	outcome, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
}

// A corrupt global_map.json (present, but not decodable the way Build
// produces it) must classify as §7's Malformed, not TransientExternal
// — unlike an I/O outage, it will not self-heal on the next tick.
func TestTickCorruptSidecarReturnsMalformedNotTransient(t *testing.T) {
	dir := t.TempDir()
	buildArtifact(t, dir, 1, 2, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "global_map.json"), []byte("not json"), 0o644))

	d := New(&fakeIdentity{}, newFakeWaitingSet(), &fakeRoomCounter{}, &fakeLock{}, newFakeBus(), nil, nil, noopLogger(), testParams(dir))

	outcome, err := d.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeMalformed, outcome)
	assert.True(t, errors.Is(err, lyncuperr.ErrMalformed))
	assert.False(t, errors.Is(err, lyncuperr.ErrTransientExternal))
}

type malformedEntryWaitingSet struct {
	*fakeWaitingSet
}

func (m *malformedEntryWaitingSet) Members(ctx context.Context) ([]string, error) {
	members, err := m.fakeWaitingSet.Members(ctx)
	if err != nil {
		return nil, err
	}
	return append(members, "not-an-integer"), nil
}
