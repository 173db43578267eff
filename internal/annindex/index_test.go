package annindex

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVectors() map[int64][]float32 {
	return map[int64][]float32{
		1: {1, 0, 0, 0},
		2: {0.9, 0.1, 0, 0},
		3: {0, 1, 0, 0},
		4: {0, 0.9, 0.1, 0},
		5: {0, 0, 1, 0},
	}
}

func TestBuildAssignsDenseAscendingSlots(t *testing.T) {
	idx := Build(sampleVectors(), 4, 3)
	for id := int64(1); id <= 5; id++ {
		slot, ok := idx.Slot(id)
		require.True(t, ok)
		assert.Equal(t, int(id-1), slot)

		back, ok := idx.User(slot)
		require.True(t, ok)
		assert.Equal(t, id, back)
	}
}

func TestTopKIncludesSelf(t *testing.T) {
	idx := Build(sampleVectors(), 4, 5)
	slot1, _ := idx.Slot(1)

	results, ok := idx.TopK(1, 2)
	require.True(t, ok)
	assert.Contains(t, results, slot1)
}

func TestTopKUnknownUser(t *testing.T) {
	idx := Build(sampleVectors(), 4, 5)
	_, ok := idx.TopK(999, 2)
	assert.False(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := Build(sampleVectors(), 4, 3)
	dir := t.TempDir()
	require.NoError(t, idx.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)

	for id := int64(1); id <= 5; id++ {
		slot, ok := loaded.Slot(id)
		require.True(t, ok)
		back, ok := loaded.User(slot)
		require.True(t, ok)
		assert.Equal(t, id, back)
	}

	results, ok := loaded.TopK(1, 4)
	require.True(t, ok)
	assert.NotEmpty(t, results)
}

func TestLoadMissingArtifactReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCacheReloadsOnlyOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	idx := Build(sampleVectors(), 4, 3)
	require.NoError(t, idx.Save(dir))

	cache := NewCache(dir)
	first, err := cache.Get()
	require.NoError(t, err)

	second, err := cache.Get()
	require.NoError(t, err)
	assert.Same(t, first, second, "expected cached instance when mtime unchanged")

	// Re-save (e.g. a later build) and confirm the cache picks up the
	// new instance rather than serving the stale pointer.
	idx2 := Build(map[int64][]float32{10: {1, 1, 1, 1}}, 4, 3)
	require.NoError(t, idx2.Save(dir))

	third, err := cache.Get()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	_, ok := third.Slot(10)
	assert.True(t, ok)
}

func TestLoadMalformedSidecarKey(t *testing.T) {
	idx := Build(sampleVectors(), 4, 3)
	dir := t.TempDir()
	require.NoError(t, idx.Save(dir))

	// Corrupt the sidecar's JSON in place with a non-integer key.
	// This simulates disk corruption rather than exercising the normal
	// write path, hence the direct file edit instead of Save.
	mapPath := filepath.Join(dir, mapFileName)
	require.NoError(t, os.WriteFile(mapPath, []byte(`{"user_index_map":{"not-an-int":0},"index_user_map":{},"embed_dimensions":4}`), 0o644))

	_, err := Load(dir)
	assert.True(t, errors.Is(err, ErrMalformedSidecar))
}
