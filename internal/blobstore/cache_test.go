package blobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soundtime-fm/p2p/internal/wire"
)

// TestCacheEvictsLeastRecentlyPlayed exercises the cache eviction
// scenario: cache_max_size = 10MB, four 3MB blobs admitted in
// order, each immediately played once. After the fourth admission, the
// oldest-played blob (T1) is evicted and total size is 9MB.
func TestCacheEvictsLeastRecentlyPlayed(t *testing.T) {
	c := NewCache(10<<20, nil)
	var evicted []wire.ContentHash
	c.OnEvict(func(h wire.ContentHash) { evicted = append(evicted, h) })

	base := time.Now()
	require.NoError(t, c.Admit("T1", 3<<20, base))
	require.NoError(t, c.Admit("T2", 3<<20, base.Add(time.Second)))
	require.NoError(t, c.Admit("T3", 3<<20, base.Add(2*time.Second)))
	require.NoError(t, c.Admit("T4", 3<<20, base.Add(3*time.Second)))

	require.Equal(t, []wire.ContentHash{"T1"}, evicted)
	require.Equal(t, int64(9<<20), c.TotalSize())
	require.False(t, c.Contains("T1"))
	require.True(t, c.Contains("T4"))
}

func TestCacheNeverExceedsMaxSize(t *testing.T) {
	c := NewCache(10<<20, nil)
	now := time.Now()
	for i := 0; i < 20; i++ {
		_ = c.Admit(wire.ContentHash(rune('A'+i)), 2<<20, now.Add(time.Duration(i)*time.Second))
		require.LessOrEqual(t, c.TotalSize(), int64(10<<20))
	}
}

func TestCacheSingleBlobExceedingCapFailsWithoutEviction(t *testing.T) {
	c := NewCache(10<<20, nil)
	now := time.Now()
	require.NoError(t, c.Admit("small", 1<<20, now))

	err := c.Admit("huge", 11<<20, now.Add(time.Second))
	require.ErrorIs(t, err, ErrCacheFull)
	require.True(t, c.Contains("small"))
	require.Equal(t, int64(1<<20), c.TotalSize())
}

func TestCacheZeroMaxSizeAlwaysFull(t *testing.T) {
	c := NewCache(0, nil)
	err := c.Admit("x", 1, time.Now())
	require.ErrorIs(t, err, ErrCacheFull)
}

func TestCachePinnedBlobNotEvicted(t *testing.T) {
	c := NewCache(10<<20, nil)
	now := time.Now()
	require.NoError(t, c.Admit("pinned", 6<<20, now))
	c.Pin("pinned")

	// This admission alone can't fit alongside "pinned" without eviction,
	// but "pinned" is the only victim available and must not be evicted.
	err := c.Admit("newcomer", 6<<20, now.Add(time.Second))
	require.ErrorIs(t, err, ErrCacheFull)
	require.True(t, c.Contains("pinned"))

	c.Unpin("pinned")
	require.NoError(t, c.Admit("newcomer", 6<<20, now.Add(2*time.Second)))
	require.False(t, c.Contains("pinned"))
}

func TestCacheTouchReordersLRU(t *testing.T) {
	c := NewCache(10<<20, nil)
	now := time.Now()
	require.NoError(t, c.Admit("A", 3<<20, now))
	require.NoError(t, c.Admit("B", 3<<20, now.Add(time.Second)))
	c.Touch("A", now.Add(time.Hour))

	var evicted []wire.ContentHash
	c.OnEvict(func(h wire.ContentHash) { evicted = append(evicted, h) })
	require.NoError(t, c.Admit("C", 3<<20, now.Add(2*time.Second)))
	require.NoError(t, c.Admit("D", 3<<20, now.Add(3*time.Second)))

	require.Contains(t, evicted, wire.ContentHash("B"))
	require.True(t, c.Contains("A"))
}
