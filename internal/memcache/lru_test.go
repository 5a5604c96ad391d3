package memcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_LRUEviction(t *testing.T) {
	c := New[string](3, time.Hour)

	c.Set("k1", "v1", 0)
	c.Set("k2", "v2", 0)
	c.Set("k3", "v3", 0)

	_, ok := c.Get("k1")
	require.True(t, ok)

	c.Set("k4", "v4", 0)

	_, ok = c.Get("k2")
	assert.False(t, ok, "k2 should have been evicted as LRU")

	for _, k := range []string{"k1", "k3", "k4"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "%s should still be present", k)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := time.Now()
	c := New[string](10, time.Hour).withClock(func() time.Time { return clock })

	c.Set("a", "x", 50*time.Millisecond)

	clock = clock.Add(60 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)

	purged := c.Cleanup()
	assert.GreaterOrEqual(t, purged, 0) // already purged by Get's miss path
}

func TestCache_TTLExpiry_CleanupPurgesWithoutGet(t *testing.T) {
	clock := time.Now()
	c := New[string](10, time.Hour).withClock(func() time.Time { return clock })

	c.Set("a", "x", 50*time.Millisecond)
	clock = clock.Add(60 * time.Millisecond)

	purged := c.Cleanup()
	assert.Equal(t, 1, purged)
	assert.Equal(t, 0, c.Size())
}

func TestCache_HitRateAccounting(t *testing.T) {
	c := New[string](10, time.Hour)

	c.Set("a", "x", 0)
	c.Set("b", "y", 0)
	c.Get("a")
	c.Get("b")
	c.Get("miss")
	c.Get("miss2")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, 50.0, stats.HitRate)
}

func TestCache_HitRate_NoRequests(t *testing.T) {
	c := New[string](10, time.Hour)
	stats := c.Stats()
	assert.Equal(t, 0.0, stats.HitRate)
}

func TestCache_SetThenGetSameGoroutine(t *testing.T) {
	c := New[int](10, time.Hour)
	c.Set("k", 42, 0)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestCache_DeleteRemovesEntry(t *testing.T) {
	c := New[string](10, time.Hour)
	c.Set("k", "v", 0)
	assert.True(t, c.Delete("k"))
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.False(t, c.Delete("k"))
}

func TestCache_ClearRemovesEverything(t *testing.T) {
	c := New[string](10, time.Hour)
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCache_HasDoesNotAffectStats(t *testing.T) {
	c := New[string](10, time.Hour)
	c.Set("a", "1", 0)
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("missing"))
	stats := c.Stats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)
}

func TestCache_UpdateConfig_ShrinkEvicts(t *testing.T) {
	c := New[string](10, time.Hour)
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Set("c", "3", 0)

	c.UpdateConfig(Config{MaxSize: 2, TTL: time.Hour, Enabled: true})

	assert.LessOrEqual(t, c.Size(), 2)
}

func TestCache_UpdateConfig_Disabled(t *testing.T) {
	c := New[string](10, time.Hour)
	c.Set("a", "1", 0)

	c.UpdateConfig(Config{MaxSize: 10, TTL: time.Hour, Enabled: false})

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("b", "2", 0)
	c.UpdateConfig(Config{MaxSize: 10, TTL: time.Hour, Enabled: true})
	_, ok = c.Get("b")
	assert.False(t, ok, "set while disabled must be a no-op")
}

func TestCache_InvariantMaxSize(t *testing.T) {
	c := New[int](5, time.Hour)
	for i := 0; i < 100; i++ {
		c.Set(string(rune('a'+i%26))+string(rune(i)), i, 0)
		assert.LessOrEqual(t, c.Size(), 5)
	}
}
