package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_RoundTrip(t *testing.T) {
	c := NewWithSweep[string](time.Minute, time.Minute)
	defer c.Close()

	c.Set("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestCache_MissingKey(t *testing.T) {
	c := NewWithSweep[int](time.Minute, time.Minute)
	defer c.Close()

	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCache_ExpiryOnRead(t *testing.T) {
	c := NewWithSweep[string](time.Minute, time.Hour)
	defer c.Close()

	c.SetTTL("k", "v", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "expired entry must behave like a missing one")
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c := NewWithSweep[string](time.Minute, 10*time.Millisecond)
	defer c.Close()

	c.SetTTL("a", "1", 5*time.Millisecond)
	c.SetTTL("b", "2", time.Minute)

	require.Eventually(t, func() bool { return c.Len() == 1 },
		time.Second, 5*time.Millisecond)

	_, ok := c.Get("b")
	assert.True(t, ok, "unexpired entry must survive the sweep")
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := NewWithSweep[int](time.Minute, time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_ClearPrefix(t *testing.T) {
	c := NewWithSweep[int](time.Minute, time.Minute)
	defer c.Close()

	c.Set("pool_a", 1)
	c.Set("pool_b", 2)
	c.Set("market_a", 3)

	c.ClearPrefix("pool_")

	_, ok := c.Get("pool_a")
	assert.False(t, ok)
	_, ok = c.Get("market_a")
	assert.True(t, ok)
}

func TestCache_OverwriteRefreshesTTL(t *testing.T) {
	c := NewWithSweep[string](time.Minute, time.Hour)
	defer c.Close()

	c.SetTTL("k", "old", 10*time.Millisecond)
	c.SetTTL("k", "new", time.Minute)
	time.Sleep(25 * time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestCache_Stats(t *testing.T) {
	c := NewWithSweep[int](time.Minute, time.Minute)
	defer c.Close()

	c.Set("k", 1)
	c.Get("k")
	c.Get("absent")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}
