package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// TTL Cache — read-through store shielding the pipeline from redundant RPC
// ---------------------------------------------------------------------------

const (
	// DefaultTTL applies when Set is called without an explicit TTL.
	DefaultTTL = 120 * time.Second

	// DefaultSweepInterval is how often expired entries are removed eagerly.
	// Expiry is also checked lazily on every read, so the sweep only bounds
	// memory, never correctness.
	DefaultSweepInterval = 30 * time.Second
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a typed key/value store with per-entry TTL. There is no size
// bound: the key space is capped by the number of distinct mints, pools and
// markets the ingestion stream produces.
type Cache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[V]
	defaultTTL time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}

	// Stats.
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache with the given default TTL (DefaultTTL if zero) and
// starts the background sweep. Call Close to stop the sweeper.
func New[V any](defaultTTL time.Duration) *Cache[V] {
	return NewWithSweep[V](defaultTTL, DefaultSweepInterval)
}

// NewWithSweep creates a cache with an explicit sweep interval.
func NewWithSweep[V any](defaultTTL, sweepInterval time.Duration) *Cache[V] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	c := &Cache[V]{
		entries:    make(map[string]entry[V]),
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Close stops the background sweep.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Get returns the value for key, or ok=false if absent or expired. An
// expired entry behaves identically to a missing one.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		if ok {
			// Lazy expiry: drop the stale entry.
			c.mu.Lock()
			if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL.
func (c *Cache[V]) SetTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// ClearPrefix removes every entry whose key starts with prefix.
func (c *Cache[V]) ClearPrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included until the
// next sweep touches them.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Stats returns hit/miss counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}
