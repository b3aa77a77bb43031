package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is one cached payload plus its usage metadata. The owning cache
// mutates the metadata on every read; callers only ever see the value.
type Entry[V any] struct {
	Value       V
	CreatedAt   time.Time
	TTL         time.Duration
	SourceHash  string
	AccessCount int64
	LastAccess  time.Time
}

func (e *Entry[V]) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// Config holds construction options for a UsageCache.
type Config struct {
	// Capacity bounds the entry count; writes that push the cache over it
	// trigger synchronous eviction back down to Capacity. Zero or negative
	// means unbounded.
	Capacity int
	Metrics  *TierMetrics
	Logger   *slog.Logger
	// Clock is overridable for tests; defaults to time.Now.
	Clock func() time.Time
}

// UsageCache is a TTL-aware cache evicting least-used entries first. Expiry
// is lazy (checked on read); eviction is proactive (triggered on write).
// All operations are safe for concurrent use.
type UsageCache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*Entry[V]
	capacity int
	metrics  *TierMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a UsageCache.
func New[V any](cfg Config) *UsageCache[V] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &UsageCache[V]{
		entries:  make(map[string]*Entry[V]),
		capacity: cfg.Capacity,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
	}
}

// Get returns the live entry for key, bumping its usage metadata. Expired
// entries are removed and reported as misses. When sourceHash is non-empty
// and disagrees with the stored entry, the entry is treated as a consistency
// anomaly: logged, dropped, and reported as a miss, never an error.
func (c *UsageCache[V]) Get(key, sourceHash string) (V, bool) {
	start := c.now()

	c.mu.Lock()
	var zero V
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.metrics.recordMiss()
		c.metrics.recordAccess("get", c.now().Sub(start))
		return zero, false
	}

	now := c.now()
	if entry.expired(now) {
		delete(c.entries, key)
		size := len(c.entries)
		c.mu.Unlock()
		c.metrics.recordExpiry()
		c.metrics.recordMiss()
		c.metrics.setEntries(size)
		c.metrics.recordAccess("get", c.now().Sub(start))
		return zero, false
	}

	if sourceHash != "" && entry.SourceHash != sourceHash {
		delete(c.entries, key)
		size := len(c.entries)
		c.mu.Unlock()
		c.logger.Warn("cache consistency anomaly, treating as miss",
			"key", key,
			"stored_hash", entry.SourceHash,
			"expected_hash", sourceHash,
		)
		c.metrics.recordMiss()
		c.metrics.setEntries(size)
		c.metrics.recordAccess("get", c.now().Sub(start))
		return zero, false
	}

	entry.AccessCount++
	entry.LastAccess = now
	value := entry.Value
	c.mu.Unlock()

	c.metrics.recordHit()
	c.metrics.recordAccess("get", c.now().Sub(start))
	return value, true
}

// Put stores value under key and evicts down to capacity if needed. Races
// between writers for the same key are last-write-wins.
func (c *UsageCache[V]) Put(key string, value V, ttl time.Duration, sourceHash string) {
	start := c.now()

	c.mu.Lock()
	now := c.now()
	c.entries[key] = &Entry[V]{
		Value:      value,
		CreatedAt:  now,
		TTL:        ttl,
		SourceHash: sourceHash,
		LastAccess: now,
	}

	evicted := 0
	if c.capacity > 0 && len(c.entries) > c.capacity {
		evicted = c.evictLocked()
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.recordEvictions(evicted)
	c.metrics.setEntries(size)
	c.metrics.recordAccess("put", c.now().Sub(start))
}

// evictLocked removes the lowest-usage entries until the cache is back at
// capacity. Ties break toward the oldest last-access, so among equally-used
// entries the most recently touched survive. Never removes more than needed.
func (c *UsageCache[V]) evictLocked() int {
	type candidate struct {
		key   string
		count int64
		last  time.Time
	}

	candidates := make([]candidate, 0, len(c.entries))
	for key, entry := range c.entries {
		candidates = append(candidates, candidate{key: key, count: entry.AccessCount, last: entry.LastAccess})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].last.Before(candidates[j].last)
	})

	evicted := 0
	for _, victim := range candidates {
		if len(c.entries) <= c.capacity {
			break
		}
		delete(c.entries, victim.key)
		evicted++
	}
	return evicted
}

// Remove deletes a single key.
func (c *UsageCache[V]) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.setEntries(size)
}

// Flush drops every entry.
func (c *UsageCache[V]) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry[V])
	c.mu.Unlock()
	c.metrics.setEntries(0)
}

// Len reports the current entry count, expired entries included until they
// are lazily collected.
func (c *UsageCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the stored keys in no particular order.
func (c *UsageCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// Statistics snapshots the tier counters.
func (c *UsageCache[V]) Statistics() Statistics {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()
	return c.metrics.snapshot(entries)
}
