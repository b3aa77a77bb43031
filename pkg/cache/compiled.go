package cache

import (
	"log/slog"

	"github.com/verityengine/verity/pkg/schema"
)

// CompiledCache memoizes compiled contracts by structural hash. Two
// registrations of semantically identical schemas share one entry.
type CompiledCache struct {
	inner *UsageCache[*schema.CompiledContract]
}

// NewCompiledCache builds the compiled tier. Compiled forms carry no TTL;
// staleness is impossible because the key is the content hash, so entries
// only ever leave through eviction or an explicit flush.
func NewCompiledCache(capacity int, metrics *TierMetrics, logger *slog.Logger) *CompiledCache {
	return &CompiledCache{
		inner: New[*schema.CompiledContract](Config{
			Capacity: capacity,
			Metrics:  metrics,
			Logger:   logger,
		}),
	}
}

// GetOrCompile returns the compiled form for hash, building and storing it on
// a miss. The bool reports whether this was a hit.
func (c *CompiledCache) GetOrCompile(hash string, build func() (*schema.CompiledContract, error)) (*schema.CompiledContract, bool, error) {
	if compiled, ok := c.inner.Get(hash, hash); ok {
		return compiled, true, nil
	}
	compiled, err := build()
	if err != nil {
		return nil, false, err
	}
	c.inner.Put(hash, compiled, 0, hash)
	return compiled, false, nil
}

// Flush clears the tier, typically after a bundle reload.
func (c *CompiledCache) Flush() {
	c.inner.Flush()
}

// Len reports the entry count.
func (c *CompiledCache) Len() int {
	return c.inner.Len()
}

// Statistics snapshots the tier.
func (c *CompiledCache) Statistics() Statistics {
	return c.inner.Statistics()
}
