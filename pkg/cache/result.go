package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/verityengine/verity/pkg/domain"
)

// ResultCache memoizes validation outcomes. Keys combine the contract's
// structural hash, the payload's content hash, and a namespace so a contract
// and a pipeline sharing contracts never collide.
type ResultCache struct {
	inner *UsageCache[domain.ExecutionResult]
}

// NewResultCache builds the result tier.
func NewResultCache(capacity int, metrics *TierMetrics, logger *slog.Logger) *ResultCache {
	return &ResultCache{
		inner: New[domain.ExecutionResult](Config{
			Capacity: capacity,
			Metrics:  metrics,
			Logger:   logger,
		}),
	}
}

// Key derives the cache key. The NUL separators keep adjacent components
// from colliding.
func Key(contractHash, dataHash, namespace string) string {
	h := sha256.New()
	h.Write([]byte(contractHash))
	h.Write([]byte{0})
	h.Write([]byte(dataHash))
	h.Write([]byte{0})
	h.Write([]byte(namespace))
	return hex.EncodeToString(h.Sum(nil))
}

// DataHash content-hashes a payload via its canonical JSON encoding (object
// keys sort deterministically). Payloads that cannot be marshaled are simply
// uncacheable; the caller skips the cache on error.
func DataHash(data any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns a cloned cached result so callers can never mutate the stored
// copy.
func (c *ResultCache) Get(key, contractHash string) (domain.ExecutionResult, bool) {
	result, ok := c.inner.Get(key, contractHash)
	if !ok {
		return domain.ExecutionResult{}, false
	}
	return result.Clone(), true
}

// Put stores a completed validation outcome. Timed-out calls must never reach
// here; the executor enforces that.
func (c *ResultCache) Put(key string, result domain.ExecutionResult, ttl time.Duration, contractHash string) {
	c.inner.Put(key, result.Clone(), ttl, contractHash)
}

// Flush clears the tier.
func (c *ResultCache) Flush() {
	c.inner.Flush()
}

// Len reports the entry count.
func (c *ResultCache) Len() int {
	return c.inner.Len()
}

// Statistics snapshots the tier.
func (c *ResultCache) Statistics() Statistics {
	return c.inner.Statistics()
}
