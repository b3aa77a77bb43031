package cache

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus collectors for every cache tier. A private
// registry keeps the binary free to compose multiple metric surfaces.
type Metrics struct {
	registry  *prometheus.Registry
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	expiries  *prometheus.CounterVec
	entries   *prometheus.GaugeVec
	access    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_cache_hits_total",
				Help: "Cache lookups that returned a live entry",
			},
			[]string{"tier"},
		),
		misses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_cache_misses_total",
				Help: "Cache lookups that found nothing usable",
			},
			[]string{"tier"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_cache_evictions_total",
				Help: "Entries removed by the usage-based eviction policy",
			},
			[]string{"tier"},
		),
		expiries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_cache_expiries_total",
				Help: "Entries dropped lazily after their TTL elapsed",
			},
			[]string{"tier"},
		),
		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "verity_cache_entries",
				Help: "Entries currently held per tier",
			},
			[]string{"tier"},
		),
		access: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verity_cache_access_duration_seconds",
				Help:    "Latency of cache reads and writes",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"tier", "op"},
		),
	}

	registry.MustRegister(
		m.hits,
		m.misses,
		m.evictions,
		m.expiries,
		m.entries,
		m.access,
	)

	return m
}

// Handler returns the scrape handler for the cache registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for composition in the binary.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Tier binds a named tier to the shared collectors and its own atomic
// counters. The atomics feed Statistics; the collectors feed /metrics.
func (m *Metrics) Tier(name string) *TierMetrics {
	return &TierMetrics{name: name, parent: m}
}

// TierMetrics records one tier's counters. All updates are atomic; readers
// may see a momentarily stale hit rate, never a torn one.
type TierMetrics struct {
	name   string
	parent *Metrics

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expiries    atomic.Uint64
	accessNanos atomic.Int64
	accessOps   atomic.Uint64
}

// Statistics is the caller-facing snapshot of one tier.
type Statistics struct {
	Tier          string        `json:"tier"`
	Entries       int           `json:"entries"`
	Hits          uint64        `json:"hits"`
	Misses        uint64        `json:"misses"`
	Evictions     uint64        `json:"evictions"`
	HitRate       float64       `json:"hit_rate"`
	AvgAccessTime time.Duration `json:"avg_access_time"`
}

func (t *TierMetrics) recordHit() {
	if t == nil {
		return
	}
	t.hits.Add(1)
	t.parent.hits.WithLabelValues(t.name).Inc()
}

func (t *TierMetrics) recordMiss() {
	if t == nil {
		return
	}
	t.misses.Add(1)
	t.parent.misses.WithLabelValues(t.name).Inc()
}

func (t *TierMetrics) recordEvictions(n int) {
	if t == nil || n <= 0 {
		return
	}
	t.evictions.Add(uint64(n))
	t.parent.evictions.WithLabelValues(t.name).Add(float64(n))
}

func (t *TierMetrics) recordExpiry() {
	if t == nil {
		return
	}
	t.expiries.Add(1)
	t.parent.expiries.WithLabelValues(t.name).Inc()
}

func (t *TierMetrics) recordAccess(op string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.accessNanos.Add(int64(elapsed))
	t.accessOps.Add(1)
	t.parent.access.WithLabelValues(t.name, op).Observe(elapsed.Seconds())
}

func (t *TierMetrics) setEntries(n int) {
	if t == nil {
		return
	}
	t.parent.entries.WithLabelValues(t.name).Set(float64(n))
}

func (t *TierMetrics) snapshot(entries int) Statistics {
	if t == nil {
		return Statistics{Entries: entries}
	}
	hits := t.hits.Load()
	misses := t.misses.Load()

	stats := Statistics{
		Tier:      t.name,
		Entries:   entries,
		Hits:      hits,
		Misses:    misses,
		Evictions: t.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	if ops := t.accessOps.Load(); ops > 0 {
		stats.AvgAccessTime = time.Duration(t.accessNanos.Load() / int64(ops)) //nolint:gosec // ops > 0
	}
	return stats
}
