package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	ledgerErrors     *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	cacheCoalesced   *prometheus.CounterVec
	cacheStaleServed *prometheus.CounterVec
	cacheFetchFailed *prometheus.CounterVec
	cacheDiscarded   *prometheus.CounterVec
	invalidations    *prometheus.CounterVec
	guardRejections  *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	}

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ledgerErrors:     counter("wallet_ledger_errors_total", "Total errors returned by the ledger API.", "operation"),
		cacheHits:        counter("wallet_cache_hits_total", "Reads served from a fresh cache entry.", "resource"),
		cacheMisses:      counter("wallet_cache_misses_total", "Reads that started a fetch.", "resource"),
		cacheCoalesced:   counter("wallet_cache_coalesced_total", "Reads that joined an in-flight fetch.", "resource"),
		cacheStaleServed: counter("wallet_cache_stale_served_total", "Reads answered with a last-known value after a failed fetch.", "resource"),
		cacheFetchFailed: counter("wallet_cache_fetch_failures_total", "Fetches that failed after all retries.", "resource"),
		cacheDiscarded:   counter("wallet_cache_discarded_total", "Fetch responses dropped because a newer write landed.", "resource"),
		invalidations:    counter("wallet_cache_invalidations_total", "Cache entries marked stale.", "resource"),
		guardRejections:  counter("wallet_guard_rejections_total", "Submissions rejected before any network call.", "kind", "code"),
		settlements:      counter("wallet_settlements_total", "Settled money movements.", "kind", "outcome"),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_active_sessions",
			Help: "Sessions currently holding a cache.",
		}),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrLedgerError increments the ledger error counter.
func (m *Metrics) IncrLedgerError(operation string) {
	m.ledgerErrors.WithLabelValues(operation).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(resource string) {
	m.cacheHits.WithLabelValues(resource).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(resource string) {
	m.cacheMisses.WithLabelValues(resource).Inc()
}

func (m *Metrics) IncrCacheCoalesced(resource string) {
	m.cacheCoalesced.WithLabelValues(resource).Inc()
}

func (m *Metrics) IncrCacheStaleServed(resource string) {
	m.cacheStaleServed.WithLabelValues(resource).Inc()
}

func (m *Metrics) IncrCacheFetchFailed(resource string) {
	m.cacheFetchFailed.WithLabelValues(resource).Inc()
}

func (m *Metrics) IncrCacheDiscarded(resource string) {
	m.cacheDiscarded.WithLabelValues(resource).Inc()
}

func (m *Metrics) IncrInvalidation(resource string) {
	m.invalidations.WithLabelValues(resource).Inc()
}

// IncrGuardRejection counts a guard verdict that blocked a submission.
func (m *Metrics) IncrGuardRejection(kind, code string) {
	m.guardRejections.WithLabelValues(kind, code).Inc()
}

// IncrSettlement counts a submission reaching a terminal state.
func (m *Metrics) IncrSettlement(kind, outcome string) {
	m.settlements.WithLabelValues(kind, outcome).Inc()
}

// SetActiveSessions reports the number of live sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// CacheStats is the per-resource view served by GET /v1/metrics/cache.
type CacheStats struct {
	Resource      string  `json:"resource"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Coalesced     int64   `json:"coalesced"`
	StaleServed   int64   `json:"stale_served"`
	FetchFailures int64   `json:"fetch_failures"`
	Invalidations int64   `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
}

// CacheSnapshot gathers the cumulative cache counters for the given resources.
func (m *Metrics) CacheSnapshot(resources ...string) []CacheStats {
	out := make([]CacheStats, 0, len(resources))
	for _, r := range resources {
		hits := getCounterValue(m.cacheHits, r)
		misses := getCounterValue(m.cacheMisses, r)
		coalesced := getCounterValue(m.cacheCoalesced, r)

		hitRate := float64(0)
		if total := hits + misses + coalesced; total > 0 {
			hitRate = hits / total
		}

		out = append(out, CacheStats{
			Resource:      r,
			Hits:          int64(hits),
			Misses:        int64(misses),
			Coalesced:     int64(coalesced),
			StaleServed:   int64(getCounterValue(m.cacheStaleServed, r)),
			FetchFailures: int64(getCounterValue(m.cacheFetchFailed, r)),
			Invalidations: int64(getCounterValue(m.invalidations, r)),
			HitRate:       hitRate,
		})
	}
	return out
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// SettlementCount returns how many submissions of kind ended with outcome.
func (m *Metrics) SettlementCount(kind, outcome string) float64 {
	return getCounterValue(m.settlements, kind, outcome)
}

// GuardRejectionCount returns how many submissions of kind were rejected with code.
func (m *Metrics) GuardRejectionCount(kind, code string) float64 {
	return getCounterValue(m.guardRejections, kind, code)
}
