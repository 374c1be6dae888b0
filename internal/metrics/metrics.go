// Package metrics registers the Prometheus collectors shared by the cache,
// embedding gateway, and retrieval engine. Components receive a *Metrics at
// construction; a nil *Metrics is valid and records nothing, so unit tests and
// one-shot CLI commands never need a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace is the Prometheus metric namespace for every collector here.
const namespace = "convrag"

// Cache lookup and write results.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
	ResultOK    = "ok"
)

// Retrieval paths recorded by the search counters.
const (
	PathCache    = "cache"
	PathPrimary  = "primary"
	PathFallback = "fallback"
	PathEmpty    = "empty"
	PathError    = "error"
)

// Metrics holds all collectors owned by the retrieval core.
type Metrics struct {
	// cacheLookups counts cache reads by namespace and result (hit, miss, error).
	cacheLookups *prometheus.CounterVec

	// cacheWrites counts cache writes by namespace and result (ok, error).
	cacheWrites *prometheus.CounterVec

	// cacheInvalidated counts keys removed by pattern invalidation.
	cacheInvalidated prometheus.Counter

	// embeddingRequests counts embedding backend calls by provider and outcome.
	embeddingRequests *prometheus.CounterVec

	// embeddingTexts counts texts resolved by source ("cache" or "backend").
	embeddingTexts *prometheus.CounterVec

	// searchTotal counts retrieval calls by the path that produced the result.
	searchTotal *prometheus.CounterVec

	// searchDuration records retrieval latency by path.
	searchDuration *prometheus.HistogramVec

	// indexedChunks counts chunks successfully upserted into the vector store.
	indexedChunks prometheus.Counter
}

// New registers every collector against reg and returns the populated Metrics.
// promauto.With(reg) keeps tests hermetic when they pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache reads partitioned by key namespace and result.",
		}, []string{"namespace", "result"}),

		cacheWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Cache writes partitioned by key namespace and result.",
		}, []string{"namespace", "result"}),

		cacheInvalidated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidated_keys_total",
			Help:      "Keys removed by pattern invalidation.",
		}),

		embeddingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "backend_requests_total",
			Help:      "Embedding backend requests partitioned by provider and outcome.",
		}, []string{"provider", "outcome"}),

		embeddingTexts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "texts_total",
			Help:      "Texts embedded, partitioned by whether the vector came from the cache or the backend.",
		}, []string{"source"}),

		searchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Retrieval calls partitioned by the path that produced the result.",
		}, []string{"path"}),

		searchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Latency of retrieval calls partitioned by path.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"path"}),

		indexedChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks_total",
			Help:      "Chunks upserted into conversation collections.",
		}),
	}
}

// CacheLookup records one cache read.
func (m *Metrics) CacheLookup(ns, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(ns, result).Inc()
}

// CacheWrite records one cache write.
func (m *Metrics) CacheWrite(ns, result string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(ns, result).Inc()
}

// CacheInvalidated records n keys removed by a pattern delete.
func (m *Metrics) CacheInvalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheInvalidated.Add(float64(n))
}

// EmbeddingRequest records one embedding backend call.
func (m *Metrics) EmbeddingRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.embeddingRequests.WithLabelValues(provider, outcome).Inc()
}

// EmbeddingTexts records n texts resolved from source.
func (m *Metrics) EmbeddingTexts(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.embeddingTexts.WithLabelValues(source).Add(float64(n))
}

// Search records one retrieval call that completed via path.
func (m *Metrics) Search(path string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.searchTotal.WithLabelValues(path).Inc()
	m.searchDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

// IndexedChunks records n chunks written to the vector store.
func (m *Metrics) IndexedChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.indexedChunks.Add(float64(n))
}
