package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		cacheRequestsTotal,
		cacheFetchesTotal,
		cacheLRUEvictionsTotal,
		cacheCleanupDeletedTotal,
	)
}

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks cache hits and misses for various caches.",
		},
		[]string{"cache", "result"}, // e.g., cache="lru", result="hit"
	)

	cacheFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_fetches_total",
			Help: "Upstream fetches performed on cache miss, by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	cacheLRUEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_lru_evictions_total",
			Help: "Entries evicted from the in-memory LRU shadow.",
		},
	)

	cacheCleanupDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_cleanup_deleted_total",
			Help: "Expired cache rows removed by cleanup sweeps.",
		},
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncCacheFetch(stage, outcome string) {
	cacheFetchesTotal.WithLabelValues(norm(stage), norm(outcome)).Inc()
}

func IncCacheLRUEviction() { cacheLRUEvictionsTotal.Inc() }

func AddCacheCleanupDeleted(n int) { cacheCleanupDeletedTotal.Add(float64(n)) }
