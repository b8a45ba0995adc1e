package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by lookup kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_cache_hits_total",
			Help: "Total number of lookup cache hits",
		},
		[]string{"kind"},
	)

	// CacheMisses tracks cache misses by lookup kind
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_cache_misses_total",
			Help: "Total number of lookup cache misses",
		},
		[]string{"kind"},
	)

	// CacheSize tracks bytes written to the cache
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopify_cache_size_bytes",
			Help: "Bytes written to the lookup cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "purge"
	)
)
