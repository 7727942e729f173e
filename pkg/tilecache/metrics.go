package tilecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier ("redis" or "local")
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_hits_total",
			Help: "Total number of tile cache hits",
		},
		[]string{"tier"},
	)

	// CacheMisses tracks requests absent from both tiers
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_cache_misses_total",
			Help: "Total number of tile cache misses",
		},
	)

	// CacheErrors tracks shared-tier operation errors by operation
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_errors_total",
			Help: "Total number of shared-tier cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "ping"
	)

	// LocalEntries tracks the current local-tier entry count
	LocalEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_cache_local_entries",
			Help: "Current number of entries in the local cache tier",
		},
	)

	// Invalidations tracks prefix invalidation calls and deleted keys
	Invalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_cache_invalidated_keys_total",
			Help: "Total number of shared-tier keys removed by prefix invalidation",
		},
	)
)
