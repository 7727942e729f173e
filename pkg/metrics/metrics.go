// Package metrics provides the centralized Prometheus metrics registry for
// the tile engine. All metrics are defined in their respective packages
// (tilecache, source, pipeline) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the tile engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/tilecache):
//   - tile_cache_hits_total{tier} (Counter): Cache hits by tier (shared, local)
//   - tile_cache_misses_total (Counter): Cache misses across both tiers
//   - tile_cache_errors_total{operation} (Counter): Shared tier operation errors
//   - tile_cache_local_entries (Gauge): Entries currently held in the local tier
//   - tile_cache_invalidated_keys_total (Counter): Keys removed by prefix invalidation
//
// Source Metrics (pkg/source):
//   - source_fetches_total{outcome} (Counter): Origin fetches by outcome (ok, fallback, error)
//   - source_fetch_duration_seconds (Histogram): Origin fetch and decode duration
//   - source_pool_hits_total (Counter): Decoded images served from the pool
//
// Pipeline Metrics (pkg/pipeline):
//   - tiles_served_total{mode, outcome} (Counter): Tiles by mode (local, dynamic) and outcome
//   - tile_render_duration_seconds{mode} (Histogram): End-to-end render duration
//   - tile_enhancement_failures_total{step} (Counter): Best-effort enhancement failures by step
//   - tile_cache_store_failures_total (Counter): Rendered tiles that could not be stored
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(tile_cache_hits_total[5m])) /
//   (sum(rate(tile_cache_hits_total[5m])) + sum(rate(tile_cache_misses_total[5m])))
//
//   # Share of tiles served from the shared tier
//   rate(tile_cache_hits_total{tier="shared"}[5m]) / rate(tiles_served_total[5m])
//
//   # P95 Render Latency for dynamic tiles
//   histogram_quantile(0.95, rate(tile_render_duration_seconds_bucket{mode="dynamic"}[5m]))
//
//   # Origin fallback rate
//   rate(source_fetches_total{outcome="fallback"}[5m]) / rate(source_fetches_total[5m])
