package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TilesServed tracks completed tile requests by mode and outcome
	TilesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiles_served_total",
			Help: "Total tile requests by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: "local", "dynamic"; outcome: "hit", "rendered", "absent", "error"
	)

	// RenderDuration tracks cache-miss render latency by mode
	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_render_duration_seconds",
			Help:    "Tile render duration on cache miss in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"mode"},
	)

	// EnhancementFailures tracks swallowed enhancement-gateway errors
	EnhancementFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_enhancement_failures_total",
			Help: "Total enhancement failures passed through as unenhanced tiles",
		},
		[]string{"step"}, // "enhance", "label"
	)

	// StoreFailures tracks cache writes that failed after a successful render
	StoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_cache_store_failures_total",
			Help: "Total cache write failures on otherwise successful tile responses",
		},
	)
)
