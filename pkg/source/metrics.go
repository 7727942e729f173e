package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetches tracks source image fetches by outcome
	Fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetches_total",
			Help: "Total source image fetches by outcome",
		},
		[]string{"outcome"}, // "ok", "fallback", "error"
	)

	// FetchDuration tracks source fetch+decode latency
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Source image fetch and decode duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// PoolHits tracks resolutions answered from the decoded image pool
	PoolHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_pool_hits_total",
			Help: "Total source resolutions served from the in-process image pool",
		},
	)
)
