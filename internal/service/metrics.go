package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are bounded by the configured dataset IDs.
var (
	aggregationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screengrid",
		Name:      "aggregations_total",
		Help:      "Aggregation passes run, excluding grid cache hits",
	}, []string{"dataset"})

	pointsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screengrid",
		Name:      "points_dropped_total",
		Help:      "Points that fell outside the viewport during aggregation",
	}, []string{"dataset"})

	aggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "screengrid",
		Name:      "aggregation_duration_seconds",
		Help:      "Time spent binning points into a grid",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"dataset"})

	gridCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screengrid",
		Name:      "grid_cache_lookups_total",
		Help:      "Grid cache lookups by result",
	}, []string{"dataset", "result"}) // result: "hit", "miss"
)
