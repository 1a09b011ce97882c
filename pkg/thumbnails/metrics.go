package thumbnails

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	thumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacks_thumbnails_total",
			Help: "Thumbnails visited by thumbnail jobs, by result",
		},
		[]string{"result"},
	)

	renderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stacks_thumbnail_render_duration_seconds",
			Help:    "Time to render and write one thumbnail",
			Buckets: prometheus.DefBuckets,
		},
	)
)
