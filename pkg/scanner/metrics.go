package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacks_scan_files_total",
			Help: "Files processed by library and series scans, by result",
		},
		[]string{"result"},
	)

	conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacks_scan_conversions_total",
			Help: "RAR to ZIP conversions, by result",
		},
		[]string{"result"},
	)

	bytesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stacks_scan_bytes_ingested_total",
			Help: "Size of the files created or updated by scans",
		},
	)
)

func recordOutput(out *Output) {
	filesTotal.WithLabelValues("created").Add(float64(out.MediaCreated))
	filesTotal.WithLabelValues("updated").Add(float64(out.MediaUpdated))
	filesTotal.WithLabelValues("unchanged").Add(float64(out.MediaUnchanged))
	filesTotal.WithLabelValues("missing").Add(float64(out.MediaMissing))
	filesTotal.WithLabelValues("failed").Add(float64(out.MediaFailed))
	filesTotal.WithLabelValues("ignored").Add(float64(out.MediaIgnored))
	bytesIngested.Add(float64(out.BytesIngested))
}
