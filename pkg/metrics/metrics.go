// Package metrics exposes Prometheus metrics for file generation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Requests counts HTTP requests by route and outcome.
	// Labels: route (download/encode/decode), format (colblob/parquet/json), status (ok/client_error/error)
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colblob_requests_total",
			Help: "Total number of file requests",
		},
		[]string{"route", "format", "status"},
	)

	// EncodedBytes tracks the size of generated files.
	EncodedBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colblob_encoded_bytes",
			Help:    "Size of encoded files in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10), // 64B .. 16MiB
		},
		[]string{"format"},
	)

	// EncodeDuration tracks how long encoding takes.
	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colblob_encode_duration_seconds",
			Help:    "Time spent encoding a dataset",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format"},
	)
)

// ObserveEncode records one successful encode of size bytes.
func ObserveEncode(format string, size int, d time.Duration) {
	EncodedBytes.WithLabelValues(format).Observe(float64(size))
	EncodeDuration.WithLabelValues(format).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
