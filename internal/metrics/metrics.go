package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestDuration times individual Gemini API calls.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tap_gemini_http_request_duration_seconds",
			Help:    "Duration of Gemini API requests.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"endpoint", "method"},
	)

	// RecordsEmitted counts records written per stream.
	RecordsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gemini_records_emitted_total",
			Help: "Records emitted per stream.",
		},
		[]string{"stream"},
	)

	// PollAttempts counts report status polls per cube.
	PollAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gemini_report_poll_attempts_total",
			Help: "Report job status polls per cube.",
		},
		[]string{"cube"},
	)

	// JobDuration times a full report job from submission to the last row.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tap_gemini_report_job_duration_seconds",
			Help:    "Duration of report jobs from submission through streaming.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"cube"},
	)

	// StreamErrors counts failed per-stream syncs.
	StreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_gemini_stream_errors_total",
			Help: "Stream syncs aborted by an error.",
		},
		[]string{"stream"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestDuration,
		RecordsEmitted,
		PollAttempts,
		JobDuration,
		StreamErrors,
	)
}

// ObserveRequest records one API call's duration.
func ObserveRequest(endpoint, method string, elapsed time.Duration) {
	HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(elapsed.Seconds())
}

// Handler exposes the default registry for the status server.
func Handler() http.Handler {
	return promhttp.Handler()
}
