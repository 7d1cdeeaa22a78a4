// Package metrics exposes Prometheus collectors for the status poller.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pollsTotal                 *prometheus.CounterVec
	pollDurationSeconds        prometheus.Histogram
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	sourceUp                   *prometheus.GaugeVec
	sinkErrorsTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statuswatch_polls_total",
				Help: "Total number of poll cycles, labeled by whether every source succeeded.",
			},
			[]string{"result"},
		)

		pollDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "statuswatch_poll_duration_seconds",
				Help:    "Histogram of poll cycle durations.",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		)

		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statuswatch_fetch_outcomes_total",
				Help: "Total number of source outcomes, labeled by source, result and failure kind.",
			},
			[]string{"source", "result", "kind"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statuswatch_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by source.",
			},
			[]string{"source"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statuswatch_fetch_duration_seconds",
				Help:    "Histogram of per-source fetch durations including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		sourceUp = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "statuswatch_source_up",
				Help: "Whether the last fetch of a source succeeded (1) or failed (0).",
			},
			[]string{"source"},
		)

		sinkErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statuswatch_sink_errors_total",
				Help: "Total number of report publish failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePoll records one completed poll cycle.
func ObservePoll(failed int, duration time.Duration) {
	Init()
	result := "ok"
	if failed > 0 {
		result = "degraded"
	}
	pollsTotal.WithLabelValues(result).Inc()
	pollDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch records the final outcome of one source in one cycle. kind is
// empty for successes.
func ObserveFetch(source string, ok bool, kind string, duration time.Duration) {
	Init()
	result := "success"
	up := 1.0
	if !ok {
		result = "failure"
		up = 0
	}
	fetchOutcomesTotal.WithLabelValues(source, result, kind).Inc()
	fetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	sourceUp.WithLabelValues(source).Set(up)
}

// ObserveFetchAttempt counts a single attempt against a source.
func ObserveFetchAttempt(source string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(source).Inc()
}

// ObserveSinkError counts a failed publish to the named sink.
func ObserveSinkError(sink string) {
	Init()
	sinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
