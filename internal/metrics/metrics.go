// Package metrics exposes Prometheus collectors for the brand kit service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	claimsTotal                *prometheus.CounterVec
	stepDurationSeconds        *prometheus.HistogramVec
	stepErrorsTotal            *prometheus.CounterVec
	stepRetriesTotal           *prometheus.CounterVec
	reconciledTotal            *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call repeatedly; every Observe function calls it.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandkit_jobs_total",
				Help: "Jobs created or finished, labeled by status.",
			},
			[]string{"status"},
		)

		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandkit_claims_total",
				Help: "Jobs claimed by the sequencer, labeled by source (pending or due).",
			},
			[]string{"source"},
		)

		stepDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brandkit_step_duration_seconds",
				Help:    "Step execution latency, labeled by step and outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"step", "outcome"},
		)

		stepErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandkit_step_errors_total",
				Help: "Classified step failures, labeled by step and error code.",
			},
			[]string{"step", "code"},
		)

		stepRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandkit_step_retries_total",
				Help: "Step retries scheduled, labeled by step.",
			},
			[]string{"step"},
		)

		reconciledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandkit_reconciled_records_total",
				Help: "Records re-pointed from provisional to final owners, labeled by kind.",
			},
			[]string{"kind"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandkit_notifications_total",
				Help: "Owner completion notices, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brandkit_fetch_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-domain fetch limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"domain"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 25},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob counts a job reaching status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveClaims counts claimed jobs.
func ObserveClaims(source string, n int) {
	if n <= 0 {
		return
	}
	Init()
	claimsTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveStep records one step execution.
func ObserveStep(step, outcome string, duration time.Duration) {
	Init()
	stepDurationSeconds.WithLabelValues(step, outcome).Observe(duration.Seconds())
}

// ObserveStepError counts a classified failure.
func ObserveStepError(step, code string) {
	Init()
	stepErrorsTotal.WithLabelValues(step, code).Inc()
}

// ObserveRetry counts a scheduled retry.
func ObserveRetry(step string) {
	Init()
	stepRetriesTotal.WithLabelValues(step).Inc()
}

// ObserveReconciled counts re-pointed records.
func ObserveReconciled(kind string, n int) {
	if n <= 0 {
		return
	}
	Init()
	reconciledTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveNotification counts an owner notice outcome.
func ObserveNotification(result string) {
	Init()
	notificationsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a limiter wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
