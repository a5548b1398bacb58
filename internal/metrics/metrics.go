// Package metrics exposes Prometheus collectors for the harvester.
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
	jobsConsumedTotal          *prometheus.CounterVec
	jobsProducedTotal          *prometheus.CounterVec
	activeWorkers              *prometheus.GaugeVec
	recordsPushedTotal         *prometheus.CounterVec
	recordsRejectedTotal       *prometheus.CounterVec
	batchesFlushedTotal        *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	alarmsTotal                *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsConsumedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_consumed_total",
				Help: "Jobs handed to consumers, labeled by queue and result.",
			},
			[]string{"queue", "result"},
		)

		jobsProducedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_produced_total",
				Help: "Jobs appended to a queue by producers.",
			},
			[]string{"queue"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Workers currently running, labeled by role.",
			},
			[]string{"role"},
		)

		recordsPushedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_pushed_total",
				Help: "Records accepted by a pusher, labeled by source.",
			},
			[]string{"source"},
		)

		recordsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_rejected_total",
				Help: "Records dropped by a pusher, labeled by source and reason.",
			},
			[]string{"source", "reason"},
		)

		batchesFlushedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_batches_flushed_total",
				Help: "Batches sent to the sink, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_runs_total",
				Help: "Crawl runs, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_run_duration_seconds",
				Help:    "Wall time per crawl run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"source"},
		)

		alarmsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_alarms_total",
				Help: "Upstream page-structure alarms raised, labeled by source.",
			},
			[]string{"source"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of navigation rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_ops_requests_total",
				Help: "Requests served by the ops server, by route, method and status code.",
			},
			[]string{"route", "method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_ops_request_duration_seconds",
				Help:    "Latency of the ops server by route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 2, 10, 30},
			},
			[]string{"route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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
	return promhttp.Handler()
}

// ObserveConsumed counts one consumed job.
func ObserveConsumed(queue string, ok bool) {
	Init()
	jobsConsumedTotal.WithLabelValues(queue, result(ok)).Inc()
}

// ObserveProduced counts n produced jobs.
func ObserveProduced(queue string, n int) {
	Init()
	jobsProducedTotal.WithLabelValues(queue).Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(role string) {
	Init()
	activeWorkers.WithLabelValues(role).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(role string) {
	Init()
	activeWorkers.WithLabelValues(role).Dec()
}

// ObserveRecords counts records accepted by a pusher.
func ObserveRecords(source string, n int) {
	Init()
	recordsPushedTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveRejected counts a record dropped before buffering.
func ObserveRejected(source, reason string) {
	Init()
	recordsRejectedTotal.WithLabelValues(source, reason).Inc()
}

// ObserveBatch counts one batch delivery attempt.
func ObserveBatch(source string, ok bool) {
	Init()
	batchesFlushedTotal.WithLabelValues(source, result(ok)).Inc()
}

// ObserveRun records the outcome and duration of a crawl run.
func ObserveRun(source string, ok bool, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(source, result(ok)).Inc()
	runDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveAlarm counts a raised alarm.
func ObserveAlarm(source string) {
	Init()
	alarmsTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one request served by the ops server.
func ObserveHTTPRequest(route, method string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
