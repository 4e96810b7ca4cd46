// Package metrics exposes Prometheus collectors for the archiver service.
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
	pagesCrawledTotal          *prometheus.CounterVec
	linksClassifiedTotal       *prometheus.CounterVec
	navigationsTotal           *prometheus.CounterVec
	classifierCallsTotal       *prometheus.CounterVec
	classificationsTotal       *prometheus.CounterVec
	artifactsTotal             *prometheus.CounterVec
	branchesTotal              *prometheus.CounterVec
	branchDurationSeconds      *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_pages_crawled_total",
				Help: "Frontier pages visited, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		linksClassifiedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_links_classified_total",
				Help: "Outbound links seen by the frontier, labeled by kind.",
			},
			[]string{"kind"},
		)

		navigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_navigations_total",
				Help: "Browser navigations, labeled by wait condition and outcome.",
			},
			[]string{"wait", "outcome"},
		)

		classifierCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_classifier_calls_total",
				Help: "Calls to the classification service, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		classificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_classifications_total",
				Help: "Classified content items, labeled by decision.",
			},
			[]string{"decision"},
		)

		artifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_artifacts_total",
				Help: "Archive attempts, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		branchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_branches_total",
				Help: "Pipeline branches executed, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		branchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_branch_duration_seconds",
				Help:    "Histogram of branch execution time.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_runs_total",
				Help: "Pipeline runs, labeled by terminal coordinator state.",
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_workers",
				Help: "Number of workers currently executing a branch.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-site fetch limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"site"},
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
	Init()
	return promhttp.Handler()
}

// ObservePageCrawled counts one frontier page visit.
func ObservePageCrawled(pageURL, outcome string) {
	Init()
	pagesCrawledTotal.WithLabelValues(SanitizeSite(pageURL), outcome).Inc()
}

// ObserveLink counts one outbound link by classification kind.
func ObserveLink(kind string) {
	Init()
	linksClassifiedTotal.WithLabelValues(kind).Inc()
}

// ObserveNavigation counts one browser navigation attempt.
func ObserveNavigation(wait, outcome string) {
	Init()
	navigationsTotal.WithLabelValues(wait, outcome).Inc()
}

// ObserveClassifierCall counts one request to the classification service.
func ObserveClassifierCall(operation, outcome string) {
	Init()
	classifierCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveClassification counts one accept/reject decision.
func ObserveClassification(decision string) {
	Init()
	classificationsTotal.WithLabelValues(decision).Inc()
}

// ObserveArtifact counts one archive attempt.
func ObserveArtifact(kind, outcome string) {
	Init()
	artifactsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveBranch records a finished branch.
func ObserveBranch(kind, outcome string, duration time.Duration) {
	Init()
	branchesTotal.WithLabelValues(kind, outcome).Inc()
	branchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveRun counts a coordinator reaching a terminal state.
func ObserveRun(state string) {
	Init()
	runsTotal.WithLabelValues(state).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records how long a fetch waited for a limiter token.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
