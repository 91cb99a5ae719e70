// Package metrics exposes Prometheus collectors for the results scraper.
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
	profileFetchTotal          *prometheus.CounterVec
	profileBytesTotal          *prometheus.CounterVec
	profileFetchSeconds        *prometheus.HistogramVec
	forbiddenTotal             *prometheus.CounterVec
	retryAttemptsTotal         *prometheus.CounterVec
	athleteOutcomesTotal       *prometheus.CounterVec
	rowSkipsTotal              *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	activeTasks                prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		profileFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fis_profile_fetch_total",
				Help: "Profile page requests, labeled by site and HTTP status.",
			},
			[]string{"site", "status"},
		)

		profileBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fis_profile_bytes_total",
				Help: "Bytes of profile HTML fetched, labeled by site.",
			},
			[]string{"site"},
		)

		profileFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fis_profile_fetch_seconds",
				Help:    "Profile page fetch latency.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		forbiddenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fis_scrape_forbidden_total",
				Help: "Profile requests rejected with 403 by the federation site.",
			},
			[]string{"site"},
		)

		retryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fis_retry_attempts_total",
				Help: "Retries scheduled by the corrector, labeled by error kind.",
			},
			[]string{"kind"},
		)

		athleteOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fis_athlete_outcomes_total",
				Help: "Per-athlete scrape outcomes.",
			},
			[]string{"outcome"},
		)

		rowSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fis_result_rows_skipped_total",
				Help: "Result rows dropped by the parser, labeled by reason kind.",
			},
			[]string{"kind"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fis_cache_lookups_total",
				Help: "Orchestrator cache lookups, labeled hit or miss.",
			},
			[]string{"result"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fis_runs_total",
				Help: "Pipeline runs, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fis_run_duration_seconds",
				Help:    "Wall time of full pipeline runs.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
			},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fis_active_tasks",
				Help: "Athlete scrape tasks currently running.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fis_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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

// ObserveFetch records one profile request. A zero status means no response.
func ObserveFetch(rawURL string, status int, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	profileFetchTotal.WithLabelValues(site, label).Inc()
	if bytesFetched > 0 {
		profileBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	profileFetchSeconds.WithLabelValues(site).Observe(duration.Seconds())
	if status == http.StatusForbidden {
		forbiddenTotal.WithLabelValues(site).Inc()
	}
}

// ObserveRetry counts a scheduled retry.
func ObserveRetry(kind string) {
	Init()
	retryAttemptsTotal.WithLabelValues(kind).Inc()
}

// ObserveAthlete counts a finished athlete: success, failed or forbidden.
func ObserveAthlete(outcome string) {
	Init()
	athleteOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRowSkips adds n dropped rows of the given kind.
func ObserveRowSkips(kind string, n int) {
	if n <= 0 {
		return
	}
	Init()
	rowSkipsTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveCacheLookup records an orchestrator cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRun records a finished pipeline run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// IncActiveTasks increments the active task gauge.
func IncActiveTasks() {
	Init()
	activeTasks.Inc()
}

// DecActiveTasks decrements the active task gauge.
func DecActiveTasks() {
	Init()
	activeTasks.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
