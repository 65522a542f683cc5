// Package metrics exposes Prometheus collectors for the SEO pipeline service.
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
	syncRowsTotal              *prometheus.CounterVec
	syncFailuresTotal          *prometheus.CounterVec
	crawlPagesTotal            *prometheus.CounterVec
	crawlDefectsTotal          *prometheus.CounterVec
	crawlFetchDurationSeconds  prometheus.Histogram
	crawlRateLimitDelaySeconds *prometheus.HistogramVec
	alertsFiredTotal           *prometheus.CounterVec
	indexNowSubmissionsTotal   *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_sync_rows_total",
				Help: "Total number of metric rows upserted, labeled by dimension.",
			},
			[]string{"dimension"},
		)

		syncFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_sync_failures_total",
				Help: "Total number of failed day/dimension pulls, labeled by dimension.",
			},
			[]string{"dimension"},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_crawl_pages_total",
				Help: "Total number of pages checked, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		crawlDefectsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_crawl_defects_total",
				Help: "Total number of defects flagged, labeled by defect.",
			},
			[]string{"defect"},
		)

		crawlFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "seo_crawl_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		crawlRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seo_crawl_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host crawl pacer.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		alertsFiredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_alerts_fired_total",
				Help: "Total number of alert rule firings, labeled by rule and severity.",
			},
			[]string{"rule", "severity"},
		)

		indexNowSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_indexnow_submissions_total",
				Help: "Total number of IndexNow submissions, labeled by response code.",
			},
			[]string{"code"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
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

// StatusClass buckets an HTTP status code; 0 maps to "error".
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSyncRows adds upserted rows for a dimension.
func ObserveSyncRows(dimension string, rows int64) {
	Init()
	if rows > 0 {
		syncRowsTotal.WithLabelValues(dimension).Add(float64(rows))
	}
}

// ObserveSyncFailure counts one failed day/dimension pull.
func ObserveSyncFailure(dimension string) {
	Init()
	syncFailuresTotal.WithLabelValues(dimension).Inc()
}

// ObserveCrawl records one checked page.
func ObserveCrawl(site string, statusCode int, duration time.Duration) {
	Init()
	crawlPagesTotal.WithLabelValues(SanitizeSite(site), StatusClass(statusCode)).Inc()
	crawlFetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveDefect counts one flagged defect.
func ObserveDefect(defect string) {
	Init()
	crawlDefectsTotal.WithLabelValues(defect).Inc()
}

// ObserveRateLimitDelay records a pacing wait for a host.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	crawlRateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(d.Seconds())
}

// ObserveAlert counts one rule firing.
func ObserveAlert(rule, severity string) {
	Init()
	alertsFiredTotal.WithLabelValues(rule, severity).Inc()
}

// ObserveSubmission counts one IndexNow call by response code (0 for transport errors).
func ObserveSubmission(code int) {
	Init()
	indexNowSubmissionsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
