// Package metrics exposes Prometheus collectors for the loader service.
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
	transportOpensTotal        *prometheus.CounterVec
	transportIdleTimeoutsTotal prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	loadQueueRejectedTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		transportOpensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loader_transport_opens_total",
				Help: "Total payload requests issued, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)

		transportIdleTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loader_transport_idle_timeouts_total",
				Help: "Total transfers aborted because no bytes arrived within the idle timeout.",
			},
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

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loader_rate_limit_delay_seconds",
				Help:    "Time payload requests spent waiting on the per-host rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"host"},
		)

		loadQueueRejectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loader_queue_rejected_total",
				Help: "Total API loads refused because the load queue was full.",
			},
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

// ObserveOpen records one payload request. A code of 0 means the request
// failed before a response arrived.
func ObserveOpen(rawURL string, code int) {
	Init()
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	transportOpensTotal.WithLabelValues(SanitizeSite(rawURL), label).Inc()
}

// ObserveIdleTimeout increments the idle watchdog counter.
func ObserveIdleTimeout() {
	Init()
	transportIdleTimeoutsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a request waited for its host's token.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveQueueRejected counts a load refused by a full queue.
func ObserveQueueRejected() {
	Init()
	loadQueueRejectedTotal.Inc()
}
