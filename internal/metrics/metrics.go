// Package metrics exposes Prometheus collectors for the archiver.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	listingFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gazette_listing_fetches_total",
			Help: "Total number of listing page fetches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	candidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gazette_candidates_total",
			Help: "Total number of candidate documents classified, labeled by novelty.",
		},
		[]string{"novelty"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gazette_downloads_total",
			Help: "Total number of document downloads, labeled by final status.",
		},
		[]string{"status"},
	)

	downloadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gazette_downloaded_bytes_total",
			Help: "Total number of payload bytes written to blob storage.",
		},
	)

	relayDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gazette_relay_dispatch_total",
			Help: "Total number of relay dispatches, labeled by stage and outcome.",
		},
		[]string{"stage", "outcome"},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gazette_rate_limit_delays_seconds",
			Help:    "Histogram of politeness wait durations before outbound fetches.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"site"},
	)
)

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveListingFetch counts one listing fetch.
func ObserveListingFetch(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	listingFetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCandidate counts one classified candidate ("new", "seen" or "retry").
func ObserveCandidate(novelty string) {
	candidatesTotal.WithLabelValues(novelty).Inc()
}

// ObserveDownload counts a finished download and the bytes it stored.
func ObserveDownload(status string, size int64) {
	downloadsTotal.WithLabelValues(status).Inc()
	if size > 0 {
		downloadedBytesTotal.Add(float64(size))
	}
}

// ObserveRelay counts a relay dispatch attempt.
func ObserveRelay(stage string, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "dropped"
	}
	relayDispatchTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(site).Observe(duration.Seconds())
}
