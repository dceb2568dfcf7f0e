// Package metrics exposes this worker's Prometheus metrics, grounded on the
// teacher's pkg/infra/metrics/prometheus.go shape: promauto collectors plus an HTTP
// middleware and a /metrics handler, with the business metrics swapped for this
// server's session/ranked domain.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_http_requests_total",
			Help: "Total number of HTTP requests served by this worker",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// ActiveSessions is this worker's current concurrent-session count, mirroring the
	// CCU value reported to the external matchmaker on check-in.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active_sessions",
			Help: "Number of sessions currently live on this worker",
		},
	)

	// SessionsStartedTotal and SessionsEndedTotal count the Lobby->Active and
	// ->Finished transitions. The Session Manager does not increment them.
	SessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_sessions_started_total",
			Help: "Total number of sessions that entered the Active state",
		},
	)

	SessionsEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_sessions_ended_total",
			Help: "Total number of sessions that reached the Finished state",
		},
		[]string{"reason"},
	)

	DesyncEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_desync_events_total",
			Help: "Total number of reconciliation windows that produced a desync notification",
		},
	)

	MatchmakingQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_matchmaking_queue_size",
			Help: "Current number of queued ranked tickets",
		},
		[]string{"mode", "region"},
	)

	RankedMatchesCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_ranked_matches_completed_total",
			Help: "Total number of ranked matches that reached a rated outcome",
		},
	)

	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the per-IP rate limiter",
		},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments every request except /metrics itself.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		start := time.Now()
		wrapped := newResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, normalizePath(r.URL.Path), status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, normalizePath(r.URL.Path)).Observe(duration)
	})
}

func normalizePath(path string) string {
	if len(path) > 50 {
		return path[:50]
	}
	return path
}

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
