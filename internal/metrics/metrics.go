// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumentation for the Dispatcher (C7), Event Queue (C6), Store (C2) and
// the thin API surface (§6), adapted from the teacher's metrics.go: the same
// promauto constructor/Record*/Update* shape, re-themed from DuckDB/sync/
// WebSocket metrics to Riven's pipeline metrics (pool saturation, queue
// depth, retry counters, rate-limiter wait time per SPEC_FULL.md §11).
var (
	// Store metrics.
	StoreTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riven_store_tx_duration_seconds",
			Help:    "Duration of Store transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	StoreTxErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riven_store_tx_errors_total",
			Help: "Total Store transaction errors by classification",
		},
		[]string{"kind"}, // transient | conflict | other
	)

	// Event Queue metrics.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riven_event_queue_depth",
			Help: "Current number of pending events in the Event Queue",
		},
	)

	QueueInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riven_event_queue_in_flight",
			Help: "Current number of items claimed by a dispatcher worker (I4)",
		},
	)

	EventsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riven_events_pushed_total",
			Help: "Total events pushed onto the Event Queue",
		},
		[]string{"service"},
	)

	EventsDeduped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riven_events_deduped_total",
			Help: "Total push calls that were no-ops or replaced a pending event (§4.4 dedup)",
		},
		[]string{"service"},
	)

	// Dispatcher metrics.
	PoolSaturation = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riven_pool_saturation",
			Help: "Fraction of a service's worker pool currently busy (0-1)",
		},
		[]string{"service"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riven_handler_duration_seconds",
			Help:    "Duration of a pipeline handler invocation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riven_retries_total",
			Help: "Total retry outcomes by service and §7 error kind",
		},
		[]string{"service", "error_kind"},
	)

	BlacklistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riven_streams_blacklisted_total",
			Help: "Total streams moved to an item's blacklist, by reason",
		},
		[]string{"reason"},
	)

	BackendHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riven_backend_healthy",
			Help: "1 if a registered backend is healthy, 0 otherwise",
		},
		[]string{"backend", "kind"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riven_circuit_breaker_state",
			Help: "Per-service circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	// Rate limiter metrics.
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riven_rate_limit_wait_seconds",
			Help:    "Time a worker spent waiting for a rate limiter token",
			Buckets: []float64{0, .01, .05, .1, .5, 1, 2, 5, 10, 30},
		},
		[]string{"backend"},
	)

	// API surface metrics (§6), kept for parity with the teacher's request
	// instrumentation even though the API surface itself is thin (§1 scope).
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riven_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riven_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riven_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riven_api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections (go-chi/httprate)",
		},
		[]string{"endpoint"},
	)

	// Session metrics (C10).
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riven_sessions_open",
			Help: "Current number of open manual-override sessions",
		},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riven_sessions_expired_total",
			Help: "Total manual-override sessions closed by TTL expiry",
		},
	)
)

// RecordStoreTx records one WithTx call's duration and outcome.
func RecordStoreTx(outcome string, d time.Duration) {
	StoreTxDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordStoreTxError classifies and counts a Store transaction failure.
func RecordStoreTxError(kind string) {
	StoreTxErrors.WithLabelValues(kind).Inc()
}

// RecordHandler records a pipeline handler invocation's duration and the
// §7-taxonomy outcome it produced.
func RecordHandler(service, outcome string, d time.Duration) {
	HandlerDuration.WithLabelValues(service, outcome).Observe(d.Seconds())
}

// RecordRetry counts one retry decision by service and error kind.
func RecordRetry(service, errorKind string) {
	RetriesTotal.WithLabelValues(service, errorKind).Inc()
}

// RecordBlacklist counts one stream moved to a blacklist by reason.
func RecordBlacklist(reason string) {
	BlacklistedTotal.WithLabelValues(reason).Inc()
}

// SetBackendHealth reflects a Service Registry handle's health flag.
func SetBackendHealth(backend, kind string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	BackendHealth.WithLabelValues(backend, kind).Set(v)
}

// SetPoolSaturation reports a service pool's current busy fraction.
func SetPoolSaturation(service string, busy, size int) {
	if size <= 0 {
		PoolSaturation.WithLabelValues(service).Set(0)
		return
	}
	PoolSaturation.WithLabelValues(service).Set(float64(busy) / float64(size))
}

// RecordRateLimitWait records how long a worker blocked on a backend's
// token bucket before proceeding.
func RecordRateLimitWait(backend string, d time.Duration) {
	RateLimitWait.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordAPIRequest records one completed HTTP request (used by
// middleware.PrometheusMetrics).
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight API request
// gauge (used by middleware.PrometheusMetrics).
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

// RecordRateLimitHit counts one httprate rejection for an endpoint.
func RecordRateLimitHit(endpoint string) {
	APIRateLimitHits.WithLabelValues(endpoint).Inc()
}
