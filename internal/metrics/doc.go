// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package metrics provides Prometheus instrumentation for the Dispatcher (C7),
Event Queue (C6), Store (C2), rate limiter (C1) and the thin outer API
surface (§6).

# Metrics Endpoint

Metrics are exposed at /metrics in Prometheus text format via
promhttp.Handler(), mounted by cmd/server alongside the rest of the thin API
router.

# Available Metrics

Store:
  - riven_store_tx_duration_seconds: WithTx duration (histogram, by outcome)
  - riven_store_tx_errors_total: transaction failures (counter, by kind)

Event Queue / Dispatcher:
  - riven_event_queue_depth: pending events (gauge)
  - riven_event_queue_in_flight: claimed items, I4 (gauge)
  - riven_events_pushed_total / riven_events_deduped_total: push outcomes
  - riven_pool_saturation: per-service worker pool busy fraction (gauge)
  - riven_handler_duration_seconds: pipeline handler latency, by outcome
  - riven_retries_total: retry decisions, by service and §7 error kind
  - riven_streams_blacklisted_total: blacklist insertions, by reason
  - riven_backend_healthy: Service Registry handle health (gauge)
  - riven_circuit_breaker_state: gobreaker state per service

Rate limiter:
  - riven_rate_limit_wait_seconds: time spent waiting for a token

API (§6, thin surface only):
  - riven_api_requests_total / riven_api_request_duration_seconds
  - riven_api_active_requests / riven_api_rate_limit_hits_total

Manual Session Manager (C10):
  - riven_sessions_open / riven_sessions_expired_total

# See Also

  - internal/middleware: PrometheusMetrics records API request count,
    duration and active requests
  - internal/api: records rate-limit hits and download_denied blacklist
    insertions

The remaining Store, Event Queue, Dispatcher, rate-limiter and session
metrics are defined here with Record*/Set* helpers, but no other package
calls those helpers, so they stay at their zero values.
*/
package metrics
