// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the thin HTTP surface of §6: a typed boundary over
// the Store/Event Queue/Dispatcher/Session Manager/Event Bus, never a
// second copy of their logic. Grounded on the teacher's internal/api
// package (chi_router.go/chi_middleware.go route-group-plus-middleware-
// chain shape), re-themed from the teacher's analytics/auth/newsletter
// surface to Riven's items/streams/sessions/stats catalog.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riven-go/riven/internal/api/auth"
	"github.com/riven-go/riven/internal/config"
	"github.com/riven-go/riven/internal/dispatcher"
	"github.com/riven-go/riven/internal/eventbus"
	"github.com/riven-go/riven/internal/eventqueue"
	"github.com/riven-go/riven/internal/middleware"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/session"
	"github.com/riven-go/riven/internal/store"
	"github.com/riven-go/riven/internal/streams"
)

// Deps bundles every collaborator the thin API surface reads from or
// writes through. It never holds business logic of its own beyond request
// decoding/encoding and routing.
type Deps struct {
	Store     *store.Store
	Queue     *eventqueue.Queue
	Services  *services.Registry
	Streams   *streams.Registry
	Sessions  *session.Manager
	Bus       *eventbus.Bus
	AuthMgr   *auth.Manager
	Config    config.APIConfig
}

// asChiMiddleware adapts the teacher's http.HandlerFunc-chain middleware
// shape (internal/middleware) to chi's func(http.Handler) http.Handler.
func asChiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// NewRouter builds the full chi router for the §6 endpoint catalog.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(asChiMiddleware(middleware.RequestID))
	r.Use(asChiMiddleware(middleware.PrometheusMetrics))
	r.Use(corsMiddleware(deps.Config.CORSOrigins))

	h := &handlers{deps: deps}

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(rateLimitMiddleware(deps.Config.RatePerMinute))
		v1.Use(requireAuth(deps.AuthMgr))

		v1.Post("/auth/exchange", h.exchangeToken)

		v1.Get("/items", h.listItems)
		v1.Post("/items", h.createItem)
		v1.Get("/items/{id}", h.getItem)
		v1.Delete("/items/{id}", h.deleteItem)
		v1.Post("/items/{id}/retry", h.retryItem)
		v1.Post("/items/{id}/reset", h.resetItem)
		v1.Post("/items/{id}/reindex", h.reindexItem)

		v1.Post("/scrape", h.manualScrape)

		v1.Get("/streams/{item_id}", h.listStreams)
		v1.Post("/streams/{item_id}/blacklist/{infohash}", h.blacklistStream)
		v1.Post("/streams/{item_id}/reset", h.resetStreams)

		v1.Get("/stats", h.stats)
		v1.Get("/stream", h.streamSSE)

		v1.Post("/webhook/show-update", h.webhookShowUpdate)
	})

	return r
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
