// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/riven-go/riven/internal/api/auth"
	"github.com/riven-go/riven/internal/metrics"
)

// corsMiddleware builds the go-chi/cors handler for the configured origins,
// grounded on the teacher's chi_middleware.go CORS() constructor.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// rateLimitMiddleware applies a per-IP go-chi/httprate limiter to every
// mutating/data endpoint (§5 "shared resources", applied here to the API's
// own surface rather than a backend).
func rateLimitMiddleware(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 120
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RecordRateLimitHit(r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

// requireAuth enforces §6's "all mutating endpoints require a bearer API
// key" — here applied uniformly to every route under /api/v1 since Riven
// has no distinction between read and mutate beyond what spec.md already
// scopes out (auth itself is out of scope per §1; this is the minimal
// bearer check the thin surface needs to exist at all).
func requireAuth(mgr *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || !mgr.Authenticate(token) {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
