// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit provides the per-backend token-bucket limiters shared by
// every worker that calls a scraper/downloader/updater backend (§5 "Shared
// resources"). Grounded on golang.org/x/time/rate, the same package the
// teacher repo uses for its HTTP-layer rate limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes the token-bucket caps for one backend. PerSecond is
// required; PerMinute/PerHour are optional additional ceilings layered on
// top (all three gates must allow a request before it proceeds).
type Config struct {
	PerSecond float64
	PerMinute float64 // 0 = no additional cap
	PerHour   float64 // 0 = no additional cap
	Burst     int     // 0 defaults to max(1, PerSecond)
}

// Limiter gates calls to a single backend through up to three stacked
// token buckets.
type Limiter struct {
	name    string
	second  *rate.Limiter
	minute  *rate.Limiter
	hour    *rate.Limiter
}

// New creates a Limiter for a named backend.
func New(name string, cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.PerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	l := &Limiter{
		name:   name,
		second: rate.NewLimiter(rate.Limit(cfg.PerSecond), burst),
	}
	if cfg.PerMinute > 0 {
		l.minute = rate.NewLimiter(rate.Limit(cfg.PerMinute/60.0), int(cfg.PerMinute))
	}
	if cfg.PerHour > 0 {
		l.hour = rate.NewLimiter(rate.Limit(cfg.PerHour/3600.0), int(cfg.PerHour))
	}
	return l
}

// Wait blocks until all configured buckets admit one token, or ctx is
// cancelled. Workers call this immediately before every external call to a
// backend (§5 "Suspension/blocking points").
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.second.Wait(ctx); err != nil {
		return err
	}
	if l.minute != nil {
		if err := l.minute.Wait(ctx); err != nil {
			return err
		}
	}
	if l.hour != nil {
		if err := l.hour.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Allow reports whether a request may proceed right now without blocking,
// consuming a token from every bucket if so. Used by health checks that
// must not stall.
func (l *Limiter) Allow() bool {
	if !l.second.Allow() {
		return false
	}
	if l.minute != nil && !l.minute.Allow() {
		return false
	}
	if l.hour != nil && !l.hour.Allow() {
		return false
	}
	return true
}

// Name returns the backend name this limiter was created for.
func (l *Limiter) Name() string { return l.name }

// Registry holds one Limiter per backend name, created lazily from a
// per-kind default and any per-backend override.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults map[string]Config
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		defaults: make(map[string]Config),
	}
}

// Configure registers (or replaces) the Config for a backend name. Must be
// called before the first Get for that name, typically during Service
// Registry construction from configuration.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[name] = cfg
	r.limiters[name] = New(name, cfg)
}

// Get returns the Limiter for a backend, creating a conservative 1/s
// default if none was configured.
func (r *Registry) Get(name string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[name]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		return l
	}
	l = New(name, Config{PerSecond: 1, Burst: 1})
	r.limiters[name] = l
	return l
}

// WaitFor is a convenience combining Get+Wait, with a deadline derived from
// the caller's timeout so a saturated limiter cannot stall a worker forever.
func WaitFor(ctx context.Context, r *Registry, backend string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Get(backend).Wait(ctx)
}
