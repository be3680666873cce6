// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package supervisor wires every long-running component (C7-C11, the API
// listener) into a thejerf/suture/v4 tree so a panic or returned error in
// one restarts just that branch instead of taking the whole process down.
// Adapted from the teacher's internal/supervisor package: same three-layer
// shape (root supervisor with data/workers/api children), re-themed from
// Cartographus's WAL/sync-manager/websocket layers to Riven's event-queue
// durability, dispatch/scheduling, and HTTP surface.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree tunables (§10.1 "every component logs
// through the same package" extends to supervisor restart events).
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig mirrors suture's own documented defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree organizes Riven's long-running components into three failure
// domains:
//   - storage: the event queue WAL checkpoint/compaction loop (if enabled)
//   - workers: Dispatcher, Scheduler, Session Manager sweep, Event Bus
//   - api: the HTTP listener
//
// A crash in the workers layer (e.g. a wedged backend) does not take down
// the API, which can keep serving reads against the Store.
type Tree struct {
	root    *suture.Supervisor
	storage *suture.Supervisor
	workers *suture.Supervisor
	api     *suture.Supervisor
}

// New builds a Tree. logger receives suture's structured lifecycle events
// (service start/stop/backoff) via sutureslog, bridged from zerolog by
// logging.NewSlogLogger().
func New(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("riven", rootSpec)
	storage := suture.New("storage", childSpec)
	workers := suture.New("workers", childSpec)
	api := suture.New("api", childSpec)

	root.Add(storage)
	root.Add(workers)
	root.Add(api)

	return &Tree{root: root, storage: storage, workers: workers, api: api}
}

// AddStorage registers a service in the storage failure domain.
func (t *Tree) AddStorage(svc suture.Service) suture.ServiceToken { return t.storage.Add(svc) }

// AddWorker registers a service in the workers failure domain.
func (t *Tree) AddWorker(svc suture.Service) suture.ServiceToken { return t.workers.Add(svc) }

// AddAPI registers a service in the API failure domain.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

// ServeBackground starts the tree and returns a channel that receives the
// final error (or nil) when the root supervisor stops.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport reports services that failed to stop within
// ShutdownTimeout, surfaced at shutdown for operator diagnosis.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
