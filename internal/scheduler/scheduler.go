// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler implements the periodic jobs of C9 (spec §4.8/§4.9):
// content polling, library rescan, retry sweep, and ongoing/unreleased/ended
// recheck. Each job is its own goroutine ticking on the injected Clock, so
// tests can drive a whole cadence deterministically with clock.Fake instead
// of sleeping. The lifecycle (mutex-guarded run-once Start/Stop, a stopCh/
// doneCh pair) is adapted from the teacher's newsletter delivery scheduler.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/eventqueue"
	"github.com/riven-go/riven/internal/logging"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/store"
)

// Deps bundles the Scheduler's collaborators.
type Deps struct {
	Store    *store.Store
	Queue    *eventqueue.Queue
	Services *services.Registry
	Clock    clock.Clock

	// LibraryRoot is the filesystem root the library rescan job walks for
	// broken symlinks; empty disables that job.
	LibraryRoot string
}

// Scheduler runs the periodic jobs described by Config. It holds no
// business logic of its own beyond cadence: each job pushes events onto the
// same Event Queue the Dispatcher drains, so a scheduled item is handled by
// the ordinary pipeline.
type Scheduler struct {
	cfg   Config
	store *store.Store
	queue *eventqueue.Queue
	svcs  *services.Registry
	clk   clock.Clock

	libraryRoot string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a Scheduler. It does nothing until Start is called.
func New(cfg Config, deps Deps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Scheduler{
		cfg:         cfg,
		store:       deps.Store,
		queue:       deps.Queue,
		svcs:        deps.Services,
		clk:         deps.Clock,
		libraryRoot: deps.LibraryRoot,
	}
}

// Start launches one goroutine per job. It is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(6)
	go s.runLoop(ctx, &wg, "content_poll", s.cfg.ContentPollInterval, s.pollContentSources)
	go s.runLoop(ctx, &wg, "retry_sweep", s.cfg.RetrySweepInterval, s.retrySweep)
	go s.runLoop(ctx, &wg, "library_rescan", s.cfg.LibraryRescanInterval, s.libraryRescan)
	go s.runLoop(ctx, &wg, "unreleased_recheck", s.cfg.UnreleasedRecheckInterval, s.unreleasedRecheck)
	go s.runLoop(ctx, &wg, "ongoing_recheck", s.cfg.OngoingRecheckInterval, s.ongoingRecheck)
	go s.runLoop(ctx, &wg, "ended_recheck", s.cfg.EndedRecheckInterval, s.endedRecheck)

	go func() {
		wg.Wait()
		close(s.doneCh)
	}()
}

// Stop signals every job to exit and blocks until they do.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// runLoop ticks fn on the configured interval until ctx is cancelled or Stop
// is called, running fn once immediately on entry like the teacher's
// checkAndExecute-on-start behavior.
func (s *Scheduler) runLoop(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, fn func(ctx context.Context)) {
	defer wg.Done()
	if interval <= 0 {
		return
	}

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Ctx(ctx).Error().Interface("panic", r).Str("job", name).Msg("scheduler job panicked")
			}
		}()
		fn(ctx)
	}

	run()
	for {
		timer := s.clk.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C():
			run()
		}
	}
}
