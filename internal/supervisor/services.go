// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/riven-go/riven/internal/clock"
)

// FuncService adapts any blocking func(ctx) error into a suture.Service, for
// components whose Run method already blocks until ctx is done (the
// Dispatcher's dispatch loop, the Event Bus's own lifecycle).
type FuncService struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncService wraps fn, naming it name for supervisor logging.
func NewFuncService(name string, fn func(ctx context.Context) error) *FuncService {
	return &FuncService{name: name, fn: fn}
}

func (s *FuncService) Serve(ctx context.Context) error { return s.fn(ctx) }
func (s *FuncService) String() string                  { return s.name }

// TickerService runs fn on every tick of interval, ticking off clk rather
// than time.Ticker so tests can drive it with clock.Fake. Used for the
// Session Manager's expiry sweep (C10, §4.10), which has no run-loop of its
// own the way the Scheduler does.
type TickerService struct {
	name     string
	interval time.Duration
	clk      clock.Clock
	fn       func(ctx context.Context) error
}

// NewTickerService builds a TickerService. clk defaults to the real clock
// if nil.
func NewTickerService(name string, interval time.Duration, clk clock.Clock, fn func(ctx context.Context) error) *TickerService {
	if clk == nil {
		clk = clock.New()
	}
	return &TickerService{name: name, interval: interval, clk: clk, fn: fn}
}

func (s *TickerService) Serve(ctx context.Context) error {
	timer := s.clk.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			if err := s.fn(ctx); err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
			timer.Reset(s.interval)
		}
	}
}

func (s *TickerService) String() string { return s.name }

// HTTPServer matches *http.Server's lifecycle methods, letting
// HTTPServerService avoid a direct net/http dependency in its signature
// (useful for tests). Grounded on the teacher's
// internal/supervisor/services/http_service.go, unchanged beyond naming.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService wraps an HTTP server as a supervised service, bridging
// its blocking ListenAndServe to suture's context-aware Serve.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService builds an HTTPServerService.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "http-server" }

// SchedulerLike matches *scheduler.Scheduler's non-blocking Start/Stop
// lifecycle, letting SchedulerService wrap it without importing
// internal/scheduler (keeping this package's dependency graph one-way).
type SchedulerLike interface {
	Start(ctx context.Context)
	Stop()
}

// SchedulerService adapts a non-blocking Start(ctx)/Stop() component (the
// Scheduler) into a blocking suture.Service.
type SchedulerService struct {
	sched SchedulerLike
}

// NewSchedulerService wraps sched.
func NewSchedulerService(sched SchedulerLike) *SchedulerService {
	return &SchedulerService{sched: sched}
}

func (s *SchedulerService) Serve(ctx context.Context) error {
	s.sched.Start(ctx)
	<-ctx.Done()
	s.sched.Stop()
	return ctx.Err()
}

func (s *SchedulerService) String() string { return "scheduler" }
