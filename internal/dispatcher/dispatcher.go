// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/eventqueue"
	"github.com/riven-go/riven/internal/logging"
	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/pipeline"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/store"
	"github.com/riven-go/riven/internal/streams"
)

// Dispatcher drains the Event Queue and runs each popped event's pipeline
// handler inside one Store transaction (§4.5). It is the only component
// that holds a bounded worker pool per model.ServiceKind; pool capacity is
// enforced with a semaphore rather than a fixed goroutine-per-slot pool,
// grounded on the teacher's gobreaker-guarded call pattern
// (internal/eventprocessor/circuitbreaker.go) generalized from one breaker
// per event-bus topic to one breaker per service kind.
type Dispatcher struct {
	cfg      Config
	queue    *eventqueue.Queue
	store    *store.Store
	handlers *pipeline.Handlers
	services *services.Registry
	bus      Bus
	clk      clock.Clock

	linker   pipeline.Symlinker
	selector pipeline.FileSelector
	libraryPath func(item *model.MediaItem) string

	sems     map[model.ServiceKind]chan struct{}
	breakers map[model.ServiceKind]*gobreaker.CircuitBreaker[interface{}]

	wg sync.WaitGroup
}

// Deps bundles the Dispatcher's collaborators that have no sane zero value.
type Deps struct {
	Queue    *eventqueue.Queue
	Store    *store.Store
	Handlers *pipeline.Handlers
	Services *services.Registry
	Bus      Bus
	Clock    clock.Clock

	// Linker/Selector/LibraryPath plug in the backend-specific pieces the
	// spec keeps out of scope (§1): symlink creation, cached-file matching,
	// and the updater's target library path for an item.
	Linker      pipeline.Symlinker
	Selector    pipeline.FileSelector
	LibraryPath func(item *model.MediaItem) string
}

// New builds a Dispatcher with one semaphore and one circuit breaker per
// configured service kind.
func New(cfg Config, deps Deps) *Dispatcher {
	if deps.Bus == nil {
		deps.Bus = NopBus{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	d := &Dispatcher{
		cfg:         cfg,
		queue:       deps.Queue,
		store:       deps.Store,
		handlers:    deps.Handlers,
		services:    deps.Services,
		bus:         deps.Bus,
		clk:         deps.Clock,
		linker:      deps.Linker,
		selector:    deps.Selector,
		libraryPath: deps.LibraryPath,
		sems:        make(map[model.ServiceKind]chan struct{}),
		breakers:    make(map[model.ServiceKind]*gobreaker.CircuitBreaker[interface{}]),
	}
	for kind, pool := range cfg.Pools {
		size := pool.Size
		if size <= 0 {
			size = 1
		}
		d.sems[kind] = make(chan struct{}, size)
		d.breakers[kind] = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
			Name:        string(kind),
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
			},
		})
	}
	return d
}

// Run is the main dispatch loop (§4.5): pop the next due event, acquire a
// slot in its service's pool (blocking applies backpressure per §4.5 "if
// all pools are saturated, pop_due is not called"), and process it on a
// goroutine so the loop can keep popping for other service kinds.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		default:
		}

		ev, ok := d.queue.PopDue(ctx, d.cfg.PollWait)
		if !ok {
			continue
		}

		sem, known := d.sems[ev.Service]
		if !known {
			logging.Ctx(ctx).Warn().Str("service", string(ev.Service)).Msg("event for unconfigured service kind, dropping")
			d.queue.Release(ev.ItemID)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			d.queue.Release(ev.ItemID)
			d.wg.Wait()
			return ctx.Err()
		}

		d.wg.Add(1)
		go func(ev *model.Event) {
			defer d.wg.Done()
			defer func() { <-sem }()
			defer d.queue.Release(ev.ItemID)
			d.process(ctx, ev)
		}(ev)
	}
}

// process runs one event's pipeline handler inside a single transaction
// (§4.5) and, on success, enqueues follow-up events and publishes the
// transition to the outbound Event Bus.
func (d *Dispatcher) process(ctx context.Context, ev *model.Event) {
	breaker := d.breakers[ev.Service]

	var outcome model.Outcome
	var item *model.MediaItem
	var childIDs []int64

	_, txErr := breaker.Execute(func() (interface{}, error) {
		return nil, d.store.WithTx(ctx, func(tx *store.Tx) error {
			var err error
			item, _, err = tx.LoadItem(ctx, ev.ItemID, 0)
			if err != nil {
				return err
			}

			outcome = d.runHandler(ctx, tx, item, ev)
			childIDs, err = d.commit(ctx, tx, item, ev, outcome)
			return err
		})
	})

	if txErr != nil {
		d.handleTxErr(ctx, ev, txErr)
		return
	}

	d.publish(ctx, item, outcome)
	d.enqueueFollowUps(outcome, childIDs)
}

// handleTxErr implements §4.1's I/O failure semantics for the Dispatcher's
// own commit transaction (as distinct from a handler's Outcome, which
// already went through Store.WithTx and committed cleanly): the
// transaction rolled back, nothing was persisted, and the Store methods
// that produced txErr already classified it onto the §7 taxonomy
// (internal/store/tx.go's classify). A transient failure — including the
// circuit breaker tripping open — is re-enqueued with exponential backoff,
// bounded by maxDispatchRetries. An Internal invariant violation is
// retried exactly once and raises a high-priority alert (§7 "Internal").
// Anything else is left for a manual API retry rather than retried
// forever.
func (d *Dispatcher) handleTxErr(ctx context.Context, ev *model.Event, txErr error) {
	log := logging.Ctx(ctx).Error().Err(txErr).Int64("item_id", ev.ItemID).
		Str("service", string(ev.Service)).Int("attempt", ev.Attempt)

	switch {
	case errors.Is(txErr, model.ErrInternal):
		log.Bool("alert", true).Msg("internal invariant violation committing transition")
		if ev.Attempt < 1 {
			d.requeue(ctx, ev, ev.RunAt, ev.Attempt+1)
			return
		}
		logging.Ctx(ctx).Error().Bool("alert", true).Int64("item_id", ev.ItemID).
			Msg("internal invariant violation persisted after one retry, leaving for manual intervention")

	case errors.Is(txErr, model.ErrTransient), errors.Is(txErr, gobreaker.ErrOpenState), errors.Is(txErr, gobreaker.ErrTooManyRequests):
		if ev.Attempt >= maxDispatchRetries {
			log.Msg("dispatch transaction exhausted retries, leaving for manual retry")
			return
		}
		log.Msg("dispatch transaction failed, re-enqueuing with backoff")
		d.requeue(ctx, ev, d.clk.Now().Add(dispatchRetryBackoff(ev.Attempt)), ev.Attempt+1)

	default:
		log.Msg("dispatch transaction failed with a non-retryable error, leaving for manual retry")
	}
}

// requeue pushes ev back onto the Event Queue carrying attempt forward, so
// a repeatedly failing commit eventually hits maxDispatchRetries instead of
// retrying indefinitely.
func (d *Dispatcher) requeue(ctx context.Context, ev *model.Event, runAt time.Time, attempt int) {
	if _, err := d.queue.PushRetry(ev.ItemID, ev.Service, runAt, ev.Priority, ev.EmittedBy, attempt); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("item_id", ev.ItemID).Msg("re-enqueue after transaction failure failed")
	}
}

// runHandler resolves the read-only context each handler needs (live
// streams, blacklist, rank context) from the same transaction and calls the
// handler named by the event's service kind.
func (d *Dispatcher) runHandler(ctx context.Context, tx *store.Tx, item *model.MediaItem, ev *model.Event) model.Outcome {
	now := d.clk.Now()

	switch ev.Service {
	case model.ServiceIndexer:
		return d.handlers.HandleIndex(ctx, item, now)

	case model.ServiceScraper:
		live, err := tx.LiveStreams(ctx, item.ID)
		if err != nil {
			return model.Outcome{Kind: model.OutcomeRetry, RunAt: now, Err: err}
		}
		blacklisted, err := tx.Blacklisted(ctx, item.ID)
		if err != nil {
			return model.Outcome{Kind: model.OutcomeRetry, RunAt: now, Err: err}
		}
		return d.handlers.HandleScrape(ctx, item, rankContextFor(item), false, live, blacklisted, now)

	case model.ServiceDownloader:
		live, err := tx.LiveStreams(ctx, item.ID)
		if err != nil {
			return model.Outcome{Kind: model.OutcomeRetry, RunAt: now, Err: err}
		}
		if d.selector == nil {
			return model.Outcome{Kind: model.OutcomeFail, Err: model.ErrConfig}
		}
		return d.handlers.HandleDownload(ctx, item, live, nil, d.selector, now)

	case model.ServiceSymlinker:
		if d.linker == nil {
			return model.Outcome{Kind: model.OutcomeFail, Err: model.ErrConfig}
		}
		return d.handlers.HandleSymlink(ctx, item, d.linker, item.FailedAttempts, now)

	case model.ServiceUpdater:
		libraryPath := ""
		if d.libraryPath != nil {
			libraryPath = d.libraryPath(item)
		}
		return d.handlers.HandleUpdate(ctx, item, libraryPath, now)

	case model.ServicePostProcessor:
		return d.handlers.HandlePostProcess(ctx, item, now)

	default:
		return model.Outcome{Kind: model.OutcomeFail, Err: fmt.Errorf("%w: unknown service %q", model.ErrInternal, ev.Service)}
	}
}

func rankContextFor(item *model.MediaItem) streams.RankContext {
	return streams.RankContext{
		Kind:          item.Kind,
		IsAnime:       item.IsAnime,
		SeasonNumber:  item.SeasonNumber,
		EpisodeNumber: item.EpisodeNumber,
	}
}

// maxDispatchRetries bounds how many times the Dispatcher re-enqueues the
// same event after its own commit transaction fails transiently (§4.1),
// distinct from the domain-level Scraper/Downloader attempt caps enforced
// inside the Pipeline Handlers (statemachine.RetryConfig).
const maxDispatchRetries = 10

// dispatchRetryBackoff doubles from a 10s base, capped at 30m, for a
// Dispatcher-level re-enqueue after a Store transaction failure.
func dispatchRetryBackoff(attempt int) time.Duration {
	delay := 10 * time.Second
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= 30*time.Minute {
			return 30 * time.Minute
		}
	}
	return delay
}
