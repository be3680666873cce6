// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/riven-go/riven/internal/logging"
	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/statemachine"
	"github.com/riven-go/riven/internal/store"
)

// hasActiveStream implements statemachine.HasActiveStream directly off the
// already-loaded row: active_stream_id lives on media_items itself, so no
// extra Streams query is needed here (unlike the Dispatcher, which re-reads
// it from within the handling transaction).
func hasActiveStream(item *model.MediaItem) bool {
	return item.ActiveStreamID != nil
}

// pollContentSources implements §4.8's content polling: every enabled
// ContentSource backend is polled, and any item it reports that the Store
// does not already know (by external id, R1-style dedup) is created in
// Requested state and handed to the Indexer.
func (s *Scheduler) pollContentSources(ctx context.Context) {
	now := s.clk.Now()
	for _, h := range s.svcs.Enabled(model.ServiceContentSource, nil) {
		source, ok := h.Backend.(services.ContentSource)
		if !ok {
			continue
		}
		items, err := source.Poll(ctx, nil)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("backend", h.Backend.Name()).Msg("content source poll failed")
			continue
		}
		for _, ci := range items {
			s.requestItem(ctx, ci, now)
		}
	}
}

func (s *Scheduler) requestItem(ctx context.Context, ci services.ContentSourceItem, now time.Time) {
	var imdb, tvdb, tmdb, trakt string
	switch ci.IDKind {
	case "imdb":
		imdb = ci.ExternalID
	case "tvdb":
		tvdb = ci.ExternalID
	case "tmdb":
		tmdb = ci.ExternalID
	case "trakt":
		trakt = ci.ExternalID
	}

	if _, err := s.store.FindItemByExternalID(ctx, ci.Kind, imdb, tvdb, tmdb, trakt); err == nil {
		return
	} else if !errors.Is(err, model.ErrNotFound) {
		logging.Ctx(ctx).Warn().Err(err).Msg("external id lookup failed")
		return
	}

	var id int64
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		item := &model.MediaItem{
			Kind:        ci.Kind,
			RequestedAt: now,
			RequestedBy: "scheduler",
			State:       model.StateRequested,
			LastStateAt: now,
		}
		switch ci.IDKind {
		case "imdb":
			item.ImdbID = &imdb
		case "tvdb":
			item.TvdbID = &tvdb
		case "tmdb":
			item.TmdbID = &tmdb
		case "trakt":
			item.TraktID = &trakt
		}
		created, err := tx.CreateItem(ctx, item)
		id = created
		return err
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("create item from content source failed")
		return
	}
	if _, err := s.queue.Push(id, model.ServiceIndexer, now, 0, string(model.EmittedByScheduler)); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("item_id", id).Msg("enqueue indexer for new item failed")
	}
}

// retrySweep implements §4.8's retry sweep: items with next_retry_at <= now
// are handed back to the State Machine to decide which service picks them
// up next (the stage that set next_retry_at, almost always) and re-enqueued.
func (s *Scheduler) retrySweep(ctx context.Context) {
	now := s.clk.Now()
	items, err := s.store.ItemsNeeding(ctx, "next_retry_at IS NOT NULL AND next_retry_at <= ?", []any{now}, 500)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("retry sweep query failed")
		return
	}
	for _, item := range items {
		decision := statemachine.Next(item, s.svcs, now, false, hasActiveStream)
		if decision.Kind != statemachine.DecisionNextService {
			continue
		}
		if _, err := s.queue.Push(item.ID, decision.Service, now, s.priority(item, now), string(model.EmittedByScheduler)); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("item_id", item.ID).Msg("enqueue retry failed")
		}
	}
}

// libraryRescan implements §4.8's library rescan: walks every leaf item
// with a recorded symlink_path and reconciles it against the filesystem.
// A symlink that no longer resolves (the teacher's rclone mount dropped it,
// or an operator deleted it by hand) sends the item back to Downloaded so
// the Symlinker retries; it never touches files itself (§6 - the
// Symlinker only creates symlinks, it never moves or copies).
func (s *Scheduler) libraryRescan(ctx context.Context) {
	if s.libraryRoot == "" {
		return
	}
	now := s.clk.Now()
	items, err := s.store.ItemsNeeding(ctx, "symlink_path IS NOT NULL AND state IN (?, ?)", []any{model.StateSymlinked, model.StateCompleted}, 2000)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("library rescan query failed")
		return
	}

	sem := make(chan struct{}, max(1, s.cfg.RescanConcurrency))
	var wg sync.WaitGroup
	for _, item := range items {
		if item.SymlinkPath == nil {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item *model.MediaItem) {
			defer wg.Done()
			defer func() { <-sem }()
			s.reconcileSymlink(ctx, item, now)
		}(item)
	}
	wg.Wait()
}

func (s *Scheduler) reconcileSymlink(ctx context.Context, item *model.MediaItem, now time.Time) {
	if _, err := os.Lstat(*item.SymlinkPath); err == nil {
		return
	}

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.RecordTransition(ctx, item.ID, item.State, model.StateDownloaded, now, map[string]any{
			"symlink_path": "",
		})
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("item_id", item.ID).Msg("reconcile broken symlink failed")
		return
	}
	if _, err := s.queue.Push(item.ID, model.ServiceSymlinker, now, 0, string(model.EmittedByScheduler)); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("item_id", item.ID).Msg("enqueue symlinker after rescan failed")
	}
}

// unreleasedRecheck implements §4.9's weekly check for shows with no aired
// episodes yet.
func (s *Scheduler) unreleasedRecheck(ctx context.Context) {
	s.recheckShows(ctx, model.ShowUnreleased)
}

// ongoingRecheck implements §4.9's 24h check for shows actively airing. It
// runs on the ongoing cadence only: next_air_date is not consulted, so a
// passed next_air_date does not bring the check forward.
func (s *Scheduler) ongoingRecheck(ctx context.Context) {
	s.recheckShows(ctx, model.ShowOngoing)
}

// endedRecheck implements §4.9's monthly check for shows believed finished,
// to pick up reboots/specials.
func (s *Scheduler) endedRecheck(ctx context.Context) {
	s.recheckShows(ctx, model.ShowEnded)
}

func (s *Scheduler) recheckShows(ctx context.Context, status model.ShowStatus) {
	now := s.clk.Now()
	items, err := s.store.ItemsNeeding(ctx, "show_status = ? AND kind IN (?, ?)", []any{status, model.KindShow, model.KindSeason}, 500)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("show_status", string(status)).Msg("recheck query failed")
		return
	}
	for _, item := range items {
		if _, err := s.queue.Push(item.ID, model.ServiceIndexer, now, s.priority(item, now), string(model.EmittedByScheduler)); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("item_id", item.ID).Msg("enqueue recheck failed")
		}
	}
}

// priority implements §4.9's "items requested in last 24h get one priority
// tier higher": lower numeric priority is popped first (model.Event.Less),
// so recently requested items get priority-1 instead of the default 0.
func (s *Scheduler) priority(item *model.MediaItem, now time.Time) int {
	if now.Sub(item.RequestedAt) <= s.cfg.RecentRequestWindow {
		return -1
	}
	return 0
}

