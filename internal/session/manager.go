// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the Manual Session Manager (C10, spec §4.10):
// interactive scrape/choose/download overrides that bypass the autonomous
// state machine for one item. Opening a Session cancels pending autonomous
// events for its item; closing (explicitly or by TTL expiry) re-enqueues the
// item so the Dispatcher resumes normal scheduling. The lifecycle mirrors
// the teacher's newsletter delivery scheduler, reduced to a mutex around
// Open plus a periodic sweep over the Store's open sessions (no in-memory
// timers), adapted from "scheduled newsletter sends" to "session TTL
// expirations."
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/eventqueue"
	"github.com/riven-go/riven/internal/logging"
	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/store"
	"github.com/riven-go/riven/internal/streams"
)

func rankContextFor(item *model.MediaItem) streams.RankContext {
	return streams.RankContext{
		Kind:          item.Kind,
		IsAnime:       item.IsAnime,
		SeasonNumber:  item.SeasonNumber,
		EpisodeNumber: item.EpisodeNumber,
	}
}

// Config controls session TTL and the expiry sweep cadence.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// DefaultConfig applies a 30-minute session TTL, swept every minute.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Minute, SweepInterval: time.Minute}
}

// Manager implements C10. It holds no session state of its own beyond what
// the Store persists; restart-safety comes from OpenSessions rehydrating
// in-memory bookkeeping (none is needed beyond the sweep, which is stateless
// and just re-reads the Store each tick).
type Manager struct {
	cfg     Config
	store   *store.Store
	queue   *eventqueue.Queue
	svcs    *services.Registry
	streams *streams.Registry
	clk     clock.Clock

	mu sync.Mutex
}

// Deps bundles the Manager's collaborators.
type Deps struct {
	Store    *store.Store
	Queue    *eventqueue.Queue
	Services *services.Registry
	Streams  *streams.Registry
	Clock    clock.Clock
}

// New builds a Manager.
func New(cfg Config, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Manager{cfg: cfg, store: deps.Store, queue: deps.Queue, svcs: deps.Services, streams: deps.Streams, clk: deps.Clock}
}

// Open creates a Session for itemID and cancels its autonomous events
// (§4.10 "Creating a Session cancels autonomous events for that item").
func (m *Manager) Open(ctx context.Context, itemID int64) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	sess := &model.Session{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
		State:     model.SessionOpen,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	m.queue.Cancel(itemID)
	logging.Ctx(ctx).Info().Str("session_id", sess.ID).Int64("item_id", itemID).Msg("manual session opened")
	return sess, nil
}

// Scrape triggers a one-off scrape for the session's item, merging results
// into the Stream Registry the same way the autonomous Scraper stage does,
// and returns the item's live (non-blacklisted) candidates for the caller
// to choose from.
func (m *Manager) Scrape(ctx context.Context, sessionID string) ([]model.Stream, error) {
	sess, err := m.requireOpen(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	item, _, err := m.loadItem(ctx, sess.ItemID)
	if err != nil {
		return nil, err
	}

	var results []streams.ScrapeResult
	for _, h := range m.svcs.Enabled(model.ServiceScraper, item) {
		scraper, ok := h.Backend.(services.Scraper)
		if !ok {
			continue
		}
		out, err := scraper.Scrape(ctx, item)
		if err != nil {
			m.svcs.MarkUnhealthy(h.Backend.Name(), err.Error())
			continue
		}
		for _, o := range out {
			results = append(results, streams.ScrapeResult{
				Infohash:    o.Infohash,
				RawTitle:    o.RawTitle,
				ParsedTitle: o.ParsedTitle,
				Resolution:  o.Resolution,
				SizeBytes:   o.SizeBytes,
				Seeders:     o.Seeders,
				SourceName:  h.Backend.Name(),
				Cached:      o.Cached,
			})
		}
	}

	now := m.clk.Now()
	var live []model.Stream
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.LiveStreams(ctx, sess.ItemID)
		if err != nil {
			return err
		}
		blacklisted, err := tx.Blacklisted(ctx, sess.ItemID)
		if err != nil {
			return err
		}
		toInsert, _ := m.streams.PlanUpsert(rankContextFor(item), false, existing, blacklisted, results, now)
		added, err := tx.UpsertStreams(ctx, sess.ItemID, toInsert)
		if err != nil {
			return err
		}
		live = append(existing, added...)
		return nil
	})
	return live, err
}

// SelectStream records the user's chosen candidate on the session.
func (m *Manager) SelectStream(ctx context.Context, sessionID string, streamID int64) error {
	sess, err := m.requireOpen(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.SelectedStreamID = &streamID
	return m.store.UpdateSession(ctx, sess)
}

// ListFiles asks the selected stream's downloader backend to cache it and
// returns the files inside, for the user to map onto episodes.
func (m *Manager) ListFiles(ctx context.Context, sessionID string) ([]services.DownloaderFile, error) {
	sess, err := m.requireOpen(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.SelectedStreamID == nil {
		return nil, fmt.Errorf("session: no stream selected")
	}

	item, _, err := m.loadItem(ctx, sess.ItemID)
	if err != nil {
		return nil, err
	}

	var stream *model.Stream
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		live, err := tx.LiveStreams(ctx, sess.ItemID)
		if err != nil {
			return err
		}
		for i := range live {
			if live[i].ID == *sess.SelectedStreamID {
				stream = &live[i]
				return nil
			}
		}
		return fmt.Errorf("session: selected stream %d not found", *sess.SelectedStreamID)
	})
	if err != nil {
		return nil, err
	}

	for _, h := range m.svcs.Enabled(model.ServiceDownloader, item) {
		downloader, ok := h.Backend.(services.Downloader)
		if !ok {
			continue
		}
		res, err := downloader.RequestCache(ctx, stream.Infohash)
		if err != nil {
			m.svcs.MarkUnhealthy(h.Backend.Name(), err.Error())
			continue
		}
		if res.Available {
			return res.Files, nil
		}
	}
	return nil, fmt.Errorf("session: %w: no downloader could cache stream", model.ErrNotAvailableYet)
}

// SelectFiles records the user's per-item file mapping for a show-pack
// commit.
func (m *Manager) SelectFiles(ctx context.Context, sessionID string, selections []model.FileSelection) error {
	sess, err := m.requireOpen(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.SelectedFiles = selections
	return m.store.UpdateSession(ctx, sess)
}

// Commit applies the user's selections directly, bypassing the ranker
// (§4.10 "Commit runs the Downloader path with the user's selections").
// Only the leaf items named in SelectedFiles transition to Downloaded; any
// siblings resume autonomous scheduling once the session closes (Open
// Question #3, DESIGN.md).
func (m *Manager) Commit(ctx context.Context, sessionID string) error {
	sess, err := m.requireOpen(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.SelectedStreamID == nil || len(sess.SelectedFiles) == 0 {
		return fmt.Errorf("session: commit requires a selected stream and file mapping")
	}

	sess.State = model.SessionCommitting
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return err
	}

	now := m.clk.Now()
	var followUps []model.FollowUp
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, sel := range sess.SelectedFiles {
			leaf, _, err := tx.LoadItem(ctx, sel.ItemID, 0)
			if err != nil {
				return err
			}
			if err := tx.SetActiveStream(ctx, sel.ItemID, nil); err != nil {
				return err
			}
			if err := tx.RecordTransition(ctx, sel.ItemID, leaf.State, model.StateDownloaded, now, map[string]any{
				"file_name":           sel.FileName,
				"file_size":           sel.FileSize,
				"clear_active_stream": true,
			}); err != nil {
				return err
			}
			followUps = append(followUps, model.FollowUp{ItemID: sel.ItemID, Service: model.ServiceSymlinker, RunAt: now})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, fu := range followUps {
		if _, err := m.queue.Push(fu.ItemID, fu.Service, fu.RunAt, fu.Priority, string(model.EmittedByAPI)); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("item_id", fu.ItemID).Msg("session commit: failed to enqueue symlink follow-up")
		}
	}

	return m.Close(ctx, sessionID)
}

// Close marks the session closed and resumes autonomous scheduling for its
// item (§4.10 "Closing the session resumes autonomous scheduling").
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	sess, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State == model.SessionClosed {
		return nil
	}
	sess.State = model.SessionClosed
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return err
	}
	_, err = m.queue.Push(sess.ItemID, model.ServiceIndexer, m.clk.Now(), 0, string(model.EmittedByAPI))
	return err
}

// SweepExpired closes every open session past its TTL and resumes
// autonomous scheduling for its item. Intended to run on Config.SweepInterval.
func (m *Manager) SweepExpired(ctx context.Context) error {
	open, err := m.store.OpenSessions(ctx)
	if err != nil {
		return err
	}
	now := m.clk.Now()
	for _, sess := range open {
		if !sess.Expired(now) {
			continue
		}
		if err := m.Close(ctx, sess.ID); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("session_id", sess.ID).Msg("failed to close expired session")
			continue
		}
		logging.Ctx(ctx).Info().Str("session_id", sess.ID).Int64("item_id", sess.ItemID).Msg("manual session expired")
	}
	return nil
}

func (m *Manager) requireOpen(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != model.SessionOpen {
		return nil, fmt.Errorf("session: %s is not open", sessionID)
	}
	if sess.Expired(m.clk.Now()) {
		_ = m.Close(ctx, sessionID)
		return nil, fmt.Errorf("session: %s has expired", sessionID)
	}
	return sess, nil
}

func (m *Manager) loadItem(ctx context.Context, itemID int64) (*model.MediaItem, []*model.MediaItem, error) {
	var item *model.MediaItem
	var children []*model.MediaItem
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		item, children, err = tx.LoadItem(ctx, itemID, 0)
		return err
	})
	return item, children, err
}
