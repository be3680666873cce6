// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/eventqueue"
	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/store"
	"github.com/riven-go/riven/internal/streams"
)

type fakeScraper struct {
	name   string
	output []services.ScrapeOutput
}

func (f *fakeScraper) Name() string                              { return f.name }
func (f *fakeScraper) Enabled() bool                              { return true }
func (f *fakeScraper) Supported(*model.MediaItem) bool             { return true }
func (f *fakeScraper) Scrape(context.Context, *model.MediaItem) ([]services.ScrapeOutput, error) {
	return f.output, nil
}

type fakeDownloader struct {
	name      string
	available bool
	files     []services.DownloaderFile
}

func (f *fakeDownloader) Name() string                   { return f.name }
func (f *fakeDownloader) Enabled() bool                   { return true }
func (f *fakeDownloader) Supported(*model.MediaItem) bool { return true }
func (f *fakeDownloader) RequestCache(context.Context, string) (services.DownloaderResult, error) {
	return services.DownloaderResult{Available: f.available, Files: f.files}, nil
}

func setupManager(t *testing.T) (*Manager, *store.Store, *eventqueue.Queue, *services.Registry, *clock.Fake) {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:", MaxMemory: "256MB"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clk := clock.NewFake(time.Now())
	queue, err := eventqueue.New(clk, nil)
	require.NoError(t, err)

	registry := services.NewRegistry()
	streamsReg := streams.New(streams.DefaultRanker{}, streams.FilterConfig{
		MovieSize: streams.SizeBounds{MinBytes: 1, MaxBytes: 0},
	})

	mgr := New(Config{TTL: time.Hour, SweepInterval: time.Minute}, Deps{
		Store: s, Queue: queue, Services: registry, Streams: streamsReg, Clock: clk,
	})
	return mgr, s, queue, registry, clk
}

func loadItem(t *testing.T, s *store.Store, id int64) *model.MediaItem {
	t.Helper()
	var item *model.MediaItem
	err := s.WithTx(context.Background(), func(tx *store.Tx) error {
		var err error
		item, _, err = tx.LoadItem(context.Background(), id, 0)
		return err
	})
	require.NoError(t, err)
	return item
}

func createTestMovie(t *testing.T, s *store.Store) int64 {
	t.Helper()
	var id int64
	err := s.WithTx(context.Background(), func(tx *store.Tx) error {
		var err error
		id, err = tx.CreateItem(context.Background(), &model.MediaItem{
			Kind:        model.KindMovie,
			Title:       "Tron: Legacy",
			State:       model.StateScraped,
			RequestedAt: time.Now(),
			LastStateAt: time.Now(),
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestOpenCancelsAutonomousEvents(t *testing.T) {
	mgr, _, queue, _, _ := setupManager(t)
	ctx := context.Background()

	_, err := queue.Push(1, model.ServiceScraper, time.Now(), 0, "scheduler")
	require.NoError(t, err)
	require.Equal(t, 1, queue.Len())

	sess, err := mgr.Open(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.SessionOpen, sess.State)
	assert.Equal(t, 0, queue.Len())
}

func TestScrapeMergesIntoRegistry(t *testing.T) {
	mgr, s, _, registry, _ := setupManager(t)
	ctx := context.Background()
	itemID := createTestMovie(t, s)

	registry.Register(model.ServiceScraper, &fakeScraper{
		name: "testscraper",
		output: []services.ScrapeOutput{
			{Infohash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", RawTitle: "Tron.Legacy.2010.1080p", ParsedTitle: "Tron Legacy", Resolution: "1080p"},
		},
	}, 0)

	sess, err := mgr.Open(ctx, itemID)
	require.NoError(t, err)

	live, err := mgr.Scrape(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", live[0].Infohash)
}

func TestCommitTransitionsOnlySelectedItems(t *testing.T) {
	mgr, s, queue, registry, _ := setupManager(t)
	ctx := context.Background()
	itemID := createTestMovie(t, s)

	registry.Register(model.ServiceScraper, &fakeScraper{
		name: "testscraper",
		output: []services.ScrapeOutput{
			{Infohash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", RawTitle: "Tron.Legacy.2010.1080p", ParsedTitle: "Tron Legacy", Resolution: "1080p"},
		},
	}, 0)
	registry.Register(model.ServiceDownloader, &fakeDownloader{
		name:      "testdebrid",
		available: true,
		files:     []services.DownloaderFile{{Name: "Tron.Legacy.2010.mkv", Size: 5_000_000_000, Path: "/tron/Tron.Legacy.2010.mkv"}},
	}, 0)

	sess, err := mgr.Open(ctx, itemID)
	require.NoError(t, err)

	live, err := mgr.Scrape(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)

	require.NoError(t, mgr.SelectStream(ctx, sess.ID, live[0].ID))

	files, err := mgr.ListFiles(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, mgr.SelectFiles(ctx, sess.ID, []model.FileSelection{
		{ItemID: itemID, FileName: files[0].Name, FileSize: files[0].Size},
	}))

	require.NoError(t, mgr.Commit(ctx, sess.ID))

	item := loadItem(t, s, itemID)
	assert.Equal(t, model.StateDownloaded, item.State)
	require.NotNil(t, item.FileName)
	assert.Equal(t, "Tron.Legacy.2010.mkv", *item.FileName)

	closed, err := s.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionClosed, closed.State)

	// The queue holds one event per item: Close's Indexer push has the same
	// run_at as the pending Symlinker follow-up, so it is a no-op.
	assert.Equal(t, 1, queue.Len())
}

func TestSweepExpiredClosesAndResumes(t *testing.T) {
	mgr, s, queue, _, clk := setupManager(t)
	ctx := context.Background()
	itemID := createTestMovie(t, s)

	sess, err := mgr.Open(ctx, itemID)
	require.NoError(t, err)
	require.Equal(t, 0, queue.Len())

	clk.Advance(2 * time.Hour)

	require.NoError(t, mgr.SweepExpired(ctx))

	closed, err := s.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionClosed, closed.State)
	assert.Equal(t, 1, queue.Len())
}
