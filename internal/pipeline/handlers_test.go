// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/statemachine"
	"github.com/riven-go/riven/internal/streams"
)

type fakeIndexer struct {
	name    string
	result  services.IndexResult
	err     error
}

func (f *fakeIndexer) Name() string                   { return f.name }
func (f *fakeIndexer) Enabled() bool                  { return true }
func (f *fakeIndexer) Supported(*model.MediaItem) bool { return true }
func (f *fakeIndexer) Index(context.Context, *model.MediaItem) (services.IndexResult, error) {
	return f.result, f.err
}

type fakeScraperBackend struct {
	name    string
	outputs []services.ScrapeOutput
	err     error
}

func (f *fakeScraperBackend) Name() string                   { return f.name }
func (f *fakeScraperBackend) Enabled() bool                  { return true }
func (f *fakeScraperBackend) Supported(*model.MediaItem) bool { return true }
func (f *fakeScraperBackend) Scrape(context.Context, *model.MediaItem) ([]services.ScrapeOutput, error) {
	return f.outputs, f.err
}

type fakeDownloaderBackend struct {
	name   string
	result services.DownloaderResult
	err    error
}

func (f *fakeDownloaderBackend) Name() string                   { return f.name }
func (f *fakeDownloaderBackend) Enabled() bool                  { return true }
func (f *fakeDownloaderBackend) Supported(*model.MediaItem) bool { return true }
func (f *fakeDownloaderBackend) RequestCache(context.Context, string) (services.DownloaderResult, error) {
	return f.result, f.err
}

type fakeUpdaterBackend struct {
	name string
	err  error
}

func (f *fakeUpdaterBackend) Name() string                   { return f.name }
func (f *fakeUpdaterBackend) Enabled() bool                  { return true }
func (f *fakeUpdaterBackend) Supported(*model.MediaItem) bool { return true }
func (f *fakeUpdaterBackend) Refresh(context.Context, string) error { return f.err }

type fakePostProcessorBackend struct {
	name string
	err  error
}

func (f *fakePostProcessorBackend) Name() string                   { return f.name }
func (f *fakePostProcessorBackend) Enabled() bool                  { return true }
func (f *fakePostProcessorBackend) Supported(*model.MediaItem) bool { return true }
func (f *fakePostProcessorBackend) Process(context.Context, *model.MediaItem) error { return f.err }

type fakeLinker struct {
	path string
	err  error
}

func (f *fakeLinker) Link(context.Context, *model.MediaItem) (string, error) {
	return f.path, f.err
}

func newHandlers() *Handlers {
	return &Handlers{
		Services:           services.NewRegistry(),
		Streams:            streams.New(streams.DefaultRanker{}, streams.FilterConfig{}),
		Retry:              statemachine.DefaultRetryConfig(),
		SymlinkMaxAttempts: 6,
	}
}

func TestHandleIndexFailsConfigWithoutBackend(t *testing.T) {
	h := newHandlers()
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleIndex(context.Background(), item, time.Now())
	assert.Equal(t, model.OutcomeFail, o.Kind)
	assert.ErrorIs(t, o.Err, model.ErrConfig)
}

func TestHandleIndexAdvancesOnSuccess(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceIndexer, &fakeIndexer{name: "idx", result: services.IndexResult{Title: "Tron"}}, 0)

	item := &model.MediaItem{Kind: model.KindMovie}
	o := h.HandleIndex(context.Background(), item, time.Now())

	require.Equal(t, model.OutcomeAdvance, o.Kind)
	assert.Equal(t, model.StateIndexed, o.NextState)
	assert.Equal(t, "Tron", o.Attributes["title"])
}

func TestHandleIndexRetriesOnTransientError(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceIndexer, &fakeIndexer{name: "idx", err: model.ErrTransient}, 0)

	item := &model.MediaItem{Kind: model.KindMovie}
	o := h.HandleIndex(context.Background(), item, time.Now())
	assert.Equal(t, model.OutcomeRetry, o.Kind)
}

func TestHandleIndexFailsOnPermanentError(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceIndexer, &fakeIndexer{name: "idx", err: model.ErrPermanent}, 0)

	item := &model.MediaItem{Kind: model.KindMovie}
	o := h.HandleIndex(context.Background(), item, time.Now())
	assert.Equal(t, model.OutcomeFail, o.Kind)
}

func TestHandleScrapeFailsConfigWithoutBackend(t *testing.T) {
	h := newHandlers()
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleScrape(context.Background(), item, streams.RankContext{Kind: model.KindMovie}, false, nil, nil, time.Now())
	assert.Equal(t, model.OutcomeFail, o.Kind)
	assert.ErrorIs(t, o.Err, model.ErrConfig)
}

func TestHandleScrapeAdvancesWhenStreamsFound(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceScraper, &fakeScraperBackend{
		name: "scraperA",
		outputs: []services.ScrapeOutput{
			{Infohash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", ParsedTitle: "Tron"},
		},
	}, 0)

	item := &model.MediaItem{Kind: model.KindMovie}
	o := h.HandleScrape(context.Background(), item, streams.RankContext{Kind: model.KindMovie}, false, nil, nil, time.Now())

	require.Equal(t, model.OutcomeAdvance, o.Kind)
	assert.Equal(t, model.StateScraped, o.NextState)
}

func TestHandleScrapeRetriesWhenNoResultsFound(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceScraper, &fakeScraperBackend{name: "scraperA"}, 0)

	item := &model.MediaItem{Kind: model.KindMovie}
	o := h.HandleScrape(context.Background(), item, streams.RankContext{Kind: model.KindMovie}, false, nil, nil, time.Now())
	assert.Equal(t, model.OutcomeRetry, o.Kind)
}

func TestHandleScrapeFailsOnceScrapeAttemptsExhausted(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceScraper, &fakeScraperBackend{name: "scraperA"}, 0)

	item := &model.MediaItem{Kind: model.KindMovie, FailedAttempts: h.Retry.MaxScrapeAttempts}
	o := h.HandleScrape(context.Background(), item, streams.RankContext{Kind: model.KindMovie}, false, nil, nil, time.Now())
	assert.Equal(t, model.OutcomeFail, o.Kind)
}

func TestHandleScrapeMarksUnhealthyOnConfigError(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceScraper, &fakeScraperBackend{name: "badscraper", err: model.ErrConfig}, 0)

	item := &model.MediaItem{Kind: model.KindMovie}
	h.HandleScrape(context.Background(), item, streams.RankContext{Kind: model.KindMovie}, false, nil, nil, time.Now())

	handles := h.Services.Enabled(model.ServiceScraper, item)
	assert.Empty(t, handles, "a backend returning ErrConfig should be marked unhealthy")
}

func TestHandleScrapeFailsOnceScrapeAttemptsExhaustedAfterTransientError(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceScraper, &fakeScraperBackend{name: "scraperA", err: model.ErrTransient}, 0)

	item := &model.MediaItem{Kind: model.KindMovie, FailedAttempts: h.Retry.MaxScrapeAttempts}
	o := h.HandleScrape(context.Background(), item, streams.RankContext{Kind: model.KindMovie}, false, nil, nil, time.Now())
	assert.Equal(t, model.OutcomeFail, o.Kind)
}

func TestHandleDownloadRetriesWithoutCandidate(t *testing.T) {
	h := newHandlers()
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleDownload(context.Background(), item, nil, nil, nil, time.Now())
	assert.Equal(t, model.OutcomeRetry, o.Kind)
}

func TestHandleDownloadAdvancesOnSelectedFile(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceDownloader, &fakeDownloaderBackend{
		name: "debrid",
		result: services.DownloaderResult{
			Available: true,
			Files:     []services.DownloaderFile{{Name: "Tron.mkv", Size: 5000}},
		},
	}, 0)

	live := []model.Stream{{ID: 1, Infohash: "bbbb"}}
	selector := func(*model.MediaItem, []services.DownloaderFile) (FileSelection, bool) {
		return FileSelection{FileName: "Tron.mkv", FileSize: 5000}, true
	}

	item := &model.MediaItem{Kind: model.KindMovie}
	o := h.HandleDownload(context.Background(), item, live, nil, selector, time.Now())

	require.Equal(t, model.OutcomeAdvance, o.Kind)
	assert.Equal(t, model.StateDownloaded, o.NextState)
	assert.Equal(t, "Tron.mkv", o.Attributes["file_name"])
}

func TestHandleDownloadBlacklistsWhenNotAvailable(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceDownloader, &fakeDownloaderBackend{
		name:   "debrid",
		result: services.DownloaderResult{Available: false},
	}, 0)

	live := []model.Stream{{ID: 7, Infohash: "cccc"}}
	item := &model.MediaItem{Kind: model.KindMovie}
	o := h.HandleDownload(context.Background(), item, live, nil, func(*model.MediaItem, []services.DownloaderFile) (FileSelection, bool) {
		return FileSelection{}, false
	}, time.Now())

	require.Equal(t, model.OutcomeBlacklistAndRetry, o.Kind)
	assert.Equal(t, int64(7), o.BlacklistStreamID)
	assert.Equal(t, model.ReasonNotCached, o.BlacklistReason)
	require.Len(t, o.FollowUps, 1)
	assert.Equal(t, model.ServiceScraper, o.FollowUps[0].Service)
}

func TestHandleDownloadBlacklistsWhenNoFileMatches(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceDownloader, &fakeDownloaderBackend{
		name: "debrid",
		result: services.DownloaderResult{
			Available: true,
			Files:     []services.DownloaderFile{{Name: "sample.txt", Size: 10}},
		},
	}, 0)

	live := []model.Stream{{ID: 3, Infohash: "dddd"}}
	item := &model.MediaItem{Kind: model.KindMovie}
	o := h.HandleDownload(context.Background(), item, live, nil, func(*model.MediaItem, []services.DownloaderFile) (FileSelection, bool) {
		return FileSelection{}, false
	}, time.Now())

	assert.Equal(t, model.OutcomeBlacklistAndRetry, o.Kind)
	assert.Equal(t, model.ReasonNoMatchingFiles, o.BlacklistReason)
}

func TestHandleDownloadRetriesTransientErrorWithBackoff(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceDownloader, &fakeDownloaderBackend{name: "debrid", err: model.ErrTransient}, 0)

	live := []model.Stream{{ID: 1, Infohash: "eeee"}}
	item := &model.MediaItem{Kind: model.KindMovie, FailedAttempts: 2}
	now := time.Now()
	o := h.HandleDownload(context.Background(), item, live, nil, nil, now)

	require.Equal(t, model.OutcomeRetry, o.Kind)
	assert.True(t, o.RunAt.After(now))
}

func TestHandleDownloadFailsOnceDownloadAttemptsExhausted(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceDownloader, &fakeDownloaderBackend{name: "debrid", err: model.ErrTransient}, 0)

	live := []model.Stream{{ID: 1, Infohash: "ffff"}}
	item := &model.MediaItem{Kind: model.KindMovie, FailedAttempts: h.Retry.MaxDownloadAttempts}
	o := h.HandleDownload(context.Background(), item, live, nil, nil, time.Now())

	assert.Equal(t, model.OutcomeFail, o.Kind)
}

func TestHandleSymlinkAdvancesOnSuccess(t *testing.T) {
	h := newHandlers()
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleSymlink(context.Background(), item, &fakeLinker{path: "/library/Tron.mkv"}, 0, time.Now())
	require.Equal(t, model.OutcomeAdvance, o.Kind)
	assert.Equal(t, model.StateSymlinked, o.NextState)
	assert.Equal(t, "/library/Tron.mkv", o.Attributes["symlink_path"])
}

func TestHandleSymlinkRetriesBeforeExhausted(t *testing.T) {
	h := newHandlers()
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleSymlink(context.Background(), item, &fakeLinker{err: errors.New("not visible")}, 0, time.Now())
	assert.Equal(t, model.OutcomeRetry, o.Kind)
	assert.Equal(t, 1, o.Attributes["failed_attempts"])
}

func TestHandleSymlinkFailsAfterExhaustingRetries(t *testing.T) {
	h := newHandlers()
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleSymlink(context.Background(), item, &fakeLinker{err: errors.New("not visible")}, len(symlinkRetryDelays)-1, time.Now())
	assert.Equal(t, model.OutcomeFail, o.Kind)
}

func TestHandleUpdateAdvancesWithoutBackendConfigured(t *testing.T) {
	h := newHandlers()
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleUpdate(context.Background(), item, "/library", time.Now())
	assert.Equal(t, model.OutcomeAdvance, o.Kind)
	assert.Equal(t, model.StateCompleted, o.NextState)
}

func TestHandleUpdateAdvancesOnSuccessfulRefresh(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceUpdater, &fakeUpdaterBackend{name: "plex"}, 0)
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleUpdate(context.Background(), item, "/library", time.Now())
	assert.Equal(t, model.OutcomeAdvance, o.Kind)
	assert.Equal(t, model.StateCompleted, o.NextState)
}

func TestHandleUpdateRetriesOnTransientError(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServiceUpdater, &fakeUpdaterBackend{name: "plex", err: model.ErrTransient}, 0)
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandleUpdate(context.Background(), item, "/library", time.Now())
	assert.Equal(t, model.OutcomeRetry, o.Kind)
}

func TestHandlePostProcessAlwaysCompletesEvenOnError(t *testing.T) {
	h := newHandlers()
	h.Services.Register(model.ServicePostProcessor, &fakePostProcessorBackend{name: "subs", err: errors.New("subtitle fetch failed")}, 0)
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandlePostProcess(context.Background(), item, time.Now())
	assert.Equal(t, model.OutcomeAdvance, o.Kind)
	assert.Equal(t, model.StateCompleted, o.NextState)
	assert.Error(t, o.Err)
}

func TestHandlePostProcessCompletesWithoutAnyBackend(t *testing.T) {
	h := newHandlers()
	item := &model.MediaItem{Kind: model.KindMovie}

	o := h.HandlePostProcess(context.Background(), item, time.Now())
	assert.Equal(t, model.OutcomeAdvance, o.Kind)
	assert.NoError(t, o.Err)
}
