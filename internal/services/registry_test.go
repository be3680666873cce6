// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riven-go/riven/internal/model"
)

type fakeScraper struct {
	name      string
	enabled   bool
	supported bool
}

func (f *fakeScraper) Name() string                           { return f.name }
func (f *fakeScraper) Enabled() bool                           { return f.enabled }
func (f *fakeScraper) Supported(*model.MediaItem) bool         { return f.supported }
func (f *fakeScraper) Scrape(context.Context, *model.MediaItem) ([]ScrapeOutput, error) {
	return nil, nil
}

func TestRegisterOrdersByPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ServiceScraper, &fakeScraper{name: "low", enabled: true, supported: true}, 5)
	r.Register(model.ServiceScraper, &fakeScraper{name: "high", enabled: true, supported: true}, 1)

	handles := r.Enabled(model.ServiceScraper, nil)
	require.Len(t, handles, 2)
	assert.Equal(t, "high", handles[0].Backend.Name())
	assert.Equal(t, "low", handles[1].Backend.Name())
}

func TestEnabledSkipsDisabledAndUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ServiceScraper, &fakeScraper{name: "disabled", enabled: false, supported: true}, 0)
	r.Register(model.ServiceScraper, &fakeScraper{name: "unhealthy", enabled: true, supported: true}, 0)
	r.Register(model.ServiceScraper, &fakeScraper{name: "ok", enabled: true, supported: true}, 0)

	r.MarkUnhealthy("unhealthy", "config error")

	handles := r.Enabled(model.ServiceScraper, nil)
	require.Len(t, handles, 1)
	assert.Equal(t, "ok", handles[0].Backend.Name())
}

func TestEnabledFiltersUnsupportedItems(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ServiceScraper, &fakeScraper{name: "anime-only", enabled: true, supported: false}, 0)

	item := &model.MediaItem{Kind: model.KindMovie}
	assert.Empty(t, r.Enabled(model.ServiceScraper, item))
}

func TestMarkHealthyClearsUnhealthyState(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ServiceScraper, &fakeScraper{name: "flaky", enabled: true, supported: true}, 0)

	r.MarkUnhealthy("flaky", "timeout")
	assert.False(t, r.Any(model.ServiceScraper, nil))

	r.MarkHealthy("flaky")
	assert.True(t, r.Any(model.ServiceScraper, nil))
}

func TestFirstReturnsHighestPriorityEnabledHandle(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ServiceDownloader, &fakeDownloaderStub{name: "second"}, 10)
	r.Register(model.ServiceDownloader, &fakeDownloaderStub{name: "first"}, 1)

	h, ok := r.First(model.ServiceDownloader, nil)
	require.True(t, ok)
	assert.Equal(t, "first", h.Backend.Name())
}

func TestFirstReportsFalseWhenNoneEnabled(t *testing.T) {
	r := NewRegistry()
	_, ok := r.First(model.ServiceUpdater, nil)
	assert.False(t, ok)
}

func TestSnapshotIncludesEveryRegisteredHandle(t *testing.T) {
	r := NewRegistry()
	r.Register(model.ServiceScraper, &fakeScraper{name: "one", enabled: true, supported: true}, 0)
	r.Register(model.ServiceDownloader, &fakeDownloaderStub{name: "two"}, 0)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
}

type fakeDownloaderStub struct{ name string }

func (f *fakeDownloaderStub) Name() string                   { return f.name }
func (f *fakeDownloaderStub) Enabled() bool                  { return true }
func (f *fakeDownloaderStub) Supported(*model.MediaItem) bool { return true }
func (f *fakeDownloaderStub) RequestCache(context.Context, string) (DownloaderResult, error) {
	return DownloaderResult{}, nil
}
