// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package services implements the Service Registry (spec §4.7): typed
// handles to external collaborators (content sources, indexer, scrapers,
// downloaders, updaters, post-processors), their enabled/healthy flags, and
// priority-ordered selection among them. Concrete backend implementations
// (Overseerr, Trakt, RealDebrid, Plex, ...) are out of scope (§1); only the
// capability contracts and the registry that holds them are specified here.
package services

import (
	"context"
	"sort"
	"sync"

	"github.com/riven-go/riven/internal/model"
)

// Backend is the shared shape every capability implements: identity,
// enablement, health and applicability.
type Backend interface {
	Name() string
	Enabled() bool
	Supported(item *model.MediaItem) bool
}

// ContentSource polls an external "wanted" list (Overseerr, Trakt, Plex
// watchlist) for new items to request.
type ContentSource interface {
	Backend
	Poll(ctx context.Context, since any) ([]ContentSourceItem, error)
}

// ContentSourceItem is a minimal external reference handed to the Indexer.
type ContentSourceItem struct {
	Kind       model.Kind
	ExternalID string
	IDKind     string // "imdb" | "tvdb" | "tmdb" | "trakt"
}

// Indexer resolves an external id into full metadata and, for Show items,
// creates Season/Episode children (§4.6).
type Indexer interface {
	Backend
	Index(ctx context.Context, item *model.MediaItem) (IndexResult, error)
}

// IndexResult carries the metadata and any newly discovered children from
// an Indexer invocation.
type IndexResult struct {
	Title       string
	Year        *int
	AiredAt     *int64 // unix seconds, nil if unknown/unreleased
	Network     *string
	Country     *string
	Genres      []string
	IsAnime     bool
	Children    []ChildRef
	ShowStatus  model.ShowStatus
	NextAirDate *int64
}

// ChildRef describes a Season/Episode the Indexer discovered under a Show.
type ChildRef struct {
	Kind          model.Kind
	ParentRef     int // index into the parent's own Children slice, or -1 for a Show's direct Seasons
	SeasonNumber  *int
	EpisodeNumber *int
	Title         string
	AiredAt       *int64
}

// Scraper surfaces candidate releases for an item. Multiple scrapers run in
// parallel and are merged by the Stream Registry (§4.7).
type Scraper interface {
	Backend
	Scrape(ctx context.Context, item *model.MediaItem) ([]ScrapeOutput, error)
}

// ScrapeOutput is one raw candidate from a scraper backend.
type ScrapeOutput struct {
	Infohash    string
	RawTitle    string
	ParsedTitle string
	Resolution  string
	SizeBytes   *int64
	Seeders     *int
	Cached      bool
}

// Downloader requests a debrid backend to cache a stream and exposes its
// resulting files.
type Downloader interface {
	Backend
	// RequestCache asks the backend to cache the given infohash, returning
	// whether it is available and the files inside it.
	RequestCache(ctx context.Context, infohash string) (DownloaderResult, error)
}

// DownloaderResult is the file listing a debrid backend returns for a
// cached infohash.
type DownloaderResult struct {
	Available bool
	Files     []DownloaderFile
}

// DownloaderFile is one file inside a cached torrent/archive.
type DownloaderFile struct {
	Name string
	Size int64
	Path string
}

// Updater notifies a media server to refresh a library section.
type Updater interface {
	Backend
	Refresh(ctx context.Context, libraryPath string) error
}

// PostProcessor runs a non-fatal enrichment step after an item completes
// (e.g. subtitles). Failures are logged only (§4.6).
type PostProcessor interface {
	Backend
	Process(ctx context.Context, item *model.MediaItem) error
}

// Handle wraps one registered backend with its runtime health state.
type Handle struct {
	Kind      model.ServiceKind
	Backend   Backend
	Priority  int // lower runs/wins first among enabled+healthy backends of the same kind
	healthy   bool
	lastError string
}

// Healthy reports whether the backend is currently usable. A backend is
// marked unhealthy by the Dispatcher on a Config error (§7) and never
// autonomously recovers — only a config reload re-enables it.
func (h *Handle) Healthy() bool { return h.healthy }

// LastError returns the last error observed for this backend, surfaced on
// /stats (§12 supplemented feature).
func (h *Handle) LastError() string { return h.lastError }

// Registry holds all configured backends, grouped by capability kind.
type Registry struct {
	mu       sync.RWMutex
	handles  map[model.ServiceKind][]*Handle
	byName   map[string]*Handle
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[model.ServiceKind][]*Handle),
		byName:  make(map[string]*Handle),
	}
}

// Register adds a backend under the given capability kind with the given
// priority (lower = tried first). Backends start healthy.
func (r *Registry) Register(kind model.ServiceKind, b Backend, priority int) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &Handle{Kind: kind, Backend: b, Priority: priority, healthy: true}
	r.handles[kind] = append(r.handles[kind], h)
	r.byName[b.Name()] = h
	sort.SliceStable(r.handles[kind], func(i, j int) bool {
		return r.handles[kind][i].Priority < r.handles[kind][j].Priority
	})
	return h
}

// MarkUnhealthy flags a backend unhealthy (Config error, §7); it is
// skipped by selection until explicitly re-enabled.
func (r *Registry) MarkUnhealthy(name string, lastErr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byName[name]; ok {
		h.healthy = false
		h.lastError = lastErr
	}
}

// MarkHealthy clears an unhealthy flag, e.g. after a config reload fixes
// credentials.
func (r *Registry) MarkHealthy(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byName[name]; ok {
		h.healthy = true
		h.lastError = ""
	}
}

// Enabled returns every enabled+healthy backend of a kind that supports the
// given item, in priority order.
func (r *Registry) Enabled(kind model.ServiceKind, item *model.MediaItem) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Handle
	for _, h := range r.handles[kind] {
		if !h.healthy || !h.Backend.Enabled() {
			continue
		}
		if item != nil && !h.Backend.Supported(item) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Any reports whether at least one enabled+healthy backend of a kind exists
// (used by the State Machine's selection rule 5: "if any scraper is
// enabled").
func (r *Registry) Any(kind model.ServiceKind, item *model.MediaItem) bool {
	return len(r.Enabled(kind, item)) > 0
}

// First returns the highest-priority enabled+healthy backend of a kind, or
// ok=false. Downloaders/Updaters are selected this way: first success wins
// (§4.7).
func (r *Registry) First(kind model.ServiceKind, item *model.MediaItem) (*Handle, bool) {
	enabled := r.Enabled(kind, item)
	if len(enabled) == 0 {
		return nil, false
	}
	return enabled[0], true
}

// Snapshot returns every registered handle's name/kind/healthy/lastError,
// for the /stats endpoint (§12 supplemented feature).
type Snapshot struct {
	Name      string
	Kind      model.ServiceKind
	Enabled   bool
	Healthy   bool
	LastError string
	Priority  int
}

func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Snapshot
	for kind, hs := range r.handles {
		for _, h := range hs {
			out = append(out, Snapshot{
				Name:      h.Backend.Name(),
				Kind:      kind,
				Enabled:   h.Backend.Enabled(),
				Healthy:   h.healthy,
				LastError: h.lastError,
				Priority:  h.Priority,
			})
		}
	}
	return out
}
