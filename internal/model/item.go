// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the data model shared by every Riven component: the
// MediaItem hierarchy, Stream candidates, blacklist entries, events and
// manual sessions (spec §3), plus the error taxonomy (§7) every handler
// returns through.
package model

import "time"

// Kind distinguishes the four MediaItem variants. Riven uses a tagged
// variant instead of a dynamic attribute bag: a Season always has a Show
// parent, an Episode always has a Season parent, and the parent graph is
// stored relationally (parent_id), never reconstructed from ad-hoc fields.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindShow    Kind = "show"
	KindSeason  Kind = "season"
	KindEpisode Kind = "episode"
)

// IsLeaf reports whether items of this kind carry a file binding and move
// through the full Requested..Completed pipeline themselves, as opposed to
// Show/Season which only aggregate their children's state.
func (k Kind) IsLeaf() bool {
	return k == KindMovie || k == KindEpisode
}

// State is a leaf item's position in the pipeline (§4.3). Show/Season state
// is always derived (I3) and never assigned directly outside the aggregate
// derivation in package statemachine.
type State string

const (
	StateRequested          State = "requested"
	StateIndexed            State = "indexed"
	StateScraped            State = "scraped"
	StateDownloaded         State = "downloaded"
	StateSymlinked          State = "symlinked"
	StateCompleted          State = "completed"
	StateUnreleased         State = "unreleased"
	StateOngoing            State = "ongoing"
	StatePartiallyCompleted State = "partially_completed"
	StateFailed             State = "failed"
	StatePaused             State = "paused"
)

// leafOrder is the total order leaf states must advance through absent an
// explicit reset (P3). Index position is used for monotonicity checks.
var leafOrder = map[State]int{
	StateRequested:  0,
	StateIndexed:    1,
	StateScraped:    2,
	StateDownloaded: 3,
	StateSymlinked:  4,
	StateCompleted:  5,
}

// Before reports whether other is strictly later than s in the leaf
// pipeline order (Requested..Completed). States outside that order
// (Unreleased, Ongoing, PartiallyCompleted, Failed, Paused) are exempt
// from ordering and always return false.
func (s State) Before(other State) bool {
	a, aok := leafOrder[s]
	b, bok := leafOrder[other]
	if !aok || !bok {
		return false
	}
	return a < b
}

// ShowStatus is the derived lifecycle classification driving recheck
// cadence for Shows/Seasons (§4.9).
type ShowStatus string

const (
	ShowUnreleased ShowStatus = "unreleased"
	ShowOngoing    ShowStatus = "ongoing"
	ShowEnded      ShowStatus = "ended"
	ShowUnknown    ShowStatus = "unknown"
)

// MediaItem is the single entity type for Movie | Show | Season | Episode.
// All identifiers are opaque int64s allocated by the Store; external ids are
// attributes, never primary keys.
type MediaItem struct {
	ID       int64
	Kind     Kind
	ParentID *int64

	// External ids, kept as attributes only.
	ImdbID  *string
	TvdbID  *string
	TmdbID  *string
	TraktID *string

	Title    string
	Year     *int
	AiredAt  *time.Time
	Network  *string
	Country  *string
	Genres   []string
	IsAnime  bool

	// SeasonNumber/EpisodeNumber identify a Season/Episode within its
	// parent (§4.6's "map episodes by parsed S/E"); nil for Movie/Show.
	SeasonNumber  *int
	EpisodeNumber *int

	RequestedAt   time.Time
	RequestedBy   string
	IndexedAt     *time.Time
	ScrapedAt     *time.Time
	ScrapedTimes  int
	SymlinkedAt   *time.Time
	UpdatedAt     *time.Time
	LastStateAt   time.Time

	State          State
	FailedAttempts int
	NextRetryAt    *time.Time

	// File binding, leaf items only.
	FileName    *string
	Folder      *string
	FileSize    *int64
	SymlinkPath *string

	// Show/Season only, derived.
	ShowStatus  ShowStatus
	NextAirDate *time.Time

	ActiveStreamID *int64
}

// IsUnreleased reports whether the item's air date is in the future relative
// to now, per selection rule 3 in §4.3.
func (m *MediaItem) IsUnreleased(now time.Time) bool {
	return m.AiredAt != nil && m.AiredAt.After(now)
}

// NeedsIndexing reports selection rule 1: a freshly requested item with no
// metadata yet.
func (m *MediaItem) NeedsIndexing() bool {
	return m.State == StateRequested
}
