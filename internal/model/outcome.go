// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// OutcomeKind tags the variant carried by an Outcome. A pipeline handler
// (§4.6) returns exactly one of these; the Dispatcher (§4.5/§7) is the only
// component that maps a kind to a retry/fail/health-change decision.
type OutcomeKind int

const (
	OutcomeAdvance OutcomeKind = iota // move to NextState, optionally with follow-up events
	OutcomeWait                      // no state change; re-run at RunAt
	OutcomeRetry                     // transient failure; Dispatcher applies backoff
	OutcomeBlacklistAndRetry         // content rejected; blacklist Stream, re-enqueue Scraper
	OutcomeFail                      // permanent failure; State -> Failed
	OutcomeCancelled                 // cooperative cancellation observed; not a retry
)

// Outcome is the sole side-effect channel out of a pipeline handler (§4.6).
// Handlers never mutate the Store directly; the Dispatcher commits exactly
// one outcome per event inside a single transaction.
type Outcome struct {
	Kind OutcomeKind

	NextState State
	RunAt     time.Time // for OutcomeWait / OutcomeRetry

	BlacklistStreamID int64
	BlacklistReason   BlacklistReason

	// FollowUps are child/next-stage events to enqueue after the commit
	// (e.g. one event per newly created Season/Episode, or the next
	// pipeline stage for the same item).
	FollowUps []FollowUp

	// Attributes are extra lifecycle fields the Store should persist
	// alongside the transition (file_name, symlink_path, metadata fields
	// populated by the Indexer, ...).
	Attributes map[string]any

	// Children are new Season/Episode rows the Indexer discovered under a
	// Show/Season, created by the Dispatcher inside the same transaction
	// as the parent's transition.
	Children []NewChild

	Err error // underlying error, for logging/alerting; on OutcomeAdvance only the PostProcessor sets it, for a non-fatal failure
}

// NewChild describes one child MediaItem to create as part of committing
// an Indexer outcome (§4.6). ParentRef is -1 for a direct child of the
// item the handler ran on (a Show's Seasons), or an index into Children
// for a grandchild (a Season's Episodes), letting the Indexer describe a
// full two-level tree in one Outcome.
type NewChild struct {
	Kind          Kind
	ParentRef     int
	Title         string
	AiredAt       *time.Time
	SeasonNumber  *int
	EpisodeNumber *int
}

// FollowUp describes one event to enqueue after an outcome commits.
type FollowUp struct {
	ItemID   int64
	Service  ServiceKind
	RunAt    time.Time
	Priority int
}
