// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "errors"

// Error taxonomy (§7). Each is a sentinel variant, never a bare string, so
// the Dispatcher can branch on it with errors.Is instead of string matching.
var (
	// ErrTransient covers network errors, timeouts, 5xx responses and
	// rate-limit hits. The Dispatcher retries with backoff, bounded per event.
	ErrTransient = errors.New("transient error")

	// ErrContentRejected marks a logical mismatch between a stream and the
	// item (wrong season/episode, adult content, size out of bounds, ...).
	// The offending stream is blacklisted and the scrape stage re-enqueued.
	ErrContentRejected = errors.New("content rejected")

	// ErrNotAvailableYet means a debrid backend reports the stream uncached
	// and cannot cache it right now. The stream is blacklisted as
	// not_cached and the next candidate is tried.
	ErrNotAvailableYet = errors.New("stream not available yet")

	// ErrPermanent is unrecoverable: the item is not indexable, or its
	// external id resolves to nothing. State becomes Failed; only a manual
	// API retry can revive it.
	ErrPermanent = errors.New("permanent failure")

	// ErrConfig marks missing/invalid credentials for a backend. The
	// backend is flagged unhealthy in the Service Registry and skipped;
	// other backends continue.
	ErrConfig = errors.New("configuration error")

	// ErrInternal is a programmer error or invariant violation. The
	// transaction is aborted, no transition is recorded, the event is
	// retried once, and a high-priority alert is emitted.
	ErrInternal = errors.New("internal invariant violation")

	// ErrConflict is raised by the Store when a constraint is violated
	// (e.g. a duplicate infohash insert into the blacklist). Callers
	// typically treat it as "already in the target state".
	ErrConflict = errors.New("store conflict")

	// ErrNotFound is raised by the Store when a requested entity does not
	// exist.
	ErrNotFound = errors.New("not found")
)

// BlacklistReason enumerates the uniform reasons a stream may be moved from
// an item's live set to its blacklist (§4.6).
type BlacklistReason string

const (
	ReasonNotCached       BlacklistReason = "not_cached"
	ReasonNoMatchingFiles BlacklistReason = "no_matching_files"
	ReasonSizeOutOfBounds BlacklistReason = "size_out_of_bounds"
	ReasonWrongSeason     BlacklistReason = "wrong_season"
	ReasonWrongEpisode    BlacklistReason = "wrong_episode"
	ReasonAdultRejected   BlacklistReason = "adult_rejected"
	ReasonDownloadDenied  BlacklistReason = "download_denied"
	ReasonUnusableArchive BlacklistReason = "unusable_archive"
)
