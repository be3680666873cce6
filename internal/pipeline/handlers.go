// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline implements the Pipeline Handlers (spec §4.6): one
// handler per service kind, each mapping (item, read-only context) to an
// Outcome. Handlers are the only place Riven calls out to an external
// backend; they never touch the Store directly — the Dispatcher commits
// exactly one Outcome per event inside a single transaction (§4.5).
//
// Grounded on the teacher's eventprocessor stage functions
// (internal/eventprocessor/router.go): each stage is a narrow function
// over already-resolved input that returns a result or a classified
// error, never reaching back into the database itself.
package pipeline

import (
	"errors"
	"time"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/statemachine"
	"github.com/riven-go/riven/internal/streams"
)

// Handlers bundles every pipeline handler's shared dependencies: the
// Service Registry for backend selection/health, the Stream Registry for
// ranking/filtering decisions, and the retry/backoff table.
type Handlers struct {
	Services *services.Registry
	Streams  *streams.Registry
	Retry    statemachine.RetryConfig

	// SymlinkMaxAttempts records the configured Symlinker attempt bound.
	// HandleSymlink does not read it: it bounds attempts by the length of
	// symlinkRetryDelays (6).
	SymlinkMaxAttempts int
}

// scrapeAttemptsExhausted reports whether item has already used up its §8
// P5 retry budget for the Scraper stage, i.e. one more OutcomeRetry would
// push failed_attempts past Retry.MaxScrapeAttempts. A zero MaxScrapeAttempts
// means unbounded.
func (h *Handlers) scrapeAttemptsExhausted(item *model.MediaItem) bool {
	return h.Retry.MaxScrapeAttempts > 0 && item.FailedAttempts+1 > h.Retry.MaxScrapeAttempts
}

// downloadAttemptsExhausted is scrapeAttemptsExhausted's Downloader-stage
// counterpart, bounded by Retry.MaxDownloadAttempts (§4.6 "transient
// failure retries ... up to N").
func (h *Handlers) downloadAttemptsExhausted(item *model.MediaItem) bool {
	return h.Retry.MaxDownloadAttempts > 0 && item.FailedAttempts+1 > h.Retry.MaxDownloadAttempts
}

// classifyErr maps a backend error onto an Outcome via the §7 taxonomy.
// Shared by every handler so retry/fail/config semantics stay uniform.
func classifyErr(err error, now time.Time, onTransient, onPermanent func() model.Outcome) model.Outcome {
	switch {
	case errors.Is(err, model.ErrTransient):
		return onTransient()
	case errors.Is(err, model.ErrPermanent):
		return onPermanent()
	case errors.Is(err, model.ErrConfig):
		return model.Outcome{Kind: model.OutcomeRetry, RunAt: now.Add(15 * time.Minute), Err: err}
	default:
		return model.Outcome{Kind: model.OutcomeRetry, RunAt: now.Add(5 * time.Minute), Err: err}
	}
}
