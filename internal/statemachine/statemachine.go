// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package statemachine implements the pure transition function (spec §4.3):
// (item, services, now) -> NextService | WaitUntil | Terminal. It has no
// side effects and touches neither the Store nor any backend — the
// Dispatcher calls it once per popped event and acts on the Decision.
package statemachine

import (
	"time"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
)

// DecisionKind tags which variant a Decision carries.
type DecisionKind int

const (
	DecisionNextService DecisionKind = iota
	DecisionWaitUntil
	DecisionTerminal
	DecisionFanOut // Show/Season: no direct service, enqueue child events
)

// Decision is the output of Next (§4.3).
type Decision struct {
	Kind      DecisionKind
	Service   model.ServiceKind
	WaitUntil time.Time
}

// RetryConfig holds the scraping backoff knobs (§4.3) and bounded retry caps
// for the other stages (§7 P5).
type RetryConfig struct {
	// ScrapeBackoff is f(n) for n = scraped_times, piecewise per §4.3:
	// n<=2: 30m, n<=5: 2h, n<=10: 24h, n>10: 168h.
	ScrapeBackoffThresholds []ScrapeBackoffTier

	// MaxScrapeAttempts bounds item.FailedAttempts for the Scraper stage
	// (§8 P5): once exceeded, HandleScrape returns OutcomeFail instead of
	// scheduling another backoff retry. 0 means unbounded.
	MaxScrapeAttempts int

	// MaxDownloadAttempts bounds item.FailedAttempts for the Downloader
	// stage's transient failures (§4.6 "transient failure retries with
	// exponential backoff up to N"). 0 means unbounded.
	MaxDownloadAttempts int
}

// ScrapeBackoffTier is one piece of the piecewise retry function.
type ScrapeBackoffTier struct {
	UpToAttempts int // inclusive upper bound on scraped_times
	Delay        time.Duration
}

// DefaultRetryConfig reproduces the §4.3 table exactly, plus the §8 P5
// bounded-retry caps for Scraping and Downloading.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		ScrapeBackoffThresholds: []ScrapeBackoffTier{
			{UpToAttempts: 2, Delay: 30 * time.Minute},
			{UpToAttempts: 5, Delay: 2 * time.Hour},
			{UpToAttempts: 10, Delay: 24 * time.Hour},
			{UpToAttempts: 1 << 30, Delay: 168 * time.Hour},
		},
		MaxScrapeAttempts:   20,
		MaxDownloadAttempts: 8,
	}
}

// ScrapeBackoff returns the delay before the next scrape attempt given the
// current scraped_times count (§4.3 "Retry backoff for Scraping").
func (c RetryConfig) ScrapeBackoff(scrapedTimes int) time.Duration {
	for _, tier := range c.ScrapeBackoffThresholds {
		if scrapedTimes <= tier.UpToAttempts {
			return tier.Delay
		}
	}
	return c.ScrapeBackoffThresholds[len(c.ScrapeBackoffThresholds)-1].Delay
}

// HasActiveStream reports whether the item currently has a stream selected
// to try, used by selection rule 6.
type HasActiveStream func(item *model.MediaItem) bool

// Next implements the transition function (§4.3 selection rules 1-10).
// childStatesIncomplete/hasActiveStream let the Dispatcher inject Store-backed lookups
// without the state machine depending on the Store directly.
func Next(item *model.MediaItem, registry *services.Registry, now time.Time, childStatesIncomplete bool, hasActiveStream HasActiveStream) Decision {
	// Rule 1: fresh item with no metadata, leaf or Show/Season alike — a
	// Season must be indexed itself (to discover its Episodes) before rule
	// 2's fan-out has any children to fan out to.
	if item.NeedsIndexing() {
		return Decision{Kind: DecisionNextService, Service: model.ServiceIndexer}
	}

	// Rule 2: indexed Show/Season fans out to children; no direct service.
	if item.Kind == model.KindShow || item.Kind == model.KindSeason {
		if childStatesIncomplete {
			return Decision{Kind: DecisionFanOut}
		}
		return Decision{Kind: DecisionTerminal}
	}

	// Rule 3: future air date.
	if item.IsUnreleased(now) {
		return Decision{Kind: DecisionWaitUntil, WaitUntil: *item.AiredAt}
	}

	switch item.State {
	case model.StateIndexed:
		// Rule 5.
		if registry.Any(model.ServiceScraper, item) {
			return Decision{Kind: DecisionNextService, Service: model.ServiceScraper}
		}
		return Decision{Kind: DecisionTerminal}

	case model.StateScraped:
		// Rule 6.
		if hasActiveStream != nil && hasActiveStream(item) {
			return Decision{Kind: DecisionNextService, Service: model.ServiceDownloader}
		}
		return Decision{Kind: DecisionTerminal}

	case model.StateDownloaded:
		// Rule 7.
		return Decision{Kind: DecisionNextService, Service: model.ServiceSymlinker}

	case model.StateSymlinked:
		// Rule 8.
		if registry.Any(model.ServiceUpdater, item) {
			return Decision{Kind: DecisionNextService, Service: model.ServiceUpdater}
		}
		return Decision{Kind: DecisionTerminal}

	case model.StateCompleted:
		// Rule 9.
		if registry.Any(model.ServicePostProcessor, item) {
			return Decision{Kind: DecisionNextService, Service: model.ServicePostProcessor}
		}
		return Decision{Kind: DecisionTerminal}
	}

	// Rule 10.
	return Decision{Kind: DecisionTerminal}
}

// AggregateState derives a Show/Season's state from its children (§4.3,
// I3): the minimum of children's states in pipeline order, substituting
// PartiallyCompleted when some but not all children are Completed.
func AggregateState(children []model.State) model.State {
	if len(children) == 0 {
		return model.StateRequested
	}

	allCompleted := true
	anyCompleted := false
	anyFailed := false
	minOrder := 1 << 30
	var minState model.State

	order := map[model.State]int{
		model.StateRequested:  0,
		model.StateIndexed:    1,
		model.StateScraped:    2,
		model.StateDownloaded: 3,
		model.StateSymlinked:  4,
		model.StateCompleted:  5,
	}

	for _, c := range children {
		if c == model.StateCompleted {
			anyCompleted = true
		} else {
			allCompleted = false
		}
		if c == model.StateFailed {
			anyFailed = true
			continue
		}
		if o, ok := order[c]; ok && o < minOrder {
			minOrder = o
			minState = c
		}
	}

	if allCompleted {
		return model.StateCompleted
	}
	if anyCompleted {
		return model.StatePartiallyCompleted
	}
	if anyFailed && minState == "" {
		return model.StateFailed
	}
	if minState == "" {
		return model.StateRequested
	}
	return minState
}
