// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/streams"
)

// HandleScrape implements the Scraper row of §4.6: runs every enabled
// scraper, merges results through the Stream Registry, and advances to
// Scraped when the item ends up with at least one live candidate.
func (h *Handlers) HandleScrape(ctx context.Context, item *model.MediaItem, rankCtx streams.RankContext, itemAdultFlagged bool, live []model.Stream, blacklisted map[string]model.BlacklistReason, now time.Time) model.Outcome {
	handles := h.Services.Enabled(model.ServiceScraper, item)
	if len(handles) == 0 {
		return model.Outcome{Kind: model.OutcomeFail, Err: model.ErrConfig}
	}

	var results []streams.ScrapeResult
	var lastErr error
	anySucceeded := false

	for _, handle := range handles {
		scraper, ok := handle.Backend.(services.Scraper)
		if !ok {
			continue
		}
		outputs, err := scraper.Scrape(ctx, item)
		if err != nil {
			lastErr = err
			if errors.Is(err, model.ErrConfig) {
				h.Services.MarkUnhealthy(handle.Backend.Name(), err.Error())
			}
			continue
		}
		anySucceeded = true
		for _, o := range outputs {
			results = append(results, streams.ScrapeResult{
				Infohash:    o.Infohash,
				RawTitle:    o.RawTitle,
				ParsedTitle: o.ParsedTitle,
				Resolution:  o.Resolution,
				SizeBytes:   o.SizeBytes,
				Seeders:     o.Seeders,
				SourceName:  handle.Backend.Name(),
				Cached:      o.Cached,
			})
		}
	}

	if !anySucceeded && lastErr != nil {
		return classifyErr(lastErr, now, func() model.Outcome {
			if h.scrapeAttemptsExhausted(item) {
				return model.Outcome{Kind: model.OutcomeFail, Err: lastErr}
			}
			return model.Outcome{
				Kind:       model.OutcomeRetry,
				RunAt:      now.Add(h.Retry.ScrapeBackoff(item.ScrapedTimes + 1)),
				Attributes: map[string]any{"bump_scraped_times": true},
				Err:        lastErr,
			}
		}, func() model.Outcome {
			return model.Outcome{Kind: model.OutcomeFail, Err: lastErr}
		})
	}

	toInsert, _ := h.Streams.PlanUpsert(rankCtx, itemAdultFlagged, live, blacklisted, results, now)

	totalLive := len(live) + len(toInsert)
	if totalLive == 0 {
		// toInsert is necessarily empty here (totalLive == len(live) +
		// len(toInsert) == 0), so OutcomeFail never needs to carry
		// streams_to_insert alongside it.
		if h.scrapeAttemptsExhausted(item) {
			return model.Outcome{
				Kind:       model.OutcomeFail,
				Attributes: map[string]any{"bump_scraped_times": true},
				Err:        errors.New("scraper: no live candidates found within max attempts"),
			}
		}
		return model.Outcome{
			Kind:       model.OutcomeRetry,
			RunAt:      now.Add(h.Retry.ScrapeBackoff(item.ScrapedTimes + 1)),
			Attributes: map[string]any{"bump_scraped_times": true, "streams_to_insert": toInsert},
		}
	}

	return model.Outcome{
		Kind:       model.OutcomeAdvance,
		NextState:  model.StateScraped,
		Attributes: map[string]any{"bump_scraped_times": true, "streams_to_insert": toInsert},
	}
}
