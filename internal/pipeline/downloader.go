// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
)

// FileSelector picks the file(s) inside a cached debrid result that satisfy
// an item (movie: largest video file >= min size; show pack: map episodes by
// parsed S/E; episode: exact S/E match). Concrete matching logic belongs to
// a backend-agnostic selector, kept separate so Manual Sessions (§4.10) can
// reuse it against a user's own file choice.
type FileSelector func(item *model.MediaItem, files []services.DownloaderFile) (FileSelection, bool)

// FileSelection is the single file bound to an item after a successful
// download (§4.6, §6).
type FileSelection struct {
	FileName string
	Folder   string
	FileSize int64
}

// HandleDownload implements the Downloader row of §4.6: picks the registry's
// top live candidate, asks the first enabled+healthy Downloader backend to
// cache it, and verifies the resulting file selection.
func (h *Handlers) HandleDownload(ctx context.Context, item *model.MediaItem, live []model.Stream, recentlyFailed map[int64]bool, selector FileSelector, now time.Time) model.Outcome {
	candidate, ok := h.Streams.SelectNext(live, recentlyFailed)
	if !ok {
		return model.Outcome{Kind: model.OutcomeRetry, RunAt: now.Add(h.Retry.ScrapeBackoff(item.ScrapedTimes + 1))}
	}

	handle, found := h.Services.First(model.ServiceDownloader, item)
	if !found {
		return model.Outcome{Kind: model.OutcomeFail, Err: model.ErrConfig}
	}
	downloader, ok := handle.Backend.(services.Downloader)
	if !ok {
		return model.Outcome{Kind: model.OutcomeFail, Err: model.ErrConfig}
	}

	result, err := downloader.RequestCache(ctx, candidate.Infohash)
	if err != nil {
		if errors.Is(err, model.ErrNotAvailableYet) {
			return h.blacklistAndRescrape(item.ID, candidate.ID, model.ReasonNotCached, err)
		}
		if errors.Is(err, model.ErrContentRejected) {
			return h.blacklistAndRescrape(item.ID, candidate.ID, model.ReasonDownloadDenied, err)
		}
		return classifyErr(err, now, func() model.Outcome {
			if h.downloadAttemptsExhausted(item) {
				return model.Outcome{Kind: model.OutcomeFail, Err: err}
			}
			return model.Outcome{Kind: model.OutcomeRetry, RunAt: now.Add(downloadRetryBackoff(item.FailedAttempts)), Err: err}
		}, func() model.Outcome {
			return h.blacklistAndRescrape(item.ID, candidate.ID, model.ReasonDownloadDenied, err)
		})
	}

	if !result.Available {
		return h.blacklistAndRescrape(item.ID, candidate.ID, model.ReasonNotCached, model.ErrNotAvailableYet)
	}

	selection, ok := selector(item, result.Files)
	if !ok {
		return h.blacklistAndRescrape(item.ID, candidate.ID, model.ReasonNoMatchingFiles, errors.New("no file in cached result matches item"))
	}

	return model.Outcome{
		Kind:      model.OutcomeAdvance,
		NextState: model.StateDownloaded,
		Attributes: map[string]any{
			"file_name":           selection.FileName,
			"folder":              selection.Folder,
			"file_size":           selection.FileSize,
			"reset_scraped_times": true,
		},
	}
}

// downloadRetryBackoff doubles from a 1-minute base and caps at 2 hours,
// implementing §4.6's "transient failure retries with exponential backoff
// up to N" for the Downloader stage.
func downloadRetryBackoff(attempt int) time.Duration {
	delay := time.Minute
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= 2*time.Hour {
			return 2 * time.Hour
		}
	}
	return delay
}

// blacklistAndRescrape implements §4.6's "fatal failure: blacklist the
// stream and re-enqueue Scraping immediately" — the item stays at its
// current state (no other candidate may exist yet) but a fresh Scraper
// event is queued right away rather than waiting for the next backoff tick.
func (h *Handlers) blacklistAndRescrape(itemID, streamID int64, reason model.BlacklistReason, err error) model.Outcome {
	return model.Outcome{
		Kind:              model.OutcomeBlacklistAndRetry,
		BlacklistStreamID: streamID,
		BlacklistReason:   reason,
		Attributes:        map[string]any{"clear_active_stream": true},
		FollowUps:         []model.FollowUp{{ItemID: itemID, Service: model.ServiceScraper}},
		Err:               err,
	}
}
