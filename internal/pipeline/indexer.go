// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"time"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
)

// HandleIndex implements the Indexer row of §4.6: resolves an external id
// into metadata and, for Show items, Season/Episode children.
func (h *Handlers) HandleIndex(ctx context.Context, item *model.MediaItem, now time.Time) model.Outcome {
	backend, found := h.firstIndexer(item)
	if !found {
		return model.Outcome{Kind: model.OutcomeFail, Err: model.ErrConfig}
	}

	result, err := backend.Index(ctx, item)
	if err != nil {
		return classifyErr(err, now, func() model.Outcome {
			return model.Outcome{Kind: model.OutcomeRetry, RunAt: now.Add(30 * time.Minute), Err: err}
		}, func() model.Outcome {
			return model.Outcome{Kind: model.OutcomeFail, Err: err}
		})
	}

	showStatus := result.ShowStatus
	if showStatus == "" {
		showStatus = model.ShowUnknown
	}

	attrs := map[string]any{
		"title":         result.Title,
		"year":          result.Year,
		"aired_at":      timeFromUnix(result.AiredAt),
		"network":       result.Network,
		"country":       result.Country,
		"genres":        result.Genres,
		"show_status":   showStatus,
		"next_air_date": timeFromUnix(result.NextAirDate),
	}

	children := make([]model.NewChild, 0, len(result.Children))
	for _, c := range result.Children {
		children = append(children, model.NewChild{
			Kind:          c.Kind,
			ParentRef:     c.ParentRef,
			Title:         c.Title,
			AiredAt:       timeFromUnix(c.AiredAt),
			SeasonNumber:  c.SeasonNumber,
			EpisodeNumber: c.EpisodeNumber,
		})
	}

	return model.Outcome{
		Kind:       model.OutcomeAdvance,
		NextState:  model.StateIndexed,
		Attributes: attrs,
		Children:   children,
	}
}

func (h *Handlers) firstIndexer(item *model.MediaItem) (services.Indexer, bool) {
	for _, handle := range h.Services.Enabled(model.ServiceIndexer, item) {
		if b, ok := handle.Backend.(services.Indexer); ok {
			return b, true
		}
	}
	return nil, false
}

func timeFromUnix(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
