// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"time"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
)

// HandleUpdate implements the Updater row of §4.6: notifies the first
// enabled+healthy media-server backend to refresh the library section
// containing the item's symlink, advancing to Completed on ack.
func (h *Handlers) HandleUpdate(ctx context.Context, item *model.MediaItem, libraryPath string, now time.Time) model.Outcome {
	handle, found := h.Services.First(model.ServiceUpdater, item)
	if !found {
		// No updater configured: selection rule 8 would not have routed
		// here, but treat it as an immediate advance rather than erroring.
		return model.Outcome{Kind: model.OutcomeAdvance, NextState: model.StateCompleted}
	}
	updater, ok := handle.Backend.(services.Updater)
	if !ok {
		return model.Outcome{Kind: model.OutcomeFail, Err: model.ErrConfig}
	}

	if err := updater.Refresh(ctx, libraryPath); err != nil {
		return classifyErr(err, now, func() model.Outcome {
			return model.Outcome{Kind: model.OutcomeRetry, RunAt: now.Add(5 * time.Minute), Err: err}
		}, func() model.Outcome {
			return model.Outcome{Kind: model.OutcomeFail, Err: err}
		})
	}

	return model.Outcome{Kind: model.OutcomeAdvance, NextState: model.StateCompleted}
}
