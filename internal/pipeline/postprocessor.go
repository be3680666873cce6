// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"time"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/services"
)

// HandlePostProcess implements the PostProcessor row of §4.6: runs every
// enabled+healthy post-processor (e.g. subtitles) against a Completed item.
// Failures are logged by the Dispatcher only, never fatal and never retried
// through the event queue — there is no next pipeline stage to wait for.
func (h *Handlers) HandlePostProcess(ctx context.Context, item *model.MediaItem, now time.Time) model.Outcome {
	var lastErr error
	for _, handle := range h.Services.Enabled(model.ServicePostProcessor, item) {
		proc, ok := handle.Backend.(services.PostProcessor)
		if !ok {
			continue
		}
		if err := proc.Process(ctx, item); err != nil {
			lastErr = err
		}
	}

	// Terminal either way (§4.6): success and failure both leave the item
	// Completed, since post-processing is a non-fatal enrichment step.
	return model.Outcome{Kind: model.OutcomeAdvance, NextState: model.StateCompleted, Err: lastErr}
}
