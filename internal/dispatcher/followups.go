// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatcher

import (
	"context"

	"github.com/riven-go/riven/internal/logging"
	"github.com/riven-go/riven/internal/model"
)

// publish emits the committed transition on the outbound Event Bus (§4.5).
// Bus delivery is best-effort: a publish failure is logged, never retried
// through the transaction that already committed.
func (d *Dispatcher) publish(ctx context.Context, item *model.MediaItem, outcome model.Outcome) {
	msg := TransitionMessage{
		ItemID:  item.ID,
		Kind:    item.Kind,
		From:    item.State,
		To:      outcome.NextState,
		At:      d.clk.Now().Unix(),
		Attempt: item.FailedAttempts,
	}
	if outcome.Err != nil {
		msg.Err = outcome.Err.Error()
	}
	if outcome.Kind != model.OutcomeAdvance {
		msg.To = item.State // no state change on Wait/Retry/BlacklistAndRetry/Cancelled
	}

	if err := d.bus.PublishTransition(ctx, msg); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("item_id", item.ID).Msg("publish transition failed")
	}
}

// enqueueFollowUps pushes every event an Outcome asked for: explicit
// FollowUps (e.g. "re-enqueue Scraping immediately" after a blacklist), the
// next pipeline stage for the item itself on a successful Advance, and one
// first event per newly created child (§4.6's Indexer children).
func (d *Dispatcher) enqueueFollowUps(outcome model.Outcome, childIDs []int64) {
	now := d.clk.Now()

	for _, fu := range outcome.FollowUps {
		runAt := fu.RunAt
		if runAt.IsZero() {
			runAt = now
		}
		if _, err := d.queue.Push(fu.ItemID, fu.Service, runAt, fu.Priority, string(model.EmittedByScheduler)); err != nil {
			logging.Ctx(context.Background()).Warn().Err(err).Int64("item_id", fu.ItemID).Msg("enqueue follow-up failed")
		}
	}

	for _, childID := range childIDs {
		if _, err := d.queue.Push(childID, model.ServiceIndexer, now, 0, string(model.EmittedByScheduler)); err != nil {
			logging.Ctx(context.Background()).Warn().Err(err).Int64("item_id", childID).Msg("enqueue child indexer event failed")
		}
	}
}
