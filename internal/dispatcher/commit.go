// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/store"
)

// commit applies one Outcome inside the caller's transaction (§4.5): the
// audit/state update, any stream/blacklist/child side effects the outcome
// carries, and returns the ids allocated to newly created children so the
// caller can enqueue their first event once the transaction commits.
func (d *Dispatcher) commit(ctx context.Context, tx *store.Tx, item *model.MediaItem, ev *model.Event, outcome model.Outcome) ([]int64, error) {
	now := d.clk.Now()
	attrs := cloneAttrs(outcome.Attributes)

	streamsToInsert, _ := attrs["streams_to_insert"].([]model.Stream)
	delete(attrs, "streams_to_insert")

	switch outcome.Kind {
	case model.OutcomeAdvance:
		if len(streamsToInsert) > 0 {
			if _, err := tx.UpsertStreams(ctx, item.ID, streamsToInsert); err != nil {
				return nil, err
			}
		}
		// A successful stage clears failed_attempts (§8 P5): the cap applies
		// to consecutive failures within one stage, not accumulated across
		// the whole pipeline.
		if _, has := attrs["failed_attempts"]; !has {
			attrs["failed_attempts"] = 0
		}
		if err := tx.RecordTransition(ctx, item.ID, item.State, outcome.NextState, now, attrs); err != nil {
			return nil, err
		}
		childIDs, err := d.createChildren(ctx, tx, item, outcome.Children, now)
		if err != nil {
			return nil, err
		}
		return childIDs, nil

	case model.OutcomeWait:
		attrs["next_retry_at"] = outcome.RunAt
		return nil, tx.RecordTransition(ctx, item.ID, item.State, item.State, now, attrs)

	case model.OutcomeRetry:
		if len(streamsToInsert) > 0 {
			if _, err := tx.UpsertStreams(ctx, item.ID, streamsToInsert); err != nil {
				return nil, err
			}
		}
		attrs["next_retry_at"] = outcome.RunAt
		if _, has := attrs["failed_attempts"]; !has {
			attrs["failed_attempts"] = item.FailedAttempts + 1
		}
		return nil, tx.RecordTransition(ctx, item.ID, item.State, item.State, now, attrs)

	case model.OutcomeBlacklistAndRetry:
		if err := tx.BlacklistStream(ctx, item.ID, outcome.BlacklistStreamID, outcome.BlacklistReason, now); err != nil {
			return nil, err
		}
		return nil, tx.RecordTransition(ctx, item.ID, item.State, item.State, now, attrs)

	case model.OutcomeFail:
		attrs["failed_attempts"] = item.FailedAttempts + 1
		return nil, tx.RecordTransition(ctx, item.ID, item.State, model.StateFailed, now, attrs)

	case model.OutcomeCancelled:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown outcome kind %d", model.ErrInternal, outcome.Kind)
	}
}

// createChildren materializes an Indexer outcome's Children (§4.6): each
// NewChild becomes a MediaItem in state Requested, parented either directly
// under the handled item (ParentRef == -1) or under a sibling created
// earlier in the same Outcome (ParentRef is an index into Children),
// letting one Indexer call describe a full Show -> Season -> Episode tree.
func (d *Dispatcher) createChildren(ctx context.Context, tx *store.Tx, parent *model.MediaItem, children []model.NewChild, now time.Time) ([]int64, error) {
	if len(children) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(children))
	for i, c := range children {
		parentID := parent.ID
		if c.ParentRef >= 0 {
			if c.ParentRef >= i {
				return nil, fmt.Errorf("%w: child %d references a not-yet-created parent ref %d", model.ErrInternal, i, c.ParentRef)
			}
			parentID = ids[c.ParentRef]
		}

		child := &model.MediaItem{
			Kind:          c.Kind,
			ParentID:      &parentID,
			Title:         c.Title,
			AiredAt:       c.AiredAt,
			SeasonNumber:  c.SeasonNumber,
			EpisodeNumber: c.EpisodeNumber,
			RequestedAt:   now,
			RequestedBy:   parent.RequestedBy,
			State:         model.StateRequested,
		}

		id, err := tx.CreateItem(ctx, child)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func cloneAttrs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}
