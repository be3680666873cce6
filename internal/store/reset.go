// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"time"

	"github.com/riven-go/riven/internal/model"
)

// ResetItem implements the reset semantics supplemented from the original
// implementation: resetting a Show or Season recurses into every
// descendant, clearing active_stream_id/symlink_path/failed_attempts and
// returning each row to Requested so it re-enters the pipeline from
// scratch. Resetting a leaf item only touches that row.
func (tx *Tx) ResetItem(ctx context.Context, id int64, at time.Time) error {
	item, children, err := tx.LoadItem(ctx, id, 8)
	if err != nil {
		return err
	}

	ids := []int64{item.ID}
	for _, c := range children {
		ids = append(ids, c.ID)
	}

	for _, itemID := range ids {
		if _, err := tx.sqlTx.ExecContext(ctx, `
			UPDATE media_items SET
				state = ?,
				last_state_at = ?,
				failed_attempts = 0,
				next_retry_at = NULL,
				active_stream_id = NULL,
				symlink_path = NULL,
				file_name = NULL,
				folder = NULL,
				file_size = NULL,
				indexed_at = NULL,
				scraped_at = NULL,
				scraped_times = 0,
				symlinked_at = NULL
			WHERE id = ?`,
			model.StateRequested, at, itemID,
		); err != nil {
			return classify(err)
		}
	}
	return nil
}

// Reindex implements the supplemented /items/{id}/reindex semantics: rerun
// only the Indexer stage without clearing downstream state, used to pick
// up renamed episodes without losing existing files/symlinks.
func (tx *Tx) Reindex(ctx context.Context, id int64, at time.Time) error {
	_, err := tx.sqlTx.ExecContext(ctx, `
		UPDATE media_items SET state = ?, last_state_at = ?, indexed_at = NULL
		WHERE id = ?`,
		model.StateRequested, at, id,
	)
	return classify(err)
}
