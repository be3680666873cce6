// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/riven-go/riven/internal/model"
)

// LiveStreams returns every non-blacklisted stream currently on the item,
// the input streams.Registry.PlanUpsert needs for dedup/merge decisions.
func (tx *Tx) LiveStreams(ctx context.Context, itemID int64) ([]model.Stream, error) {
	rows, err := tx.sqlTx.QueryContext(ctx, `SELECT id, item_id, infohash, raw_title, parsed_title,
		rank, resolution, size_bytes, seeders, source_backend, cached, discovered_at
		FROM streams WHERE item_id = ?`, itemID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.Stream
	for rows.Next() {
		var st model.Stream
		var sourceBackend sql.NullString
		if err := rows.Scan(&st.ID, &st.ItemID, &st.Infohash, &st.RawTitle, &st.ParsedTitle,
			&st.Rank, &st.Resolution, &st.SizeBytes, &st.Seeders, &sourceBackend, &st.Cached, &st.DiscoveredAt); err != nil {
			return nil, err
		}
		if sourceBackend.Valid && sourceBackend.String != "" {
			st.SourceBackend = strings.Split(sourceBackend.String, ",")
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Blacklisted returns the item's blacklist as a map of infohash -> reason,
// the shape streams.Registry.PlanUpsert expects for the I2 exclusivity
// check ("a stream is either live or blacklisted, never both").
func (tx *Tx) Blacklisted(ctx context.Context, itemID int64) (map[string]model.BlacklistReason, error) {
	rows, err := tx.sqlTx.QueryContext(ctx, `SELECT infohash, reason FROM blacklist_entries WHERE item_id = ?`, itemID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[string]model.BlacklistReason)
	for rows.Next() {
		var infohash string
		var reason model.BlacklistReason
		if err := rows.Scan(&infohash, &reason); err != nil {
			return nil, err
		}
		out[infohash] = reason
	}
	return out, rows.Err()
}

// UpsertStreams implements §4.1's upsert_streams: inserts the given
// streams, skipping any infohash already blacklisted (I2) or already live,
// and returns the set actually inserted.
func (tx *Tx) UpsertStreams(ctx context.Context, itemID int64, streams []model.Stream) ([]model.Stream, error) {
	if len(streams) == 0 {
		return nil, nil
	}

	blacklisted, err := tx.Blacklisted(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var inserted []model.Stream
	for _, st := range streams {
		if _, blocked := blacklisted[st.Infohash]; blocked {
			continue
		}

		var live int
		if err := tx.sqlTx.QueryRowContext(ctx, `SELECT COUNT(*) FROM streams WHERE item_id = ? AND infohash = ?`, itemID, st.Infohash).Scan(&live); err != nil {
			return inserted, classify(err)
		}
		if live > 0 {
			continue
		}

		var id int64
		if err := tx.sqlTx.QueryRowContext(ctx, `SELECT nextval('streams_id_seq')`).Scan(&id); err != nil {
			return inserted, classify(err)
		}

		_, err := tx.sqlTx.ExecContext(ctx, `INSERT INTO streams (
			id, item_id, infohash, raw_title, parsed_title, rank, resolution,
			size_bytes, seeders, source_backend, cached, discovered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_id, infohash) DO UPDATE SET
			rank = excluded.rank,
			seeders = excluded.seeders,
			cached = excluded.cached,
			source_backend = excluded.source_backend`,
			id, itemID, st.Infohash, st.RawTitle, st.ParsedTitle, st.Rank, st.Resolution,
			st.SizeBytes, st.Seeders, strings.Join(st.SourceBackend, ","), st.Cached, st.DiscoveredAt,
		)
		if err != nil {
			if isConstraintViolation(err) {
				continue
			}
			return inserted, classify(err)
		}
		st.ID = id
		st.ItemID = itemID
		inserted = append(inserted, st)
	}

	return inserted, nil
}

// BlacklistStream implements §4.1's blacklist_stream: atomically deletes
// the stream and inserts a BlacklistEntry (I6). A duplicate blacklist
// insert is reported as Conflict and treated by the caller as
// already-blacklisted, per §4.1's failure semantics.
func (tx *Tx) BlacklistStream(ctx context.Context, itemID, streamID int64, reason model.BlacklistReason, at time.Time) error {
	var infohash string
	err := tx.sqlTx.QueryRowContext(ctx, `SELECT infohash FROM streams WHERE id = ? AND item_id = ?`, streamID, itemID).Scan(&infohash)
	if err == sql.ErrNoRows {
		return model.ErrNotFound
	}
	if err != nil {
		return classify(err)
	}

	if _, err := tx.sqlTx.ExecContext(ctx, `DELETE FROM streams WHERE id = ?`, streamID); err != nil {
		return classify(err)
	}

	_, err = tx.sqlTx.ExecContext(ctx,
		`INSERT INTO blacklist_entries (item_id, infohash, reason, created_at) VALUES (?, ?, ?, ?)`,
		itemID, infohash, reason, at)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: stream already blacklisted", model.ErrConflict)
		}
		return classify(err)
	}
	return nil
}
