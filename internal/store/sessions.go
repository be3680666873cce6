// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"

	"github.com/riven-go/riven/internal/model"
)

// CreateSession persists a new manual-override Session (§4.10).
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	filesJSON, err := json.Marshal(sess.SelectedFiles)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `INSERT INTO sessions (
		id, item_id, created_at, expires_at, selected_stream_id, selected_files, state
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ItemID, sess.CreatedAt, sess.ExpiresAt, sess.SelectedStreamID, string(filesJSON), sess.State)
	return classify(err)
}

// LoadSession fetches a Session by id.
func (s *Store) LoadSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT id, item_id, created_at, expires_at,
		selected_stream_id, selected_files, state FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*model.Session, error) {
	var sess model.Session
	var filesJSON sql.NullString
	if err := row.Scan(&sess.ID, &sess.ItemID, &sess.CreatedAt, &sess.ExpiresAt,
		&sess.SelectedStreamID, &filesJSON, &sess.State); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if filesJSON.Valid && filesJSON.String != "" {
		_ = json.Unmarshal([]byte(filesJSON.String), &sess.SelectedFiles)
	}
	return &sess, nil
}

// UpdateSession persists changes to an existing session (selected stream,
// selected files, or state transition).
func (s *Store) UpdateSession(ctx context.Context, sess *model.Session) error {
	filesJSON, err := json.Marshal(sess.SelectedFiles)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `UPDATE sessions SET
		selected_stream_id = ?, selected_files = ?, state = ? WHERE id = ?`,
		sess.SelectedStreamID, string(filesJSON), sess.State, sess.ID)
	return classify(err)
}

// OpenSessions returns every session not yet closed, read by the Manual
// Session Manager's expiry sweep on each tick.
func (s *Store) OpenSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, item_id, created_at, expires_at,
		selected_stream_id, selected_files, state FROM sessions WHERE state != ?`, model.SessionClosed)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var sess model.Session
		var filesJSON sql.NullString
		if err := rows.Scan(&sess.ID, &sess.ItemID, &sess.CreatedAt, &sess.ExpiresAt,
			&sess.SelectedStreamID, &filesJSON, &sess.State); err != nil {
			return nil, err
		}
		if filesJSON.Valid && filesJSON.String != "" {
			_ = json.Unmarshal([]byte(filesJSON.String), &sess.SelectedFiles)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}
