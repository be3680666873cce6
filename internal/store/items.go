// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/riven-go/riven/internal/model"
)

const itemColumns = `id, kind, parent_id, imdb_id, tvdb_id, tmdb_id, trakt_id, title, year,
	aired_at, network, country, genres, is_anime, season_number, episode_number,
	requested_at, requested_by, indexed_at,
	scraped_at, scraped_times, symlinked_at, updated_at, last_state_at, state, failed_attempts,
	next_retry_at, file_name, folder, file_size, symlink_path, show_status, next_air_date,
	active_stream_id, priority`

func scanItem(row interface{ Scan(...any) error }) (*model.MediaItem, error) {
	var m model.MediaItem
	var genres sql.NullString
	var priority int
	if err := row.Scan(
		&m.ID, &m.Kind, &m.ParentID, &m.ImdbID, &m.TvdbID, &m.TmdbID, &m.TraktID,
		&m.Title, &m.Year, &m.AiredAt, &m.Network, &m.Country, &genres, &m.IsAnime,
		&m.SeasonNumber, &m.EpisodeNumber,
		&m.RequestedAt, &m.RequestedBy, &m.IndexedAt, &m.ScrapedAt, &m.ScrapedTimes,
		&m.SymlinkedAt, &m.UpdatedAt, &m.LastStateAt, &m.State, &m.FailedAttempts,
		&m.NextRetryAt, &m.FileName, &m.Folder, &m.FileSize, &m.SymlinkPath,
		&m.ShowStatus, &m.NextAirDate, &m.ActiveStreamID, &priority,
	); err != nil {
		return nil, err
	}
	if genres.Valid && genres.String != "" {
		_ = json.Unmarshal([]byte(genres.String), &m.Genres)
	}
	return &m, nil
}

// CreateItem inserts a new MediaItem, allocating its id from the
// media_items_id_seq sequence, and returns the allocated id.
func (tx *Tx) CreateItem(ctx context.Context, m *model.MediaItem) (int64, error) {
	genresJSON, err := json.Marshal(m.Genres)
	if err != nil {
		return 0, fmt.Errorf("marshal genres: %w", err)
	}

	var id int64
	err = tx.sqlTx.QueryRowContext(ctx, `SELECT nextval('media_items_id_seq')`).Scan(&id)
	if err != nil {
		return 0, classify(err)
	}

	_, err = tx.sqlTx.ExecContext(ctx, `INSERT INTO media_items (
		id, kind, parent_id, imdb_id, tvdb_id, tmdb_id, trakt_id, title, year,
		aired_at, network, country, genres, is_anime, season_number, episode_number,
		requested_at, requested_by, last_state_at, state, priority
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, m.Kind, m.ParentID, m.ImdbID, m.TvdbID, m.TmdbID, m.TraktID, m.Title, m.Year,
		m.AiredAt, m.Network, m.Country, string(genresJSON), m.IsAnime, m.SeasonNumber, m.EpisodeNumber,
		m.RequestedAt, m.RequestedBy, m.RequestedAt, m.State, 0,
	)
	if err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// LoadItem implements §4.1's load_item(id, depth): returns the item plus,
// if depth > 0, its descendant tree down to depth levels (Show -> Seasons
// -> Episodes), bounded so a pathological parent graph cannot cause
// unbounded recursion.
func (tx *Tx) LoadItem(ctx context.Context, id int64, depth int) (*model.MediaItem, []*model.MediaItem, error) {
	row := tx.sqlTx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM media_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, model.ErrNotFound
		}
		return nil, nil, classify(err)
	}

	if depth <= 0 {
		return item, nil, nil
	}

	var children []*model.MediaItem
	frontier := []int64{id}
	for level := 0; level < depth && len(frontier) > 0; level++ {
		placeholders := make([]string, len(frontier))
		args := make([]any, len(frontier))
		for i, pid := range frontier {
			placeholders[i] = "?"
			args[i] = pid
		}
		query := `SELECT ` + itemColumns + ` FROM media_items WHERE parent_id IN (` + strings.Join(placeholders, ",") + `)`
		rows, err := tx.sqlTx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, nil, classify(err)
		}
		var next []int64
		for rows.Next() {
			c, err := scanItem(rows)
			if err != nil {
				rows.Close()
				return nil, nil, err
			}
			children = append(children, c)
			next = append(next, c.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, nil, err
		}
		rows.Close()
		frontier = next
	}

	return item, children, nil
}

// RecordTransition implements §4.1's record_transition: appends an audit
// row and updates the item's lifecycle timestamps/state in one statement.
func (tx *Tx) RecordTransition(ctx context.Context, itemID int64, from, to model.State, at time.Time, attributes map[string]any) error {
	attrsJSON, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("marshal transition attributes: %w", err)
	}

	var transitionID int64
	if err := tx.sqlTx.QueryRowContext(ctx, `SELECT nextval('transitions_id_seq')`).Scan(&transitionID); err != nil {
		return classify(err)
	}
	if _, err := tx.sqlTx.ExecContext(ctx,
		`INSERT INTO transitions (id, item_id, from_state, to_state, at, attributes) VALUES (?, ?, ?, ?, ?, ?)`,
		transitionID, itemID, from, to, at, string(attrsJSON),
	); err != nil {
		return classify(err)
	}

	set := []string{"state = ?", "last_state_at = ?"}
	args := []any{to, at}

	switch to {
	case model.StateIndexed:
		set = append(set, "indexed_at = ?")
		args = append(args, at)
	case model.StateScraped:
		set = append(set, "scraped_at = ?")
		args = append(args, at)
	case model.StateSymlinked:
		set = append(set, "symlinked_at = ?")
		args = append(args, at)
	}

	// I5: scraped_times increases on every scrape attempt, success or not,
	// independent of whether the transition lands on Scraped.
	if bump, ok := attributes["bump_scraped_times"].(bool); ok && bump {
		set = append(set, "scraped_times = scraped_times + 1")
	}
	if reset, ok := attributes["reset_scraped_times"].(bool); ok && reset {
		set = append(set, "scraped_times = 0")
	}

	if nextRetry, ok := attributes["next_retry_at"].(time.Time); ok {
		set = append(set, "next_retry_at = ?")
		args = append(args, nextRetry)
	}
	if failed, ok := attributes["failed_attempts"].(int); ok {
		set = append(set, "failed_attempts = ?")
		args = append(args, failed)
	}
	if fileName, ok := attributes["file_name"].(string); ok {
		set = append(set, "file_name = ?")
		args = append(args, fileName)
	}
	if folder, ok := attributes["folder"].(string); ok {
		set = append(set, "folder = ?")
		args = append(args, folder)
	}
	if fileSize, ok := attributes["file_size"].(int64); ok {
		set = append(set, "file_size = ?")
		args = append(args, fileSize)
	}
	if symlinkPath, ok := attributes["symlink_path"].(string); ok {
		set = append(set, "symlink_path = ?")
		args = append(args, symlinkPath)
	}
	if title, ok := attributes["title"].(string); ok {
		set = append(set, "title = ?")
		args = append(args, title)
	}
	if year, ok := attributes["year"].(*int); ok {
		set = append(set, "year = ?")
		args = append(args, year)
	}
	if airedAt, ok := attributes["aired_at"].(*time.Time); ok {
		set = append(set, "aired_at = ?")
		args = append(args, airedAt)
	}
	if network, ok := attributes["network"].(*string); ok {
		set = append(set, "network = ?")
		args = append(args, network)
	}
	if country, ok := attributes["country"].(*string); ok {
		set = append(set, "country = ?")
		args = append(args, country)
	}
	if genres, ok := attributes["genres"].([]string); ok {
		genresJSON, err := json.Marshal(genres)
		if err != nil {
			return fmt.Errorf("marshal genres: %w", err)
		}
		set = append(set, "genres = ?")
		args = append(args, string(genresJSON))
	}
	if showStatus, ok := attributes["show_status"].(model.ShowStatus); ok {
		set = append(set, "show_status = ?")
		args = append(args, showStatus)
	}
	if nextAirDate, ok := attributes["next_air_date"].(*time.Time); ok {
		set = append(set, "next_air_date = ?")
		args = append(args, nextAirDate)
	}
	if clear, ok := attributes["clear_active_stream"].(bool); ok && clear {
		set = append(set, "active_stream_id = NULL")
	}

	args = append(args, itemID)
	query := fmt.Sprintf("UPDATE media_items SET %s WHERE id = ?", strings.Join(set, ", "))
	_, err = tx.sqlTx.ExecContext(ctx, query, args...)
	return classify(err)
}

// SetActiveStream implements §4.1's set_active_stream.
func (tx *Tx) SetActiveStream(ctx context.Context, itemID int64, streamID *int64) error {
	_, err := tx.sqlTx.ExecContext(ctx, `UPDATE media_items SET active_stream_id = ? WHERE id = ?`, streamID, itemID)
	return classify(err)
}

// FindItemByExternalID looks up a top-level item by whichever external id
// backend is non-empty (imdb/tvdb/tmdb/trakt), used by POST /items (R1
// idempotency: adding an already-known id returns the existing item instead
// of creating a duplicate) and by the Scheduler's content-polling job to
// skip ids it has already created. Returns model.ErrNotFound if none match.
func (s *Store) FindItemByExternalID(ctx context.Context, kind model.Kind, imdbID, tvdbID, tmdbID, traktID string) (*model.MediaItem, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if imdbID != "" {
		clauses = append(clauses, "imdb_id = ?")
		args = append(args, imdbID)
	}
	if tvdbID != "" {
		clauses = append(clauses, "tvdb_id = ?")
		args = append(args, tvdbID)
	}
	if tmdbID != "" {
		clauses = append(clauses, "tmdb_id = ?")
		args = append(args, tmdbID)
	}
	if traktID != "" {
		clauses = append(clauses, "trakt_id = ?")
		args = append(args, traktID)
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("%w: no external id supplied", model.ErrInternal)
	}
	args = append(args, kind)

	query := `SELECT ` + itemColumns + ` FROM media_items WHERE (` + strings.Join(clauses, " OR ") + `) AND kind = ? AND parent_id IS NULL LIMIT 1`
	row := s.conn.QueryRowContext(ctx, query, args...)
	item, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, classify(err)
	}
	return item, nil
}

// ItemsNeeding implements §4.1's items_needing(predicate, limit): returns
// up to limit items matching a raw SQL WHERE predicate, ordered by
// (priority, last_state_at) as required. The predicate is supplied by
// trusted in-process callers (the Scheduler), never by external input.
func (s *Store) ItemsNeeding(ctx context.Context, wherePredicate string, args []any, limit int) ([]*model.MediaItem, error) {
	query := `SELECT ` + itemColumns + ` FROM media_items WHERE ` + wherePredicate + ` ORDER BY priority, last_state_at LIMIT ?`
	rows, err := s.conn.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query items_needing: %w", err)
	}
	defer rows.Close()

	var out []*model.MediaItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
