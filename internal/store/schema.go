// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store: schema management. Adapted from the teacher's
// database_schema.go/migrations.go pair: a single CREATE TABLE IF NOT
// EXISTS pass (pre-release, single source of truth) plus a versioned
// schema_migrations table ready for post-release incremental changes.
package store

import (
	"context"
	"fmt"
	"time"
)

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func (s *Store) getTableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS media_items (
			id BIGINT PRIMARY KEY,
			kind TEXT NOT NULL,
			parent_id BIGINT,
			imdb_id TEXT,
			tvdb_id TEXT,
			tmdb_id TEXT,
			trakt_id TEXT,
			title TEXT NOT NULL,
			year INTEGER,
			aired_at TIMESTAMP,
			network TEXT,
			country TEXT,
			genres TEXT,
			is_anime BOOLEAN NOT NULL DEFAULT false,
			season_number INTEGER,
			episode_number INTEGER,
			requested_at TIMESTAMP NOT NULL,
			requested_by TEXT,
			indexed_at TIMESTAMP,
			scraped_at TIMESTAMP,
			scraped_times INTEGER NOT NULL DEFAULT 0,
			symlinked_at TIMESTAMP,
			updated_at TIMESTAMP,
			last_state_at TIMESTAMP NOT NULL,
			state TEXT NOT NULL,
			failed_attempts INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMP,
			file_name TEXT,
			folder TEXT,
			file_size BIGINT,
			symlink_path TEXT,
			show_status TEXT,
			next_air_date TIMESTAMP,
			active_stream_id BIGINT,
			priority INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS streams (
			id BIGINT PRIMARY KEY,
			item_id BIGINT NOT NULL,
			infohash TEXT NOT NULL,
			raw_title TEXT,
			parsed_title TEXT,
			rank INTEGER NOT NULL DEFAULT 0,
			resolution TEXT,
			size_bytes BIGINT,
			seeders INTEGER,
			source_backend TEXT,
			cached BOOLEAN NOT NULL DEFAULT false,
			discovered_at TIMESTAMP NOT NULL,
			UNIQUE (item_id, infohash)
		);`,
		`CREATE TABLE IF NOT EXISTS blacklist_entries (
			item_id BIGINT NOT NULL,
			infohash TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (item_id, infohash)
		);`,
		`CREATE TABLE IF NOT EXISTS transitions (
			id BIGINT PRIMARY KEY,
			item_id BIGINT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			at TIMESTAMP NOT NULL,
			attributes TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			item_id BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			selected_stream_id BIGINT,
			selected_files TEXT,
			state TEXT NOT NULL
		);`,
		`CREATE SEQUENCE IF NOT EXISTS media_items_id_seq START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS streams_id_seq START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS transitions_id_seq START 1;`,
	}
}

func (s *Store) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()
	for _, q := range s.getTableCreationQueries() {
		if _, err := s.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("execute schema query: %s: %w", q, err)
		}
	}
	return nil
}

func (s *Store) getIndexQueries() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_media_items_parent ON media_items(parent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_state ON media_items(state);`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_next_retry ON media_items(next_retry_at);`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_priority_last_state ON media_items(priority, last_state_at);`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_imdb ON media_items(imdb_id) WHERE imdb_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_tvdb ON media_items(tvdb_id) WHERE tvdb_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_tmdb ON media_items(tmdb_id) WHERE tmdb_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_trakt ON media_items(trakt_id) WHERE trakt_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_streams_item ON streams(item_id);`,
		`CREATE INDEX IF NOT EXISTS idx_blacklist_item ON blacklist_entries(item_id);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_item ON transitions(item_id);`,
	}
}

func (s *Store) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()
	for _, q := range s.getIndexQueries() {
		if _, err := s.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("execute index query: %s: %w", q, err)
		}
	}
	return nil
}

// migration is a versioned, append-only schema change applied after the
// initial CREATE TABLE pass, mirroring the teacher's post-release migration
// strategy (database/migrations.go).
type migration struct {
	Version int
	Name    string
	SQL     string
}

// getMigrations returns empty for now: the full schema lives in the initial
// CREATE TABLE statements above. Future incremental changes append here,
// never modifying or removing prior entries.
func (s *Store) getMigrations() []migration {
	return nil
}

func (s *Store) runMigrations() error {
	ctx, cancel := schemaContext()
	defer cancel()

	if _, err := s.conn.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range s.getMigrations() {
		if applied[m.Version] {
			continue
		}
		if _, err := s.conn.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("execute migration v%d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := s.conn.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}
