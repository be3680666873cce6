// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store implements the Store (spec §4.1): DuckDB-backed
// transactional persistence for MediaItems, Streams, BlacklistEntries and
// lifecycle transitions. Ownership is absolute: every other component holds
// only short-lived views resolved by id, the Store is the sole owner of
// persistent entity state.
//
// Grounded on the teacher repo's internal/database package: embedded DuckDB
// opened via database/sql with the duckdb-go/v2 driver, a connection pool
// tuned per-process, a versioned schema_migrations table, and WithTx-style
// transaction helpers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/riven-go/riven/internal/logging"
)

// Config mirrors the teacher's config.DatabaseConfig shape, trimmed to
// what the Store actually needs.
type Config struct {
	Path                   string
	Threads                int
	MaxMemory              string
	PreserveInsertionOrder bool
}

// Store wraps the DuckDB connection and implements every operation in the
// §4.1 Store contract.
type Store struct {
	conn *sql.DB
	cfg  Config
}

// Open creates the database file (if needed), configures the connection
// pool and runs schema migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = "riven.duckdb"
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "2GB"
	}
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
	}

	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(numThreads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{conn: conn, cfg: cfg}

	if err := s.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return s, nil
}

func (s *Store) initialize() error {
	if err := s.createTables(); err != nil {
		return err
	}
	if err := s.runMigrations(); err != nil {
		return err
	}
	if err := s.createIndexes(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to checkpoint after schema initialization")
	}
	return nil
}

// Checkpoint forces DuckDB to flush its WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "CHECKPOINT")
	return err
}

// Ping checks the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close flushes the WAL and closes the connection.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to checkpoint database before close")
	}
	return s.conn.Close()
}

// Conn exposes the underlying *sql.DB for components that need direct
// access (e.g. the Scheduler's items_needing queries).
func (s *Store) Conn() *sql.DB {
	return s.conn
}
