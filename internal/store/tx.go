// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riven-go/riven/internal/logging"
	"github.com/riven-go/riven/internal/model"
)

// Tx is the handle passed to a WithTx callback. Every Store mutation in
// §4.1 operates through it so the Dispatcher can compose multiple writes
// (record transition, update stream set, enqueue follow-ups) into the
// single commit the invariants require.
type Tx struct {
	sqlTx *sql.Tx
}

// WithTx runs fn inside a single serializable transaction, committing on a
// nil return and rolling back otherwise. Adapted from the teacher's
// BeginTx/defer-Rollback-on-error pattern (crud_playback.go
// InsertPlaybackEventsBatch).
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil {
				logging.Error().Err(rbErr).Msg("transaction rollback failed after panic")
			}
			err = model.ErrInternal
			logging.Error().Interface("panic", p).Msg("panic recovered inside store transaction")
			return
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("transaction rollback failed")
			}
			return
		}
		if cErr := sqlTx.Commit(); cErr != nil {
			err = fmt.Errorf("commit transaction: %w", cErr)
		}
	}()

	err = fn(&Tx{sqlTx: sqlTx})
	return err
}

// classify maps a raw driver error onto the §7 error taxonomy expected by
// Store callers: transaction conflicts are retryable, constraint
// violations are Conflict, everything else passes through unchanged for
// the caller to wrap.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isTransactionConflict(err):
		return fmt.Errorf("%w: %v", model.ErrTransient, err)
	case isConstraintViolation(err):
		return fmt.Errorf("%w: %v", model.ErrConflict, err)
	default:
		return err
	}
}
