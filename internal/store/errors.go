// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import "strings"

// isConstraintViolation detects a unique/primary-key violation, e.g. a
// duplicate (item_id, infohash) insert into blacklist_entries. The §4.1
// contract maps this to a Conflict the caller treats as "already
// blacklisted", mirroring the teacher's isTransactionConflict helper in
// database_connection.go.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Constraint Error") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "violates primary key") ||
		strings.Contains(msg, "duplicate key")
}

// isTransactionConflict detects a DuckDB serializable-transaction conflict,
// which the §4.1 contract treats as a Transient/retryable error.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") ||
		strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "cannot update a table that has been altered")
}
