// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventqueue

import (
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/riven-go/riven/internal/logging"
	"github.com/riven-go/riven/internal/model"
)

// BadgerWAL is the optional durability layer named in SPEC_FULL.md §11: a
// write-ahead log of pending events, keyed by item id, so a crash between
// Push and the eventual Store commit does not silently lose a due event.
// Adapted from the teacher's internal/wal BadgerWAL (same open/update/view
// shape), re-keyed for per-item event records instead of per-entry-id
// playback events.
//
// The Store remains the source of truth for in-flight claims (§5
// "Shutdown"); this WAL only protects events that are pending-but-not-yet-
// claimed, and is entirely optional — a nil WAL makes the Queue pure
// in-memory, which is sufficient for spec.md's "event table
// ephemeral/optional; may be in memory".
type BadgerWAL struct {
	db *badger.DB
}

const walKeyPrefix = "pending:"

// OpenBadgerWAL opens (or creates) a BadgerDB-backed WAL at path.
func OpenBadgerWAL(path string) (*BadgerWAL, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event queue WAL: %w", err)
	}
	logging.Info().Str("path", path).Msg("event queue WAL opened")
	return &BadgerWAL{db: db}, nil
}

func walKey(itemID int64) []byte {
	return []byte(walKeyPrefix + strconv.FormatInt(itemID, 10))
}

// Append persists ev so it survives a crash before the Dispatcher claims it.
func (w *BadgerWAL) Append(ev *model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(walKey(ev.ItemID), payload)
	})
}

// Remove deletes the WAL record for itemID, called once the event is
// popped for dispatch or explicitly cancelled.
func (w *BadgerWAL) Remove(itemID int64) error {
	return w.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(walKey(itemID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Load returns every pending event recorded in the WAL, for replay into the
// in-memory heap at startup.
func (w *BadgerWAL) Load() ([]*model.Event, error) {
	var out []*model.Event
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(walKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			var ev model.Event
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return err
			}
			out = append(out, &ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load event queue WAL: %w", err)
	}
	return out, nil
}

// Close releases the underlying BadgerDB handle.
func (w *BadgerWAL) Close() error {
	return w.db.Close()
}
