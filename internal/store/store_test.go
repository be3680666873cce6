// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riven-go/riven/internal/model"
)

// testDBSemaphore serializes DuckDB connection creation across this
// package's tests, mirroring the teacher's setupTestDB concurrency guard
// (CGO-backed DuckDB connections can contend under parallel test runs).
var testDBSemaphore = make(chan struct{}, 1)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	s, err := Open(Config{Path: ":memory:", MaxMemory: "512MB"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestItem(title string) *model.MediaItem {
	now := time.Now().UTC()
	return &model.MediaItem{
		Kind:        model.KindMovie,
		Title:       title,
		RequestedAt: now,
		RequestedBy: "test",
		State:       model.StateRequested,
		LastStateAt: now,
	}
}

func TestCreateAndLoadItem(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.CreateItem(ctx, newTestItem("The Matrix"))
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	err = s.WithTx(ctx, func(tx *Tx) error {
		item, children, err := tx.LoadItem(ctx, id, 0)
		require.NoError(t, err)
		assert.Equal(t, "The Matrix", item.Title)
		assert.Equal(t, model.StateRequested, item.State)
		assert.Empty(t, children)
		return nil
	})
	require.NoError(t, err)
}

func TestLoadItemNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		_, _, err := tx.LoadItem(ctx, 999999, 0)
		return err
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLoadItemWithChildren(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var showID, seasonID int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		show := newTestItem("Breaking Bad")
		show.Kind = model.KindShow
		showID, err = tx.CreateItem(ctx, show)
		if err != nil {
			return err
		}

		season := newTestItem("Season 1")
		season.Kind = model.KindSeason
		season.ParentID = &showID
		seasonID, err = tx.CreateItem(ctx, season)
		if err != nil {
			return err
		}

		episode := newTestItem("Pilot")
		episode.Kind = model.KindEpisode
		episode.ParentID = &seasonID
		_, err = tx.CreateItem(ctx, episode)
		return err
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx *Tx) error {
		_, children, err := tx.LoadItem(ctx, showID, 2)
		require.NoError(t, err)
		assert.Len(t, children, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestRecordTransitionUpdatesState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.CreateItem(ctx, newTestItem("Dune"))
		return err
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	err = s.WithTx(ctx, func(tx *Tx) error {
		return tx.RecordTransition(ctx, id, model.StateRequested, model.StateIndexed, now, nil)
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx *Tx) error {
		item, _, err := tx.LoadItem(ctx, id, 0)
		require.NoError(t, err)
		assert.Equal(t, model.StateIndexed, item.State)
		require.NotNil(t, item.IndexedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestUpsertStreamsDedupAndBlacklist(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.CreateItem(ctx, newTestItem("Arrival"))
		return err
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	candidates := []model.Stream{
		{Infohash: "hash-a", ParsedTitle: "Arrival 2016", Rank: 10, DiscoveredAt: now},
		{Infohash: "hash-b", ParsedTitle: "Arrival 2016 REMUX", Rank: 20, DiscoveredAt: now},
	}

	var inserted []model.Stream
	err = s.WithTx(ctx, func(tx *Tx) error {
		var err error
		inserted, err = tx.UpsertStreams(ctx, id, candidates)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	// I6/I2: blacklisting a stream removes it from the live set.
	err = s.WithTx(ctx, func(tx *Tx) error {
		return tx.BlacklistStream(ctx, id, inserted[0].ID, model.ReasonUnusableArchive, now)
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx *Tx) error {
		live, err := tx.LiveStreams(ctx, id)
		require.NoError(t, err)
		assert.Len(t, live, 1)

		blacklisted, err := tx.Blacklisted(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, blacklisted, "hash-a")
		return nil
	})
	require.NoError(t, err)

	// Re-upserting the blacklisted infohash is rejected (I2).
	err = s.WithTx(ctx, func(tx *Tx) error {
		again, err := tx.UpsertStreams(ctx, id, []model.Stream{
			{Infohash: "hash-a", ParsedTitle: "Arrival 2016", Rank: 10, DiscoveredAt: now},
		})
		require.NoError(t, err)
		assert.Empty(t, again)
		return nil
	})
	require.NoError(t, err)
}

func TestBlacklistStreamAlreadyRemovedIsNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var id int64
	var streamID int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.CreateItem(ctx, newTestItem("Her"))
		if err != nil {
			return err
		}
		inserted, err := tx.UpsertStreams(ctx, id, []model.Stream{
			{Infohash: "hash-x", DiscoveredAt: time.Now().UTC()},
		})
		if err != nil {
			return err
		}
		streamID = inserted[0].ID
		return tx.BlacklistStream(ctx, id, streamID, model.ReasonNotCached, time.Now().UTC())
	})
	require.NoError(t, err)

	// Second call: stream already deleted, so LookupStream for the same id
	// will legitimately not be found - that's the expected not-found path,
	// distinct from re-blacklisting the same infohash via a fresh insert.
	err = s.WithTx(ctx, func(tx *Tx) error {
		return tx.BlacklistStream(ctx, id, streamID, model.ReasonNotCached, time.Now().UTC())
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSetActiveStream(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var id, streamID int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.CreateItem(ctx, newTestItem("Oppenheimer"))
		if err != nil {
			return err
		}
		inserted, err := tx.UpsertStreams(ctx, id, []model.Stream{
			{Infohash: "hash-z", DiscoveredAt: time.Now().UTC()},
		})
		if err != nil {
			return err
		}
		streamID = inserted[0].ID
		return tx.SetActiveStream(ctx, id, &streamID)
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx *Tx) error {
		item, _, err := tx.LoadItem(ctx, id, 0)
		require.NoError(t, err)
		require.NotNil(t, item.ActiveStreamID)
		assert.Equal(t, streamID, *item.ActiveStreamID)
		return nil
	})
	require.NoError(t, err)
}

func TestItemsNeeding(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, title := range []string{"A", "B", "C"} {
			item := newTestItem(title)
			item.State = model.StateRequested
			if _, err := tx.CreateItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	items, err := s.ItemsNeeding(ctx, "state = ?", []any{model.StateRequested}, 10)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sentinel := assert.AnError
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.CreateItem(ctx, newTestItem("Rolled Back")); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	items, err := s.ItemsNeeding(ctx, "title = ?", []any{"Rolled Back"}, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSessionLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var itemID int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		itemID, err = tx.CreateItem(ctx, newTestItem("Manual Pick"))
		return err
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	sess := &model.Session{
		ID:        "sess-1",
		ItemID:    itemID,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
		State:     model.SessionOpen,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	loaded, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionOpen, loaded.State)

	loaded.State = model.SessionClosed
	require.NoError(t, s.UpdateSession(ctx, loaded))

	open, err := s.OpenSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

// TestConcurrentTransactions exercises the Store under concurrent writers,
// grounded on the teacher's concurrent_test.go pattern of N goroutines
// hammering the same DB instance.
func TestConcurrentTransactions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx *Tx) error {
				_, err := tx.CreateItem(ctx, newTestItem("concurrent"))
				return err
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	items, err := s.ItemsNeeding(ctx, "title = ?", []any{"concurrent"}, workers+1)
	require.NoError(t, err)
	assert.Len(t, items, workers)
}
