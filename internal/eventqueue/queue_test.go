// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/model"
)

func newTestQueue(t *testing.T) (*Queue, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Now())
	q, err := New(clk, nil)
	require.NoError(t, err)
	return q, clk
}

func TestPushAddsAPendingEvent(t *testing.T) {
	q, clk := newTestQueue(t)
	ev, err := q.Push(1, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 1, q.Len())
}

func TestPushDedupsSameItemKeepingEarlierRunAt(t *testing.T) {
	q, clk := newTestQueue(t)
	now := clk.Now()

	_, err := q.Push(1, model.ServiceScraper, now.Add(time.Hour), 0, "scheduler")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	ev, err := q.Push(1, model.ServiceScraper, now.Add(2*time.Hour), 0, "scheduler")
	require.NoError(t, err)
	assert.Nil(t, ev, "a later RunAt for the same item must be a no-op")
	assert.Equal(t, 1, q.Len())

	ev, err = q.Push(1, model.ServiceScraper, now.Add(10*time.Minute), 0, "scheduler")
	require.NoError(t, err)
	assert.NotNil(t, ev, "an earlier RunAt for the same item should replace the pending entry")
	assert.Equal(t, 1, q.Len())
}

func TestCancelRemovesPendingEvent(t *testing.T) {
	q, clk := newTestQueue(t)
	_, err := q.Push(1, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)

	q.Cancel(1)
	assert.Equal(t, 0, q.Len())
}

func TestCancelInvalidatesToken(t *testing.T) {
	q, clk := newTestQueue(t)
	ev, err := q.Push(1, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)

	q.Cancel(1)
	assert.False(t, q.TokenValid(1, ev.CancelToken))
}

func TestPopDueReturnsDueEventImmediately(t *testing.T) {
	q, clk := newTestQueue(t)
	_, err := q.Push(1, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)

	ev, ok := q.PopDue(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.ItemID)
}

func TestPopDueSkipsNotYetDueEvents(t *testing.T) {
	q, clk := newTestQueue(t)
	_, err := q.Push(1, model.ServiceScraper, clk.Now().Add(time.Hour), 0, "scheduler")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.PopDue(ctx, time.Hour)
	assert.False(t, ok)
}

func TestPopDueSkipsInFlightItems(t *testing.T) {
	q, clk := newTestQueue(t)
	_, err := q.Push(1, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)

	ev, ok := q.PopDue(context.Background(), time.Second)
	require.True(t, ok)
	assert.True(t, q.InFlight(ev.ItemID))

	_, err = q.Push(1, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok = q.PopDue(ctx, time.Hour)
	assert.False(t, ok, "an in-flight item's event must not be popped again (I4)")
}

func TestReleaseClearsInFlightFlag(t *testing.T) {
	q, clk := newTestQueue(t)
	_, err := q.Push(1, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)

	ev, ok := q.PopDue(context.Background(), time.Second)
	require.True(t, ok)

	q.Release(ev.ItemID)
	assert.False(t, q.InFlight(ev.ItemID))
}

func TestRebuildInFlightClearsAllMarkers(t *testing.T) {
	q, clk := newTestQueue(t)
	_, err := q.Push(1, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)

	ev, ok := q.PopDue(context.Background(), time.Second)
	require.True(t, ok)
	require.True(t, q.InFlight(ev.ItemID))

	q.RebuildInFlight()
	assert.False(t, q.InFlight(ev.ItemID))
}

type recordingWAL struct {
	appended []int64
	removed  []int64
	load     []*model.Event
}

func (w *recordingWAL) Append(ev *model.Event) error { w.appended = append(w.appended, ev.ItemID); return nil }
func (w *recordingWAL) Remove(itemID int64) error    { w.removed = append(w.removed, itemID); return nil }
func (w *recordingWAL) Load() ([]*model.Event, error) { return w.load, nil }

func TestNewReplaysWALContentsIntoHeap(t *testing.T) {
	clk := clock.NewFake(time.Now())
	wal := &recordingWAL{load: []*model.Event{
		{ID: 1, ItemID: 42, Service: model.ServiceScraper, RunAt: clk.Now()},
	}}

	q, err := New(clk, wal)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestPushAppendsToWAL(t *testing.T) {
	clk := clock.NewFake(time.Now())
	wal := &recordingWAL{}
	q, err := New(clk, wal)
	require.NoError(t, err)

	_, err = q.Push(7, model.ServiceScraper, clk.Now(), 0, "scheduler")
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, wal.appended)
}
