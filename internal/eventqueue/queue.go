// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/model"
)

// Queue is the thread-safe priority queue described in §4.4: min-heap keyed
// by (run_at, priority, id), per-item dedup, cancellation tokens, and a
// bounded-wait PopDue that respects I4 (at most one in-flight event per
// item).
type Queue struct {
	clk      clock.Clock
	heap     *minHeap
	nextID   int64
	mu       sync.Mutex
	inFlight map[int64]bool
	tokens   map[int64]string // itemID -> current cancellation token
	notify   chan struct{}
	wal      WAL // optional durability, nil if disabled
}

// WAL is the durability seam for pending events (§11: optional badger-backed
// write-ahead log). A nil WAL makes the Queue purely in-memory, matching
// spec.md's "event table ephemeral/optional; may be in memory".
type WAL interface {
	Append(ev *model.Event) error
	Remove(itemID int64) error
	Load() ([]*model.Event, error)
}

// New creates an empty Queue. If wal is non-nil its contents are replayed
// into the heap immediately (crash recovery).
func New(clk clock.Clock, wal WAL) (*Queue, error) {
	q := &Queue{
		clk:      clk,
		heap:     newMinHeap(),
		inFlight: make(map[int64]bool),
		tokens:   make(map[int64]string),
		notify:   make(chan struct{}, 1),
		wal:      wal,
	}
	if wal != nil {
		pending, err := wal.Load()
		if err != nil {
			return nil, err
		}
		for _, ev := range pending {
			q.heap.upsert(ev.ItemID, ev)
		}
	}
	return q, nil
}

// Push enqueues an event, applying the dedup rule in §4.4: if an event for
// the same item already exists with an equal-or-earlier RunAt, this call is
// a no-op; a sooner RunAt replaces the existing entry. Returns the enqueued
// event, which carries its cancellation token, or nil when the push was a
// no-op.
func (q *Queue) Push(itemID int64, service model.ServiceKind, runAt time.Time, priority int, emittedBy string) (*model.Event, error) {
	return q.pushEvent(itemID, service, runAt, priority, emittedBy, 0)
}

// PushRetry re-enqueues an event after a dispatch-level failure (§4.1 "any
// I/O error raises a retryable error; callers re-enqueue the event with
// exponential backoff"), carrying the Attempt counter forward so the
// Dispatcher can bound total re-enqueues (§8 P5).
func (q *Queue) PushRetry(itemID int64, service model.ServiceKind, runAt time.Time, priority int, emittedBy string, attempt int) (*model.Event, error) {
	return q.pushEvent(itemID, service, runAt, priority, emittedBy, attempt)
}

func (q *Queue) pushEvent(itemID int64, service model.ServiceKind, runAt time.Time, priority int, emittedBy string, attempt int) (*model.Event, error) {
	id := atomic.AddInt64(&q.nextID, 1)
	token := uuid.NewString()
	ev := &model.Event{
		ID:          id,
		EmittedBy:   emittedBy,
		ItemID:      itemID,
		Service:     service,
		RunAt:       runAt,
		Priority:    priority,
		CancelToken: token,
		CreatedAt:   q.clk.Now(),
		Attempt:     attempt,
	}

	changed := q.heap.upsert(itemID, ev)
	if !changed {
		return nil, nil
	}

	q.mu.Lock()
	q.tokens[itemID] = token
	q.mu.Unlock()

	if q.wal != nil {
		if err := q.wal.Append(ev); err != nil {
			return nil, err
		}
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return ev, nil
}

// Cancel invalidates any pending event for itemID: its cancellation token
// is rotated so that an already-popped-but-not-yet-claimed copy is
// recognized as stale, and the heap entry is removed outright if still
// pending.
func (q *Queue) Cancel(itemID int64) {
	q.mu.Lock()
	q.tokens[itemID] = uuid.NewString()
	q.mu.Unlock()

	if _, ok := q.heap.remove(itemID); ok && q.wal != nil {
		_ = q.wal.Remove(itemID)
	}
}

// TokenValid reports whether token is still the live cancellation token for
// itemID. Workers check this cooperatively at external-call boundaries
// (§5 "Cancellation is cooperative").
func (q *Queue) TokenValid(itemID int64, token string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tokens[itemID] == token
}

// PopDue returns at most one due event whose item is not currently
// in-flight (I4), blocking up to maxWait if none is immediately available.
// Returns ok=false on timeout or ctx cancellation.
func (q *Queue) PopDue(ctx context.Context, maxWait time.Duration) (*model.Event, bool) {
	deadline := q.clk.Now().Add(maxWait)

	for {
		if ev, ok := q.popIfDueAndFree(); ok {
			return ev, true
		}

		wait := deadline.Sub(q.clk.Now())
		if wait <= 0 {
			return nil, false
		}
		if runAtNano, ok := q.heap.peekRunAtNano(); ok {
			untilDue := time.Duration(runAtNano - q.clk.Now().UnixNano())
			if untilDue < wait {
				wait = untilDue
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := q.clk.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C():
		case <-q.notify:
			timer.Stop()
		}
	}
}

// popIfDueAndFree scans for the earliest due event whose item is not
// in-flight. Items currently in-flight are skipped (their event waits).
func (q *Queue) popIfDueAndFree() (*model.Event, bool) {
	now := q.clk.Now().UnixNano()

	// Due events of in-flight items are held aside while the scan goes on,
	// then re-pushed unchanged so they are reconsidered once the in-flight
	// item clears, rather than being lost.
	var skipped []*model.Event
	defer func() {
		for _, ev := range skipped {
			q.heap.upsert(ev.ItemID, ev)
		}
	}()

	for {
		ev, ok := q.heap.popDue(now)
		if !ok {
			return nil, false
		}

		q.mu.Lock()
		busy := q.inFlight[ev.ItemID]
		if !busy {
			q.inFlight[ev.ItemID] = true
		}
		q.mu.Unlock()

		if !busy {
			if q.wal != nil {
				_ = q.wal.Remove(ev.ItemID)
			}
			return ev, true
		}

		// Item is in-flight: this event must wait; keep scanning.
		skipped = append(skipped, ev)
	}
}

// Release clears the in-flight flag for itemID. The Dispatcher calls it once
// an event's processing is over: after its commit transaction, and also
// after a failed transaction or a dropped event (§4.5).
func (q *Queue) Release(itemID int64) {
	q.mu.Lock()
	delete(q.inFlight, itemID)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// InFlight reports whether itemID currently has a claimed, uncommitted
// event (I4). Exposed for tests and /stats.
func (q *Queue) InFlight(itemID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[itemID]
}

// Len returns the number of pending (not in-flight) events, for /stats and
// backpressure checks (§4.5).
func (q *Queue) Len() int {
	return q.heap.len()
}

// RebuildInFlight clears all in-flight markers. Called once at startup:
// per §5 "Shutdown", in-flight state is never persisted — it is always
// rebuilt (here: reset to empty) so a crash cannot leave a permanently
// stuck item.
func (q *Queue) RebuildInFlight() {
	q.mu.Lock()
	q.inFlight = make(map[int64]bool)
	q.mu.Unlock()
}
