// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package eventqueue implements the Event Queue (spec §4.4): a thread-safe
// min-heap keyed by (run_at, priority, id) with per-item dedup, cancellation
// and a bounded-wait pop_due. The heap itself is adapted from the teacher
// repo's generic cache.MinHeap (internal/cache/heap.go), which already
// solves exactly this shape of problem (keyed dedup + O(log n) reorder) for
// its DLQ/retry-scheduling use; here it is keyed by item id and ordered by
// the Event's (run_at, priority, id) tuple instead of a bare timestamp.
package eventqueue

import (
	"sync"

	"github.com/riven-go/riven/internal/model"
)

// entry is one slot in the heap array.
type entry struct {
	itemID int64
	event  *model.Event
	index  int
}

// minHeap is a min-heap over *model.Event ordered by Event.Less, with a
// parallel by-item-id map for O(1) dedup lookups and O(log n) updates.
type minHeap struct {
	mu    sync.Mutex
	items []*entry
	byKey map[int64]*entry
}

func newMinHeap() *minHeap {
	return &minHeap{
		items: make([]*entry, 0),
		byKey: make(map[int64]*entry),
	}
}

// upsert inserts a new event for itemID, or replaces the existing one if
// the new event's RunAt is strictly earlier than the existing one's (§4.4
// dedup: "a sooner push replaces the existing entry"). Returns true if the
// queue's entry for itemID changed.
func (h *minHeap) upsert(itemID int64, ev *model.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.byKey[itemID]; ok {
		if !ev.RunAt.Before(existing.event.RunAt) {
			// Existing entry runs at least as soon; no-op per §4.4.
			return false
		}
		existing.event = ev
		h.fix(existing.index)
		return true
	}

	e := &entry{itemID: itemID, event: ev, index: len(h.items)}
	h.items = append(h.items, e)
	h.byKey[itemID] = e
	h.bubbleUp(e.index)
	return true
}

// popDue removes and returns the minimum entry if its RunAt is <= now.
func (h *minHeap) popDue(nowUnixNano int64) (*model.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return nil, false
	}
	top := h.items[0]
	if top.event.RunAt.UnixNano() > nowUnixNano {
		return nil, false
	}
	h.removeAt(0)
	return top.event, true
}

// peekRunAtNano returns the soonest event's RunAt as unix nanoseconds, or
// ok=false if empty.
func (h *minHeap) peekRunAtNano() (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return 0, false
	}
	return h.items[0].event.RunAt.UnixNano(), true
}

// remove deletes the entry for itemID, if any, and returns it.
func (h *minHeap) remove(itemID int64) (*model.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.byKey[itemID]
	if !ok {
		return nil, false
	}
	h.removeAt(e.index)
	return e.event, true
}

func (h *minHeap) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *minHeap) all() []*model.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*model.Event, 0, len(h.items))
	for _, e := range h.items {
		out = append(out, e.event)
	}
	return out
}

// --- internal heap mechanics (caller holds h.mu) ---

func (h *minHeap) less(i, j int) bool {
	return h.items[i].event.Less(h.items[j].event)
}

func (h *minHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *minHeap) bubbleUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *minHeap) bubbleDown(i int) {
	n := len(h.items)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && h.less(left, smallest) {
			smallest = left
		}
		if right < n && h.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.swap(i, smallest)
		i = smallest
	}
}

func (h *minHeap) fix(i int) {
	h.bubbleUp(i)
	h.bubbleDown(i)
}

func (h *minHeap) removeAt(i int) {
	n := len(h.items) - 1
	e := h.items[i]
	delete(h.byKey, e.itemID)

	if i == n {
		h.items = h.items[:n]
		return
	}

	h.items[i] = h.items[n]
	h.items[i].index = i
	h.items = h.items[:n]
	h.fix(i)
}
