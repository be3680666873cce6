// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// Stream is a candidate release for an item (§3). A stream always belongs
// to exactly one item (ItemID); the same infohash may appear as distinct
// rows on different items.
type Stream struct {
	ID     int64
	ItemID int64

	Infohash   string // 40-hex lowercase
	RawTitle   string
	ParsedTitle string
	Rank       int

	Resolution string
	SizeBytes  *int64
	Seeders    *int
	// SourceBackend merges the backend tags of every scraper that
	// surfaced this infohash for this item (§9 open question #3: first-seen
	// parse wins, source_backend tags are merged).
	SourceBackend []string

	Cached           bool
	Blacklisted      bool
	BlacklistReason  *BlacklistReason

	DiscoveredAt time.Time
}

// BlacklistEntry records an infohash an item may never try again, even
// after the Stream row backing it is deleted (I6).
type BlacklistEntry struct {
	ItemID    int64
	Infohash  string
	Reason    BlacklistReason
	CreatedAt time.Time
}
