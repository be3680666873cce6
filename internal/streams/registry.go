// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package streams

import (
	"sort"
	"time"

	"github.com/riven-go/riven/internal/model"
)

// Registry applies filtering, ranking and selection over the Stream set
// the Store hands it for one item. It holds no mutable entity state itself
// (ownership stays with the Store, per §3 "Ownership") — every method takes
// the current streams/blacklist as input and returns a decision, which the
// caller (a Pipeline Handler, inside a Store transaction) persists.
type Registry struct {
	ranker Ranker
	filter FilterConfig
}

// New creates a Registry. A nil ranker falls back to DefaultRanker.
func New(ranker Ranker, filter FilterConfig) *Registry {
	if ranker == nil {
		ranker = DefaultRanker{}
	}
	return &Registry{ranker: ranker, filter: filter}
}

// ScrapeResult is one raw candidate surfaced by a scraper backend (§4.6).
type ScrapeResult struct {
	Infohash    string
	RawTitle    string
	ParsedTitle string
	Resolution  string
	SizeBytes   *int64
	Seeders     *int
	SourceName  string
	Cached      bool
	IsAdult     bool
	Language    string
}

// PlanUpsert dedupes new scrape results against the item's existing live set
// and blacklist (I2), ranks the genuinely new ones, and returns the streams
// that should actually be inserted plus the ones rejected because they are
// already blacklisted (P2: blacklist monotonicity — never re-added).
//
// This is the pure decision function behind Store.upsert_streams (§4.1):
// the Store is responsible for the atomic dedup-by-infohash insert; Registry
// decides rank and keep/reject.
//
// source_backend tags are merged among results for the same new infohash.
// For an infohash that is already live the merged tags are not returned,
// so the stored stream's source_backend is left unchanged.
func (r *Registry) PlanUpsert(item RankContext, itemAdultFlagged bool, existing []model.Stream, blacklisted map[string]model.BlacklistReason, results []ScrapeResult, now time.Time) (toInsert []model.Stream, rejectedBlacklisted []string) {
	existingHashes := make(map[string]int, len(existing)) // infohash -> index for merge
	for i, s := range existing {
		existingHashes[s.Infohash] = i
	}

	merged := make(map[string]*model.Stream)
	for _, res := range results {
		if _, isBlacklisted := blacklisted[res.Infohash]; isBlacklisted {
			rejectedBlacklisted = append(rejectedBlacklisted, res.Infohash)
			continue
		}
		if idx, exists := existingHashes[res.Infohash]; exists {
			// Already live: keep first-seen parse (§13 open question #3);
			// the tag merge here is local and is dropped below.
			s := existing[idx]
			s.SourceBackend = mergeSourceTags(s.SourceBackend, res.SourceName)
			merged[res.Infohash] = &s
			continue
		}
		if cur, seen := merged[res.Infohash]; seen {
			cur.SourceBackend = mergeSourceTags(cur.SourceBackend, res.SourceName)
			continue
		}

		c := candidate{
			stream: model.Stream{
				Infohash:      res.Infohash,
				RawTitle:      res.RawTitle,
				ParsedTitle:   res.ParsedTitle,
				Resolution:    res.Resolution,
				SizeBytes:     res.SizeBytes,
				Seeders:       res.Seeders,
				SourceBackend: []string{res.SourceName},
				Cached:        res.Cached,
				DiscoveredAt:  now,
			},
			item:    item,
			isAdult: res.IsAdult,
			lang:    res.Language,
		}
		if !passesFilters(r.filter, c, itemAdultFlagged) {
			continue
		}

		keep, rank, _ := r.ranker.Rank(res.ParsedTitle, item)
		if !keep {
			continue
		}
		c.stream.Rank = rank
		merged[res.Infohash] = &c.stream
	}

	for hash, s := range merged {
		if _, alreadyLive := existingHashes[hash]; alreadyLive {
			continue // already live: not inserted, merged tags not returned
		}
		toInsert = append(toInsert, *s)
	}
	return toInsert, rejectedBlacklisted
}

func mergeSourceTags(tags []string, add string) []string {
	for _, t := range tags {
		if t == add {
			return tags
		}
	}
	return append(tags, add)
}

// SelectNext returns the highest-ranked non-blacklisted stream from the
// item's live set that has not been tried too recently, or ok=false if
// none qualify (§4.2 "select_next_candidate").
//
// recentlyFailed holds stream ids the Downloader has already attempted
// within the current scrape cycle so the same candidate is not retried in a
// tight loop when multiple candidates fail in succession.
func (r *Registry) SelectNext(live []model.Stream, recentlyFailed map[int64]bool) (model.Stream, bool) {
	candidates := make([]model.Stream, 0, len(live))
	for _, s := range live {
		if s.Blacklisted || recentlyFailed[s.ID] {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return model.Stream{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Rank != b.Rank {
			return a.Rank > b.Rank // higher rank first
		}
		as, bs := seedersOf(a), seedersOf(b)
		if as != bs {
			return as > bs
		}
		az, bz := sizeOf(a), sizeOf(b)
		if az != bz {
			return az > bz
		}
		return a.DiscoveredAt.After(b.DiscoveredAt) // most recent discovery wins
	})

	return candidates[0], true
}

// TopK returns the k highest-ranked non-blacklisted streams, same ordering
// as SelectNext (§4.2 "top_k").
func (r *Registry) TopK(live []model.Stream, k int) []model.Stream {
	candidates := make([]model.Stream, 0, len(live))
	for _, s := range live {
		if !s.Blacklisted {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Rank != b.Rank {
			return a.Rank > b.Rank
		}
		as, bs := seedersOf(a), seedersOf(b)
		if as != bs {
			return as > bs
		}
		az, bz := sizeOf(a), sizeOf(b)
		if az != bz {
			return az > bz
		}
		return a.DiscoveredAt.After(b.DiscoveredAt)
	})
	if k >= 0 && k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

func seedersOf(s model.Stream) int {
	if s.Seeders == nil {
		return 0
	}
	return *s.Seeders
}

func sizeOf(s model.Stream) int64 {
	if s.SizeBytes == nil {
		return 0
	}
	return *s.SizeBytes
}
