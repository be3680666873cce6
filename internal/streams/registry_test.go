// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package streams

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riven-go/riven/internal/model"
)

func int64p(v int64) *int64 { return &v }
func intp(v int) *int       { return &v }

func TestDefaultRankerNeverRejects(t *testing.T) {
	keep, rank, _ := DefaultRanker{}.Rank("anything", RankContext{})
	assert.True(t, keep)
	assert.Equal(t, 0, rank)
}

func TestNewFallsBackToDefaultRankerWhenNil(t *testing.T) {
	r := New(nil, FilterConfig{})
	require.NotNil(t, r)
	assert.IsType(t, DefaultRanker{}, r.ranker)
}

func TestPlanUpsertRejectsBlacklistedInfohash(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{})
	blacklisted := map[string]model.BlacklistReason{"aaaa": model.ReasonNotCached}

	toInsert, rejected := r.PlanUpsert(RankContext{Kind: model.KindMovie}, false, nil, blacklisted,
		[]ScrapeResult{{Infohash: "aaaa", ParsedTitle: "Movie"}}, time.Now())

	assert.Empty(t, toInsert)
	assert.Equal(t, []string{"aaaa"}, rejected)
}

func TestPlanUpsertFiltersOutOfBoundsSize(t *testing.T) {
	cfg := FilterConfig{MovieSize: SizeBounds{MinBytes: 1_000_000_000, MaxBytes: 20_000_000_000}}
	r := New(DefaultRanker{}, cfg)

	toInsert, _ := r.PlanUpsert(RankContext{Kind: model.KindMovie}, false, nil, nil,
		[]ScrapeResult{{Infohash: "bbbb", ParsedTitle: "Movie", SizeBytes: int64p(500_000)}}, time.Now())

	assert.Empty(t, toInsert)
}

func TestPlanUpsertInsertsNewNonBlacklistedCandidate(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{})

	toInsert, rejected := r.PlanUpsert(RankContext{Kind: model.KindMovie}, false, nil, nil,
		[]ScrapeResult{{Infohash: "cccc", ParsedTitle: "Movie", SourceName: "scraperA"}}, time.Now())

	require.Len(t, toInsert, 1)
	assert.Empty(t, rejected)
	assert.Equal(t, "cccc", toInsert[0].Infohash)
	assert.Equal(t, []string{"scraperA"}, toInsert[0].SourceBackend)
}

func TestPlanUpsertDoesNotReinsertExistingStream(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{})
	existing := []model.Stream{{ID: 1, Infohash: "dddd", SourceBackend: []string{"scraperA"}}}

	toInsert, _ := r.PlanUpsert(RankContext{Kind: model.KindMovie}, false, existing, nil,
		[]ScrapeResult{{Infohash: "dddd", ParsedTitle: "Movie", SourceName: "scraperB"}}, time.Now())

	assert.Empty(t, toInsert, "an already-live infohash is a merge, not a new insert")
}

func TestPlanUpsertRejectsAdultContentByDefault(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{AllowAdult: false})

	toInsert, _ := r.PlanUpsert(RankContext{Kind: model.KindMovie}, false, nil, nil,
		[]ScrapeResult{{Infohash: "eeee", ParsedTitle: "Movie", IsAdult: true}}, time.Now())

	assert.Empty(t, toInsert)
}

func TestPlanUpsertAllowsAdultContentWhenItemFlagged(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{AllowAdult: false})

	toInsert, _ := r.PlanUpsert(RankContext{Kind: model.KindMovie}, true, nil, nil,
		[]ScrapeResult{{Infohash: "ffff", ParsedTitle: "Movie", IsAdult: true}}, time.Now())

	require.Len(t, toInsert, 1)
}

func TestSelectNextSkipsBlacklistedAndRecentlyFailed(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{})
	live := []model.Stream{
		{ID: 1, Blacklisted: true},
		{ID: 2},
		{ID: 3},
	}

	s, ok := r.SelectNext(live, map[int64]bool{2: true})
	require.True(t, ok)
	assert.Equal(t, int64(3), s.ID)
}

func TestSelectNextPrefersHigherRankOverSeedersAndSize(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{})
	now := time.Now()
	live := []model.Stream{
		{ID: 1, Rank: 1, Seeders: intp(5), SizeBytes: int64p(1000), DiscoveredAt: now},
		{ID: 2, Rank: 5, Seeders: intp(1), SizeBytes: int64p(1), DiscoveredAt: now.Add(-time.Hour)},
	}

	s, ok := r.SelectNext(live, nil)
	require.True(t, ok)
	assert.Equal(t, int64(2), s.ID, "higher rank should win regardless of seeders/size")
}

func TestSelectNextReturnsFalseWhenAllCandidatesExcluded(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{})
	live := []model.Stream{{ID: 1, Blacklisted: true}}

	_, ok := r.SelectNext(live, nil)
	assert.False(t, ok)
}

func TestTopKTruncatesAndExcludesBlacklisted(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{})
	live := []model.Stream{
		{ID: 1, Rank: 3},
		{ID: 2, Rank: 1, Blacklisted: true},
		{ID: 3, Rank: 2},
		{ID: 4, Rank: 1},
	}

	top := r.TopK(live, 2)
	require.Len(t, top, 2)
	assert.Equal(t, int64(1), top[0].ID)
	assert.Equal(t, int64(3), top[1].ID)
}

func TestTopKNegativeKReturnsAllCandidates(t *testing.T) {
	r := New(DefaultRanker{}, FilterConfig{})
	live := []model.Stream{{ID: 1}, {ID: 2}}

	top := r.TopK(live, -1)
	assert.Len(t, top, 2)
}
