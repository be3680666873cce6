// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package streams implements the Stream Registry & Ranker (spec §4.2): the
// deduplicated per-item candidate set, filtering, ranking delegation and
// selection/blacklist logic. Torrent-name parsing and the ranking math
// itself are explicitly out of scope (spec §1) — Ranker is the pluggable
// seam a real ranking library (e.g. an RTN-style scorer) plugs into.
package streams

import "github.com/riven-go/riven/internal/model"

// RankContext carries the item attributes a Ranker needs without exposing
// the full MediaItem (keeps the ranker interface stable across item kinds).
type RankContext struct {
	Kind           model.Kind
	IsAnime        bool
	SeasonNumber   *int
	EpisodeNumber  *int
	PreferredReso  []string
	PreferredLangs []string
}

// Ranker scores a parsed release title. Keep reports whether the release
// should be considered at all (e.g. rejects a cam-rip profile); Rank is
// higher-is-better; Reasoning is optional free text for diagnostics.
type Ranker interface {
	Rank(parsedTitle string, ctx RankContext) (keep bool, rank int, reasoning string)
}

// DefaultRanker is a conservative, dependency-free fallback used when no
// ranking backend is configured. It never rejects a release and scores
// everything identically, so selection falls through entirely to the tie
// breakers in §4.2 (seeders, then size, then recency).
type DefaultRanker struct{}

func (DefaultRanker) Rank(string, RankContext) (bool, int, string) {
	return true, 0, "default ranker: no discrimination"
}
