// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package streams

import "github.com/riven-go/riven/internal/model"

// SizeBounds are configurable min/max acceptable file sizes, distinct for
// movies vs. episodes (§4.2 "Filters applied before ranking").
type SizeBounds struct {
	MinBytes int64
	MaxBytes int64 // 0 = unbounded
}

// FilterConfig holds the registry-wide filter settings.
type FilterConfig struct {
	MovieSize       SizeBounds
	EpisodeSize     SizeBounds
	AllowAdult      bool // global override; per-item allowance still wins
	AllowedLangs    []string
	AllowedResos    []string
}

// candidate is the minimal shape filters need: a parsed/raw stream plus the
// item context it was scraped for.
type candidate struct {
	stream model.Stream
	item   RankContext
	isAdult bool
	lang    string
}

// passesFilters applies the §4.2 pre-ranking filters: size bounds
// (movie vs episode), adult-content, and language/resolution allowlists.
func passesFilters(cfg FilterConfig, c candidate, itemIsAdultFlagged bool) bool {
	bounds := cfg.EpisodeSize
	if c.item.Kind == model.KindMovie {
		bounds = cfg.MovieSize
	}
	if c.stream.SizeBytes != nil {
		size := *c.stream.SizeBytes
		if bounds.MinBytes > 0 && size < bounds.MinBytes {
			return false
		}
		if bounds.MaxBytes > 0 && size > bounds.MaxBytes {
			return false
		}
	}

	if c.isAdult && !itemIsAdultFlagged && !cfg.AllowAdult {
		return false
	}

	if len(cfg.AllowedResos) > 0 && c.stream.Resolution != "" {
		if !contains(cfg.AllowedResos, c.stream.Resolution) {
			return false
		}
	}

	if len(cfg.AllowedLangs) > 0 && c.lang != "" {
		if !contains(cfg.AllowedLangs, c.lang) {
			return false
		}
	}

	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
