// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatcher implements the Dispatcher (spec §4.5): one bounded
// worker pool per service kind, draining due events off the Event Queue,
// running the matching Pipeline Handler, and committing its Outcome inside
// a single Store transaction. It is the only place an in-flight item's
// state actually changes.
package dispatcher

import (
	"time"

	"github.com/riven-go/riven/internal/model"
)

// PoolConfig sizes the bounded worker pool for one service kind.
type PoolConfig struct {
	Size int
}

// Config holds the Dispatcher's tunables: per-service pool sizes and the
// circuit breaker settings guarding each one (§4.5, §7).
type Config struct {
	Pools map[model.ServiceKind]PoolConfig

	// PollWait bounds how long a single PopDue call blocks when the queue
	// is empty, letting the dispatch loop notice context cancellation.
	PollWait time.Duration

	Breaker BreakerConfig
}

// BreakerConfig mirrors the teacher's eventprocessor.CircuitBreakerConfig
// (internal/eventprocessor/config.go), applied per service kind here
// instead of per event-bus topic.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultConfig reproduces the §4.5 pool-size defaults: Scraping 8,
// Downloader 4, Indexer 3, Symlinker 2, Updater 2, PostProcessor 1.
func DefaultConfig() Config {
	return Config{
		Pools: map[model.ServiceKind]PoolConfig{
			model.ServiceScraper:       {Size: 8},
			model.ServiceDownloader:    {Size: 4},
			model.ServiceIndexer:       {Size: 3},
			model.ServiceSymlinker:     {Size: 2},
			model.ServiceUpdater:       {Size: 2},
			model.ServicePostProcessor: {Size: 1},
		},
		PollWait: 5 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:      3,
			Interval:         30 * time.Second,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
		},
	}
}
