// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import "time"

// Config controls the periodic jobs' cadence (§4.8/§4.9). It mirrors
// config.SchedulerConfig so this package stays decoupled from
// internal/config's import graph, following the same split dispatcher.Config
// already uses.
type Config struct {
	ContentPollInterval       time.Duration
	LibraryRescanInterval     time.Duration
	RetrySweepInterval        time.Duration
	UnreleasedRecheckInterval time.Duration
	OngoingRecheckInterval    time.Duration
	EndedRecheckInterval      time.Duration
	RecentRequestWindow       time.Duration
	RescanConcurrency         int
}

// DefaultConfig reproduces the §4.9 cadence table exactly.
func DefaultConfig() Config {
	return Config{
		ContentPollInterval:       30 * time.Minute,
		LibraryRescanInterval:     6 * time.Hour,
		RetrySweepInterval:        time.Minute,
		UnreleasedRecheckInterval: 7 * 24 * time.Hour,
		OngoingRecheckInterval:    24 * time.Hour,
		EndedRecheckInterval:      30 * 24 * time.Hour,
		RecentRequestWindow:       24 * time.Hour,
		RescanConcurrency:         4,
	}
}
