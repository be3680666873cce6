// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "time"

// Config is the root configuration object (§10.3). It is populated once by
// Load and never mutated afterward — components read their sub-struct at
// construction time, they do not hold a *Config.
type Config struct {
	Server     ServerConfig     `koanf:"server" validate:"required"`
	Database   DatabaseConfig   `koanf:"database" validate:"required"`
	Logging    LoggingConfig    `koanf:"logging" validate:"required"`
	Dispatcher DispatcherConfig `koanf:"dispatcher" validate:"required"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Scheduler  SchedulerConfig  `koanf:"scheduler" validate:"required"`
	Session    SessionConfig    `koanf:"session" validate:"required"`
	EventQueue EventQueueConfig `koanf:"event_queue"`
	EventBus   EventBusConfig   `koanf:"event_bus"`
	API        APIConfig        `koanf:"api" validate:"required"`
	Library    LibraryConfig    `koanf:"library" validate:"required"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
}

// DatabaseConfig configures the embedded DuckDB store (C2).
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"`
	HardReset bool   `koanf:"hard_reset"`
}

// LoggingConfig configures the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// PoolConfig mirrors dispatcher.PoolConfig so config stays decoupled from
// the dispatcher package's import graph.
type PoolConfig struct {
	Size int `koanf:"size" validate:"min=1"`
}

// BreakerConfig mirrors dispatcher.BreakerConfig (§4.7, gobreaker).
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests" validate:"min=1"`
	Interval         time.Duration `koanf:"interval" validate:"min=0"`
	Timeout          time.Duration `koanf:"timeout" validate:"min=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
}

// DispatcherConfig configures per-service-kind worker pools (C7).
type DispatcherConfig struct {
	Indexer       PoolConfig    `koanf:"indexer"`
	Scraping      PoolConfig    `koanf:"scraping"`
	Downloader    PoolConfig    `koanf:"downloader"`
	Symlinker     PoolConfig    `koanf:"symlinker"`
	Updater       PoolConfig    `koanf:"updater"`
	PostProcessor PoolConfig    `koanf:"post_processor"`
	PollWait      time.Duration `koanf:"poll_wait" validate:"min=0"`
	Breaker       BreakerConfig `koanf:"breaker"`
}

// RateLimitConfig is the fallback token-bucket applied to any backend that
// does not declare its own rate_limit (§4.7, §5).
type RateLimitConfig struct {
	PerSecond float64 `koanf:"per_second" validate:"min=0"`
	PerMinute float64 `koanf:"per_minute" validate:"min=0"`
	PerHour   float64 `koanf:"per_hour" validate:"min=0"`
}

// SchedulerConfig configures the periodic jobs of C9 (§4.8/§4.9).
type SchedulerConfig struct {
	ContentPollInterval       time.Duration `koanf:"content_poll_interval" validate:"min=1s"`
	LibraryRescanInterval     time.Duration `koanf:"library_rescan_interval" validate:"min=1s"`
	RetrySweepInterval        time.Duration `koanf:"retry_sweep_interval" validate:"min=1s"`
	UnreleasedRecheckInterval time.Duration `koanf:"unreleased_recheck_interval" validate:"min=1s"`
	OngoingRecheckInterval    time.Duration `koanf:"ongoing_recheck_interval" validate:"min=1s"`
	EndedRecheckInterval      time.Duration `koanf:"ended_recheck_interval" validate:"min=1s"`
	RecentRequestWindow       time.Duration `koanf:"recent_request_window" validate:"min=1s"`
	RescanConcurrency         int           `koanf:"rescan_concurrency" validate:"min=1"`
}

// SessionConfig configures the Manual Session Manager (C10).
type SessionConfig struct {
	TTL             time.Duration `koanf:"ttl" validate:"min=1m"`
	SweepInterval   time.Duration `koanf:"sweep_interval" validate:"min=1s"`
}

// EventQueueConfig configures the optional Badger-backed WAL (C6).
type EventQueueConfig struct {
	WALEnabled bool   `koanf:"wal_enabled"`
	WALPath    string `koanf:"wal_path"`
}

// EventBusConfig configures the outbound transition bus (C11).
type EventBusConfig struct {
	NATSEnabled         bool          `koanf:"nats_enabled"`
	NATSURL             string        `koanf:"nats_url"`
	NotificationCooldown time.Duration `koanf:"notification_cooldown" validate:"min=0"`
}

// APIConfig configures the thin HTTP surface (§6) and its single API key.
type APIConfig struct {
	APIKey          string   `koanf:"api_key" validate:"required"`
	CORSOrigins     []string `koanf:"cors_origins"`
	RatePerMinute   int      `koanf:"rate_per_minute" validate:"min=1"`
}

// LibraryConfig configures the symlink library layout (§6).
type LibraryConfig struct {
	RootPath    string `koanf:"root_path" validate:"required"`
	RclonePath  string `koanf:"rclone_path" validate:"required"`
	AnimeSplit  bool   `koanf:"anime_split"`
}
