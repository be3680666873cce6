// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/validation"
)

// DefaultConfigPaths lists the paths searched for a settings file, in order
// of priority, when neither --config nor CONFIG_PATH names one explicitly.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/riven/config.yaml",
	"/etc/riven/config.yml",
}

// ConfigPathEnvVar is the environment variable that overrides the settings
// file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix is stripped from every environment variable before it is
// considered for mapping onto a koanf path.
const envPrefix = "RIVEN_"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/riven.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Dispatcher: DispatcherConfig{
			Indexer:       PoolConfig{Size: 3},
			Scraping:      PoolConfig{Size: 8},
			Downloader:    PoolConfig{Size: 4},
			Symlinker:     PoolConfig{Size: 2},
			Updater:       PoolConfig{Size: 2},
			PostProcessor: PoolConfig{Size: 1},
			PollWait:      5 * time.Second,
			Breaker: BreakerConfig{
				MaxRequests:      3,
				Interval:         30 * time.Second,
				Timeout:          10 * time.Second,
				FailureThreshold: 5,
			},
		},
		RateLimit: RateLimitConfig{
			PerSecond: 2,
		},
		Scheduler: SchedulerConfig{
			ContentPollInterval:       30 * time.Minute,
			LibraryRescanInterval:     6 * time.Hour,
			RetrySweepInterval:        time.Minute,
			UnreleasedRecheckInterval: 7 * 24 * time.Hour,
			OngoingRecheckInterval:    24 * time.Hour,
			EndedRecheckInterval:      30 * 24 * time.Hour,
			RecentRequestWindow:       24 * time.Hour,
			RescanConcurrency:         4,
		},
		Session: SessionConfig{
			TTL:           20 * time.Minute,
			SweepInterval: time.Minute,
		},
		EventQueue: EventQueueConfig{
			WALEnabled: true,
			WALPath:    "/data/riven-eventqueue.badger",
		},
		EventBus: EventBusConfig{
			NATSEnabled:          false,
			NATSURL:              "nats://127.0.0.1:4222",
			NotificationCooldown: 15 * time.Minute,
		},
		API: APIConfig{
			RatePerMinute: 120,
		},
		Library: LibraryConfig{
			RootPath:   "/data/library",
			RclonePath: "/mnt/rclone",
			AnimeSplit: false,
		},
	}
}

// envMappings maps a RIVEN_-stripped, lowercased environment variable name
// to its koanf path, following the teacher's explicit-table approach
// (rather than a blind underscore-to-dot transform, which would collide
// with underscores inside field names like max_memory).
var envMappings = map[string]string{
	"server_host":             "server.host",
	"server_port":             "server.port",
	"server_shutdown_timeout": "server.shutdown_timeout",

	"database_path":       "database.path",
	"database_max_memory": "database.max_memory",
	"database_threads":    "database.threads",
	"database_hard_reset": "database.hard_reset",

	"logging_level":  "logging.level",
	"logging_format": "logging.format",

	"indexer_pool_size":        "dispatcher.indexer.size",
	"scraping_pool_size":       "dispatcher.scraping.size",
	"downloader_pool_size":     "dispatcher.downloader.size",
	"symlinker_pool_size":      "dispatcher.symlinker.size",
	"updater_pool_size":        "dispatcher.updater.size",
	"postprocessor_pool_size":  "dispatcher.post_processor.size",
	"dispatcher_poll_wait":     "dispatcher.poll_wait",
	"breaker_max_requests":     "dispatcher.breaker.max_requests",
	"breaker_interval":         "dispatcher.breaker.interval",
	"breaker_timeout":          "dispatcher.breaker.timeout",
	"breaker_failure_threshold": "dispatcher.breaker.failure_threshold",

	"rate_limit_per_second": "rate_limit.per_second",
	"rate_limit_per_minute": "rate_limit.per_minute",
	"rate_limit_per_hour":   "rate_limit.per_hour",

	"content_poll_interval":        "scheduler.content_poll_interval",
	"library_rescan_interval":      "scheduler.library_rescan_interval",
	"retry_sweep_interval":        "scheduler.retry_sweep_interval",
	"unreleased_recheck_interval": "scheduler.unreleased_recheck_interval",
	"ongoing_recheck_interval":    "scheduler.ongoing_recheck_interval",
	"ended_recheck_interval":      "scheduler.ended_recheck_interval",
	"recent_request_window":      "scheduler.recent_request_window",
	"rescan_concurrency":         "scheduler.rescan_concurrency",

	"session_ttl":            "session.ttl",
	"session_sweep_interval": "session.sweep_interval",

	"eventqueue_wal_enabled": "event_queue.wal_enabled",
	"eventqueue_wal_path":    "event_queue.wal_path",

	"nats_enabled":          "event_bus.nats_enabled",
	"nats_url":              "event_bus.nats_url",
	"notification_cooldown": "event_bus.notification_cooldown",

	"api_key":             "api.api_key",
	"api_cors_origins":    "api.cors_origins",
	"api_rate_per_minute": "api.rate_per_minute",

	"library_root_path":   "library.root_path",
	"library_rclone_path": "library.rclone_path",
	"library_anime_split": "library.anime_split",
}

// sliceConfigPaths are koanf paths that must be parsed as comma-separated
// lists when they arrive from an environment variable.
var sliceConfigPaths = []string{"api.cors_origins"}

// Load builds the Config by layering defaults, an optional settings file,
// and RIVEN_-prefixed environment variables, then validates the result
// (§10.3). configPath, if non-empty, overrides CONFIG_PATH and the default
// search list (it corresponds to the CLI's --config flag).
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: load defaults: %v", model.ErrConfig, err)
	}

	if path := findConfigFile(configPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: load config file %s: %v", model.ErrConfig, path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: load environment: %v", model.ErrConfig, err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", model.ErrConfig, err)
	}

	if verr := validation.ValidateStruct(cfg); verr != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrConfig, verr.Error())
	}

	return cfg, nil
}

// findConfigFile resolves the settings file path: explicit flag value,
// then CONFIG_PATH, then the default search list. It returns "" if none
// of those candidates exist on disk — a missing file is not an error,
// matching the teacher's "config file is optional" behavior.
func findConfigFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc looks a stripped, lowercased RIVEN_ env var name up in
// envMappings. Unknown names are dropped (koanf ignores a "" key), so an
// unrelated RIVEN_-prefixed variable in the process environment is inert
// rather than silently unmarshaled into the wrong field.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return envMappings[key]
}

// processSliceFields converts comma-separated env values into slices for
// paths that the Config struct expects as []string.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}
