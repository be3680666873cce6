// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides centralized, layered configuration loading for Riven.

Configuration is assembled in three layers, each overriding the last:

  - Built-in defaults (defaultConfig).
  - An optional YAML settings file, located via --config/CONFIG_PATH or the
    default search list (config.yaml, config.yml, /etc/riven/config.yaml).
  - Environment variables prefixed RIVEN_ (RIVEN_DATABASE_PATH,
    RIVEN_SCRAPING_POOL_SIZE, ...).

The resulting Config is validated with go-playground/validator struct tags
and is immutable once Load returns.
*/
package config
