// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from environment variables
// and config files.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Data Source:
//     - Spotify: Credentials and polling behavior for the friend activity feed
//
//  2. Infrastructure:
//     - Database: SQLite configuration (path, busy timeout, write retries)
//     - Server: HTTP server configuration (port, host, timeout)
//
//  3. Observability:
//     - Logging: Log levels and output formats
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from
// multiple goroutines.
type Config struct {
	Spotify  SpotifyConfig  `koanf:"spotify"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// SpotifyConfig holds credentials and polling behavior for the friend
// activity feed.
//
// Authentication uses either a long-lived sp_dc browser cookie (exchanged for
// short-lived access tokens automatically) or a pre-obtained bearer token.
// At least one of the two must be set.
//
// Environment Variables:
//   - SPOTIFY_SP_DC: sp_dc cookie value from an authenticated browser session
//   - SPOTIFY_BEARER_TOKEN: Pre-obtained web-player access token
//   - SPOTIFY_POLL_INTERVAL: Delay between feed polls (default: 30s)
//   - SPOTIFY_RECENCY_WINDOW: Max age for an event to count as active (default: 5m)
type SpotifyConfig struct {
	SpDC           string        `koanf:"sp_dc"`
	BearerToken    string        `koanf:"bearer_token"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	RecencyWindow  time.Duration `koanf:"recency_window"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// DatabaseConfig holds SQLite settings for the activity store.
//
// Environment Variables:
//   - DATABASE_PATH: SQLite database file path (default: /data/earshot.db)
//   - DATABASE_BUSY_TIMEOUT: SQLite busy_timeout pragma value (default: 30s)
//   - DATABASE_RETRY_ATTEMPTS: Total write attempts for a contended operation (default: 3)
//   - DATABASE_RETRY_DELAY: Base delay before the first write retry (default: 1s)
type DatabaseConfig struct {
	Path          string        `koanf:"path"`
	BusyTimeout   time.Duration `koanf:"busy_timeout"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
}

// ServerConfig holds HTTP server settings for the read-only query API.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// APIConfig holds pagination limits for query endpoints.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - LOG_LEVEL: Log level (debug, info, warn, error) (default: info)
//   - LOG_FORMAT: Output format (json, console) (default: json)
//   - LOG_CALLER: Include caller file:line in log output (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for completeness and sane values.
func (c *Config) Validate() error {
	if err := c.validateSpotify(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateSpotify() error {
	if c.Spotify.SpDC == "" && c.Spotify.BearerToken == "" {
		return fmt.Errorf("spotify credentials required: set SPOTIFY_SP_DC or SPOTIFY_BEARER_TOKEN")
	}
	if c.Spotify.PollInterval < time.Second {
		return fmt.Errorf("spotify poll interval must be at least 1s, got %s", c.Spotify.PollInterval)
	}
	if c.Spotify.RecencyWindow <= 0 {
		return fmt.Errorf("spotify recency window must be positive, got %s", c.Spotify.RecencyWindow)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.Database.RetryAttempts < 1 {
		return fmt.Errorf("database retry attempts must be at least 1, got %d", c.Database.RetryAttempts)
	}
	if c.Database.RetryDelay <= 0 {
		return fmt.Errorf("database retry delay must be positive, got %s", c.Database.RetryDelay)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.API.DefaultPageSize < 1 || c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("invalid pagination limits: default %d, max %d", c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q: must be json or console", c.Logging.Format)
	}
	return nil
}
