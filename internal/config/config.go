// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package config loads killfeed configuration from layered sources:
// built-in defaults, an optional YAML file, and KILLFEED_* environment
// variables, in increasing precedence.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the killfeed service.
type Config struct {
	Logging LoggingConfig `koanf:"logging"`
	Store   StoreConfig   `koanf:"store"`
	Cursor  CursorConfig  `koanf:"cursor"`
	Ingest  IngestConfig  `koanf:"ingest"`
	Rivalry RivalryConfig `koanf:"rivalry"`
	Bounty  BountyConfig  `koanf:"bounty"`
	Server  ServerConfig  `koanf:"server"`

	// Sources lists the monitored remote log directories. Sources come
	// from the config file; they cannot be expressed as env vars.
	Sources []SourceConfig `koanf:"sources" validate:"dive"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig controls the DuckDB analytical store.
type StoreConfig struct {
	// Path is the DuckDB database file; ":memory:" for tests.
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	// Threads caps DuckDB worker threads; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// CursorConfig controls the Badger cursor/identity store.
type CursorConfig struct {
	Path     string `koanf:"path" validate:"required"`
	InMemory bool   `koanf:"in_memory"`
}

// SourceConfig describes one monitored remote log directory. Each source
// belongs to exactly one group scope and is driven by its own ingestion
// task; sources never share cursors.
type SourceConfig struct {
	ID      string `koanf:"id" validate:"required"`
	GroupID string `koanf:"group_id" validate:"required"`

	// URL is the base URL of the remote directory of rotating log files.
	URL string `koanf:"url" validate:"required,url"`

	// Token authenticates against the remote host. With RequireToken set,
	// a missing token surfaces at startup and keeps this source from
	// starting; other sources are unaffected.
	Token        string `koanf:"token"`
	RequireToken bool   `koanf:"require_token"`

	// Backfill ingests all historical files on first run instead of
	// starting at the newest file.
	Backfill bool `koanf:"backfill"`
}

// IngestConfig controls ingestion scheduling and failure handling.
type IngestConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=1s"`

	// Transient remote failures retry with exponential backoff between
	// RetryInitialDelay and RetryMaxDelay.
	RetryInitialDelay time.Duration `koanf:"retry_initial_delay" validate:"min=100ms"`
	RetryMaxDelay     time.Duration `koanf:"retry_max_delay"`

	// DegradedThreshold is the number of consecutive failures before a
	// source is marked degraded and surfaced to monitoring.
	DegradedThreshold int `koanf:"degraded_threshold" validate:"min=1"`

	// RequestsPerSecond rate-limits remote fetches per source.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`

	// BatchSize bounds lines read from a file per poll.
	BatchSize int `koanf:"batch_size" validate:"min=1"`
}

// RivalryConfig controls the periodic rivalry recompute.
type RivalryConfig struct {
	Interval time.Duration `koanf:"interval" validate:"min=1m"`
}

// BountyConfig controls the bounty engine and the auto-bounty detector.
type BountyConfig struct {
	// MinReward is the minimum manual bounty amount.
	MinReward int64 `koanf:"min_reward" validate:"min=1"`

	// Auto-bounty rewards are drawn uniformly from [AutoMinReward,
	// AutoMaxReward]; killstreak bounties draw from the upper half.
	AutoMinReward int64 `koanf:"auto_min_reward" validate:"min=1"`
	AutoMaxReward int64 `koanf:"auto_max_reward" validate:"min=1"`

	// Lifespan is how long a bounty stays active before expiring.
	Lifespan time.Duration `koanf:"lifespan" validate:"min=1m"`

	// DetectorInterval is the auto-bounty scan period; DetectorWindow is
	// the trailing window the scan considers.
	DetectorInterval time.Duration `koanf:"detector_interval" validate:"min=30s"`
	DetectorWindow   time.Duration `koanf:"detector_window" validate:"min=1m"`

	// KillstreakThreshold is the kill count within the window that
	// triggers a killstreak bounty; RepeatThreshold the same-victim count
	// for a repetition bounty.
	KillstreakThreshold int `koanf:"killstreak_threshold" validate:"min=2"`
	RepeatThreshold     int `koanf:"repeat_threshold" validate:"min=2"`

	// ExpiryInterval is the period of the expiry sweep.
	ExpiryInterval time.Duration `koanf:"expiry_interval" validate:"min=10s"`

	// DisabledGroups lists group IDs the auto-bounty detector skips.
	DisabledGroups []string `koanf:"disabled_groups"`
}

// ServerConfig controls the read-only query API.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// defaultConfig returns a Config with all defaults applied. Bounty and
// rivalry defaults match the documented engine behavior: 100..500 auto
// rewards, one hour lifespan, five minute detector period over a ten
// minute window, thresholds 5 (killstreak) and 3 (repetition).
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Path:      "/data/killfeed.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Cursor: CursorConfig{
			Path:     "/data/cursors",
			InMemory: false,
		},
		Ingest: IngestConfig{
			PollInterval:      30 * time.Second,
			RetryInitialDelay: 2 * time.Second,
			RetryMaxDelay:     2 * time.Minute,
			DegradedThreshold: 5,
			RequestsPerSecond: 4,
			BatchSize:         1000,
		},
		Rivalry: RivalryConfig{
			Interval: time.Hour,
		},
		Bounty: BountyConfig{
			MinReward:           100,
			AutoMinReward:       100,
			AutoMaxReward:       500,
			Lifespan:            time.Hour,
			DetectorInterval:    5 * time.Minute,
			DetectorWindow:      10 * time.Minute,
			KillstreakThreshold: 5,
			RepeatThreshold:     3,
			ExpiryInterval:      time.Minute,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3990,
			Timeout: 30 * time.Second,
		},
	}
}

// Validate checks the configuration, combining struct-tag validation with
// cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Bounty.AutoMaxReward < c.Bounty.AutoMinReward {
		return fmt.Errorf("config validation: bounty.auto_max_reward (%d) below bounty.auto_min_reward (%d)",
			c.Bounty.AutoMaxReward, c.Bounty.AutoMinReward)
	}
	if c.Ingest.RetryMaxDelay < c.Ingest.RetryInitialDelay {
		return fmt.Errorf("config validation: ingest.retry_max_delay below ingest.retry_initial_delay")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("config validation: duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}
	}

	return nil
}
