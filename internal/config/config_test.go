// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()

	if cfg.Bounty.AutoMinReward != 100 || cfg.Bounty.AutoMaxReward != 500 {
		t.Errorf("unexpected auto reward bounds: [%d, %d]",
			cfg.Bounty.AutoMinReward, cfg.Bounty.AutoMaxReward)
	}
	if cfg.Bounty.KillstreakThreshold != 5 {
		t.Errorf("expected killstreak threshold 5, got %d", cfg.Bounty.KillstreakThreshold)
	}
	if cfg.Bounty.RepeatThreshold != 3 {
		t.Errorf("expected repeat threshold 3, got %d", cfg.Bounty.RepeatThreshold)
	}
	if cfg.Bounty.DetectorWindow != 10*time.Minute {
		t.Errorf("expected 10m detector window, got %v", cfg.Bounty.DetectorWindow)
	}
	if cfg.Bounty.Lifespan != time.Hour {
		t.Errorf("expected 1h lifespan, got %v", cfg.Bounty.Lifespan)
	}
	if cfg.Rivalry.Interval != time.Hour {
		t.Errorf("expected hourly rivalry recompute, got %v", cfg.Rivalry.Interval)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got: %v", err)
	}
}

func TestValidateRejectsInvertedRewardBounds(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Bounty.AutoMinReward = 600
	cfg.Bounty.AutoMaxReward = 500

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for inverted reward bounds")
	}
}

func TestValidateRejectsDuplicateSources(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Sources = []SourceConfig{
		{ID: "srv-1", GroupID: "g1", URL: "http://logs.example.com/srv-1"},
		{ID: "srv-1", GroupID: "g1", URL: "http://logs.example.com/other"},
	}

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for duplicate source ids")
	}
}

func TestValidateRejectsSourceWithoutURL(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Sources = []SourceConfig{{ID: "srv-1", GroupID: "g1"}}

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for missing source url")
	}
}

func TestEnvTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"KILLFEED_LOGGING_LEVEL", "logging.level"},
		{"KILLFEED_BOUNTY_AUTO_MAX_REWARD", "bounty.auto_max_reward"},
		{"KILLFEED_INGEST_POLL_INTERVAL", "ingest.poll_interval"},
		{"KILLFEED_SERVER_PORT", "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := envTransform(tt.in); got != tt.want {
				t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadLayered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yml := `
logging:
  level: debug
bounty:
  auto_max_reward: 750
sources:
  - id: srv-1
    group_id: group-a
    url: http://logs.example.com/srv-1
    token: secret
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("KILLFEED_BOUNTY_AUTO_MIN_REWARD", "200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected file override for level, got %q", cfg.Logging.Level)
	}
	if cfg.Bounty.AutoMaxReward != 750 {
		t.Errorf("expected file override 750, got %d", cfg.Bounty.AutoMaxReward)
	}
	if cfg.Bounty.AutoMinReward != 200 {
		t.Errorf("expected env override 200, got %d", cfg.Bounty.AutoMinReward)
	}
	// Untouched defaults survive layering.
	if cfg.Bounty.KillstreakThreshold != 5 {
		t.Errorf("expected default threshold 5, got %d", cfg.Bounty.KillstreakThreshold)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].ID != "srv-1" {
		t.Errorf("expected one source from file, got %+v", cfg.Sources)
	}
}
