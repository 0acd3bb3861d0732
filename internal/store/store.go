// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package store persists kill events, player and faction aggregates,
// rivalries, and bounties in an embedded DuckDB database.
//
// All multi-row mutations run inside explicit transactions so that a
// kill event and the aggregate rows it touches commit or roll back as
// one unit.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver

	"github.com/pvpstats/killfeed/internal/config"
)

// Sentinel errors returned by store queries.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrBountyConflict is returned when a bounty cannot be created or
	// transitioned because another bounty already holds the slot.
	ErrBountyConflict = errors.New("store: conflicting bounty")
)

// Store wraps the DuckDB connection and owns the schema.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the database at cfg.Path and initializes the
// schema. An empty path opens an in-memory database, which is what the
// tests use.
func Open(cfg config.StoreConfig) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	} else {
		// DuckDB does not create parent directories itself.
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	// Disable auto-install/auto-load so startup never reaches out to the
	// network for extensions.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, threads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// DuckDB is an embedded engine; a single writer connection avoids
	// write-write conflicts between pooled connections.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}
	if err := s.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens a throwaway in-memory store. Test helper.
func OpenMemory() (*Store, error) {
	return Open(config.StoreConfig{Path: "", Threads: 1, MaxMemory: "256MB"})
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn exposes the underlying connection for health checks.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core tables. All columns live in the initial
// CREATE TABLE statements; there is no migration layer yet.
func (s *Store) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

func tableCreationQueries() []string {
	return []string{
		// Canonical kill event log. event_id is the content-derived
		// identity, so INSERT OR IGNORE makes replayed ingestion a no-op.
		`CREATE TABLE IF NOT EXISTS kill_events (
			event_id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			killer_id TEXT NOT NULL,
			killer_name TEXT NOT NULL,
			victim_id TEXT NOT NULL,
			victim_name TEXT NOT NULL,
			cause TEXT NOT NULL,
			distance DOUBLE NOT NULL DEFAULT 0,
			killer_platform TEXT,
			victim_platform TEXT,
			suicide BOOLEAN NOT NULL DEFAULT FALSE,
			suicide_kind TEXT,
			source_file TEXT NOT NULL,
			source_line BIGINT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kill_events_group_ts ON kill_events (group_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_kill_events_killer ON kill_events (group_id, killer_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_kill_events_victim ON kill_events (group_id, victim_id, ts)`,

		// Per-player running aggregates, keyed by group.
		`CREATE TABLE IF NOT EXISTS player_stats (
			group_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			player_name TEXT NOT NULL,
			kills BIGINT NOT NULL DEFAULT 0,
			deaths BIGINT NOT NULL DEFAULT 0,
			suicides BIGINT NOT NULL DEFAULT 0,
			total_kill_distance DOUBLE NOT NULL DEFAULT 0,
			longest_kill DOUBLE NOT NULL DEFAULT 0,
			last_seen TIMESTAMP NOT NULL,
			PRIMARY KEY (group_id, player_id)
		)`,

		// Per-faction running aggregates.
		`CREATE TABLE IF NOT EXISTS faction_stats (
			group_id TEXT NOT NULL,
			faction_id TEXT NOT NULL,
			faction_name TEXT NOT NULL,
			kills BIGINT NOT NULL DEFAULT 0,
			deaths BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (group_id, faction_id)
		)`,

		// Directed attacker -> defender kill counts feeding rivalry
		// recomputation.
		`CREATE TABLE IF NOT EXISTS rivalry_edges (
			group_id TEXT NOT NULL,
			attacker_id TEXT NOT NULL,
			defender_id TEXT NOT NULL,
			kill_count BIGINT NOT NULL DEFAULT 0,
			last_event_time TIMESTAMP NOT NULL,
			PRIMARY KEY (group_id, attacker_id, defender_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rivalry_edges_attacker ON rivalry_edges (group_id, attacker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rivalry_edges_defender ON rivalry_edges (group_id, defender_id)`,

		// Materialized prey/nemesis per player, refreshed by the rivalry
		// updater.
		`CREATE TABLE IF NOT EXISTS rivalries (
			group_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			prey_id TEXT,
			prey_kills BIGINT,
			nemesis_id TEXT,
			nemesis_kills BIGINT,
			computed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (group_id, player_id)
		)`,

		// Bounty ledger. At most one active bounty per (group, target);
		// enforced by a predicate in CreateBounty rather than a partial
		// unique index, which DuckDB does not support.
		`CREATE TABLE IF NOT EXISTS bounties (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			target_name TEXT NOT NULL,
			placed_by TEXT NOT NULL,
			reason TEXT NOT NULL,
			reward BIGINT NOT NULL,
			status TEXT NOT NULL,
			placed_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			claimed_by TEXT,
			claimed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bounties_group_status ON bounties (group_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bounties_expiry ON bounties (status, expires_at)`,

		// Per-player currency balances backing bounty reservations and
		// payouts.
		`CREATE TABLE IF NOT EXISTS wallets (
			group_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (group_id, player_id)
		)`,
	}
}
