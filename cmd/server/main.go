// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package main is the entry point for the killfeed server.
//
// Killfeed ingests PvP combat logs from remote rotating log directories,
// normalizes them into canonical kill events, and maintains player,
// faction, and rivalry statistics plus a bounty economy on top of them.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, KILLFEED_* env vars (Koanf v2)
//  2. Cursor store: BadgerDB read positions and accepted-event identities
//  3. Analytical store: embedded DuckDB for events, stats, and bounties
//  4. Event feed: in-process Watermill pub/sub connecting the pipeline
//  5. Supervisor tree: suture-managed service hierarchy
//     - ingest layer: one poller per configured source
//     - pipeline layer: aggregator, rivalry updater, bounty services
//     - api layer: websocket hub and HTTP query API
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the supervisor
// tree stops all services, then the stores are closed.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/pvpstats/killfeed/internal/aggregator"
	"github.com/pvpstats/killfeed/internal/api"
	"github.com/pvpstats/killfeed/internal/bounty"
	"github.com/pvpstats/killfeed/internal/config"
	"github.com/pvpstats/killfeed/internal/cursor"
	"github.com/pvpstats/killfeed/internal/feed"
	"github.com/pvpstats/killfeed/internal/ingest"
	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/rivalry"
	"github.com/pvpstats/killfeed/internal/sequencer"
	"github.com/pvpstats/killfeed/internal/store"
	"github.com/pvpstats/killfeed/internal/supervisor"
	ws "github.com/pvpstats/killfeed/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors log through the default logger; Init has not run.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Int("sources", len(cfg.Sources)).
		Str("store_path", cfg.Store.Path).
		Str("cursor_path", cfg.Cursor.Path).
		Msg("Starting killfeed")

	cursors, err := cursor.Open(cfg.Cursor.Path, cfg.Cursor.InMemory)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open cursor store")
	}
	defer func() {
		if err := cursors.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cursor store")
		}
	}()

	st, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open analytical store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing analytical store")
		}
	}()
	logging.Info().Msg("Stores initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := feed.New(logging.NewWatermillLogger())
	defer func() {
		if err := f.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event feed")
		}
	}()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Ingest layer: one poller per source, each with its own cursor and
	// circuit breaker. A degraded source surfaces on the feed and leaves
	// the other sources running. The sequencer applies events through
	// the aggregator before recording their identities, so nothing is
	// marked accepted until the store has it.
	agg := aggregator.New(st, nil)
	seq := sequencer.New(cursors, agg, f)
	monitor := ingest.NewFeedMonitor(f)
	for _, src := range cfg.Sources {
		if src.RequireToken && src.Token == "" {
			logging.Error().Str("source", src.ID).Msg("Source requires a token but none is configured, not starting it")
			continue
		}
		remote := ingest.NewHTTPSource(src, cfg.Ingest)
		tree.AddIngestService(ingest.NewIngester(src, cfg.Ingest, remote, cursors, seq, monitor))
		logging.Info().
			Str("source", src.ID).
			Str("group", src.GroupID).
			Bool("backfill", src.Backfill).
			Msg("Source configured")
	}
	if len(cfg.Sources) == 0 {
		logging.Warn().Msg("No sources configured; serving existing stats only")
	}

	// Pipeline layer. The store itself backs the bounty economy through
	// its wallet table.
	engine := bounty.New(st, f, st, bounty.NewConfigGate(cfg.Bounty.DisabledGroups), cfg.Bounty)
	tree.AddPipelineService(rivalry.New(st, cfg.Rivalry.Interval))
	tree.AddPipelineService(engine)
	tree.AddPipelineService(bounty.NewDetector(engine))
	tree.AddPipelineService(bounty.NewSweep(engine))

	// API layer.
	hub := ws.NewHub(f)
	tree.AddAPIService(hub)
	tree.AddAPIService(api.New(cfg.Server, st, hub))

	logging.Info().
		Str("addr", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Supervisor tree assembled, serving")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
