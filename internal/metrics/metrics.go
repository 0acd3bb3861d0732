// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline, the aggregation engine, and the bounty engine. Metrics are
// exposed at /metrics by the query API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	LinesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_lines_read_total",
			Help: "Total raw lines read from remote sources",
		},
		[]string{"source"},
	)

	EventsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_events_accepted_total",
			Help: "Total kill events accepted by the sequencer",
		},
		[]string{"group"},
	)

	EventsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_events_duplicate_total",
			Help: "Total records discarded as already-seen identities",
		},
		[]string{"source"},
	)

	ParseSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_parse_skips_total",
			Help: "Total records skipped during normalization",
		},
		[]string{"source", "reason"},
	)

	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_source_failures_total",
			Help: "Total transient remote source failures",
		},
		[]string{"source"},
	)

	SourceDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "killfeed_source_degraded",
			Help: "Whether a source is currently degraded (1) or healthy (0)",
		},
		[]string{"source"},
	)

	// Aggregation metrics
	AggregateApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "killfeed_aggregate_apply_duration_seconds",
			Help:    "Duration of one atomic aggregate application",
			Buckets: prometheus.DefBuckets,
		},
	)

	AggregateConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killfeed_aggregate_conflicts_total",
			Help: "Total aggregate write conflicts that triggered a retry",
		},
	)

	// Rivalry metrics
	RivalryRecomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killfeed_rivalry_recomputes_total",
			Help: "Total rivalry recompute runs",
		},
	)

	// Bounty metrics
	BountiesPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_bounties_placed_total",
			Help: "Total bounties placed",
		},
		[]string{"group", "source"}, // source: player or system
	)

	BountiesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_bounties_claimed_total",
			Help: "Total bounties claimed",
		},
		[]string{"group"},
	)

	BountiesExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_bounties_expired_total",
			Help: "Total bounties expired by the sweep",
		},
		[]string{"group"},
	)

	// Feed metrics
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_notifications_published_total",
			Help: "Total notifications published to the feed",
		},
		[]string{"kind"},
	)
)
