// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package models

import "time"

// PlayerAggregate holds per-(group, player) combat counters. It is
// mutated only by the aggregation engine, exactly once per accepted
// event, and never recomputed from scratch outside an explicit rebuild.
type PlayerAggregate struct {
	GroupID    string `json:"group_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`

	Kills    int64 `json:"kills"`
	Deaths   int64 `json:"deaths"`
	Suicides int64 `json:"suicides"`

	TotalKillDistance float64 `json:"total_kill_distance"`
	LongestKill       float64 `json:"longest_kill"`

	LastSeen time.Time `json:"last_seen"`
}

// KDRatio returns kills over deaths with deaths floored at 1, matching
// how the stats surface presents the ratio.
func (p *PlayerAggregate) KDRatio() float64 {
	deaths := p.Deaths
	if deaths < 1 {
		deaths = 1
	}
	return float64(p.Kills) / float64(deaths)
}

// GroupAggregate holds per-(group, faction) counters. Faction counters
// only advance when both participants of an event resolve to factions.
type GroupAggregate struct {
	GroupID     string `json:"group_id"`
	FactionID   string `json:"faction_id"`
	FactionName string `json:"faction_name"`

	Kills  int64 `json:"kills"`
	Deaths int64 `json:"deaths"`
}

// RivalryEdge is the directed (attacker, defender) kill counter within a
// group. Edges feed the rivalry recompute; they are exposed as prey or
// nemesis relationships only once Count reaches RivalryThreshold.
type RivalryEdge struct {
	GroupID    string `json:"group_id"`
	AttackerID string `json:"attacker_id"`
	DefenderID string `json:"defender_id"`

	Count int64 `json:"count"`

	// LastEventTime is the newest contributing event's timestamp, used
	// to break count ties deterministically.
	LastEventTime time.Time `json:"last_event_time"`
}

// RivalryThreshold is the minimum edge count before a relationship is
// exposed. Below the threshold the relationship is unset, which is
// distinct from a zero count.
const RivalryThreshold = 3

// Rival names one side of a prey/nemesis relationship.
type Rival struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Count      int64  `json:"count"`
}

// Rivalry is the recomputed per-player relationship snapshot. Prey is the
// top outgoing edge, Nemesis the top incoming edge; either may be nil
// when no edge meets the threshold.
type Rivalry struct {
	GroupID  string `json:"group_id"`
	PlayerID string `json:"player_id"`

	Prey    *Rival `json:"prey,omitempty"`
	Nemesis *Rival `json:"nemesis,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}
