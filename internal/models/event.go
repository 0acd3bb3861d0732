// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package models defines the canonical entities shared across the
// ingestion pipeline: kill events, raw record variants, source cursors,
// aggregates, and bounties.
//
// All identities (players, groups, sources) are opaque string tokens.
// Numeric-looking identities are never reinterpreted as numbers; equality
// is always string equality on the canonical form.
package models

import (
	"time"
)

// SystemIdentity is the distinguished placer identity for bounties the
// system generates itself (auto-bounty detector, admin actions).
const SystemIdentity = "system"

// Canonical cause tags produced by the normalizer.
const (
	CauseSuicideRelocation = "suicide_by_relocation"
	CauseFalling           = "falling"
)

// KillEvent is the canonical, immutable record of one combat elimination.
//
// EventID is derived from record content by the sequencer, never supplied
// by the source. Once accepted an event is never mutated or deleted;
// corrections are modeled as new events.
type KillEvent struct {
	EventID   string    `json:"event_id"`
	GroupID   string    `json:"group_id"`
	Timestamp time.Time `json:"timestamp"`

	KillerID   string `json:"killer_id"`
	KillerName string `json:"killer_name"`
	VictimID   string `json:"victim_id"`
	VictimName string `json:"victim_name"`

	// Cause is the canonical weapon/cause tag after normalization.
	Cause    string  `json:"cause"`
	Distance float64 `json:"distance,omitempty"`

	// Platform tags are present only for newer source schemas.
	KillerPlatform string `json:"killer_platform,omitempty"`
	VictimPlatform string `json:"victim_platform,omitempty"`

	Suicide     bool   `json:"suicide"`
	SuicideKind string `json:"suicide_kind,omitempty"` // menu, fall, vehicle, other

	// Source position, used for deterministic ordering tie-breaks.
	SourceFile string `json:"source_file"`
	SourceLine int64  `json:"source_line"`
}

// IsSelfInflicted reports whether killer and victim are the same identity.
// Identity comparison is string comparison of the canonical tokens.
func (e *KillEvent) IsSelfInflicted() bool {
	return e.KillerID != "" && e.KillerID == e.VictimID
}
