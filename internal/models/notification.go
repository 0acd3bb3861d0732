// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package models

import "time"

// Notification kinds published on the notification feed for the
// presentation layer (command handlers, message rendering, dashboard).
const (
	NotifyBountyPlaced     = "bounty_placed"
	NotifyAutoBountyPlaced = "auto_bounty_placed"
	NotifyBountyClaimed    = "bounty_claimed"
	NotifyBountyExpired    = "bounty_expired"
	NotifySourceDegraded   = "source_degraded"
	NotifySourceRecovered  = "source_recovered"
)

// Notification is one user-facing moment emitted by the engine. Payload
// carries the kind-specific entity (a Bounty, a degraded source report).
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	GroupID   string    `json:"group_id"`
	CreatedAt time.Time `json:"created_at"`

	Bounty *Bounty `json:"bounty,omitempty"`

	// SourceID and Detail are set for source health notifications.
	SourceID string `json:"source_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
}
