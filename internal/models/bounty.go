// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package models

import (
	"fmt"
	"time"
)

// BountyStatus is the closed bounty lifecycle enumeration. The only legal
// transitions are active→claimed and active→expired; both are terminal.
type BountyStatus string

const (
	BountyActive  BountyStatus = "active"
	BountyClaimed BountyStatus = "claimed"
	BountyExpired BountyStatus = "expired"
)

// Valid reports whether s is a member of the closed status set.
func (s BountyStatus) Valid() bool {
	switch s {
	case BountyActive, BountyClaimed, BountyExpired:
		return true
	}
	return false
}

// CanTransition reports whether a status move is legal.
func (s BountyStatus) CanTransition(to BountyStatus) bool {
	return s == BountyActive && (to == BountyClaimed || to == BountyExpired)
}

// Bounty reason tags for system-placed bounties.
const (
	BountyReasonKillstreak = "killstreak"
	BountyReasonRepetition = "repetition"
)

// Bounty is a reward posting on a target player within a group. At most
// one bounty per (group, target) is active at any instant.
type Bounty struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`

	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`

	// PlacedBy is the placer identity; SystemIdentity for auto-generated
	// bounties.
	PlacedBy string `json:"placed_by"`
	Reason   string `json:"reason,omitempty"`
	Reward   int64  `json:"reward"`

	Status   BountyStatus `json:"status"`
	PlacedAt time.Time    `json:"placed_at"`

	ExpiresAt time.Time  `json:"expires_at,omitempty"`
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// Transition moves the bounty to a new status, rejecting any move outside
// the closed transition set.
func (b *Bounty) Transition(to BountyStatus) error {
	if !b.Status.CanTransition(to) {
		return fmt.Errorf("illegal bounty transition %s -> %s", b.Status, to)
	}
	b.Status = to
	return nil
}

// Claim transitions the bounty to claimed, recording the claimer.
func (b *Bounty) Claim(claimerID string, at time.Time) error {
	if err := b.Transition(BountyClaimed); err != nil {
		return err
	}
	b.ClaimedBy = claimerID
	b.ClaimedAt = &at
	return nil
}

// Expire transitions the bounty to expired.
func (b *Bounty) Expire() error {
	return b.Transition(BountyExpired)
}
