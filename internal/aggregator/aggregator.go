// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package aggregator applies accepted events to the analytical store.
// Application is exactly-once per identity: the store insert is keyed
// on the event identity, so a replayed event commits as a no-op. The
// sequencer invokes Apply before it records an event's identity, which
// keeps identity acceptance and durable application in step across
// crashes.
package aggregator

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/metrics"
	"github.com/pvpstats/killfeed/internal/models"
	"github.com/pvpstats/killfeed/internal/store"
)

// FactionResolver maps a player to their faction within a group, when
// one is known. Implementations return (nil, nil) for unaffiliated
// players.
type FactionResolver interface {
	Faction(ctx context.Context, groupID, playerID string) (*store.FactionRef, error)
}

// NoFactions is the resolver used when no group roster integration is
// configured; every player is unaffiliated.
type NoFactions struct{}

// Faction implements FactionResolver.
func (NoFactions) Faction(_ context.Context, _, _ string) (*store.FactionRef, error) {
	return nil, nil
}

const (
	// lockStripes bounds concurrent same-entity writers. Events for the
	// same (group, killer) hash to the same stripe.
	lockStripes = 64

	// applyAttempts bounds retries on transient store failures before
	// the error surfaces to the caller.
	applyAttempts = 3

	retryDelay = 100 * time.Millisecond
)

// Aggregator is the aggregation engine.
type Aggregator struct {
	store    *store.Store
	factions FactionResolver

	stripes [lockStripes]sync.Mutex
}

// New creates an Aggregator. A nil resolver disables faction counters.
func New(st *store.Store, factions FactionResolver) *Aggregator {
	if factions == nil {
		factions = NoFactions{}
	}
	return &Aggregator{store: st, factions: factions}
}

// Apply applies one event atomically, with bounded retry on transient
// store failures. Safe for concurrent use; same-entity writes serialize
// on a lock stripe.
func (a *Aggregator) Apply(ctx context.Context, ev *models.KillEvent) error {
	killerFaction, err := a.factions.Faction(ctx, ev.GroupID, ev.KillerID)
	if err != nil {
		return fmt.Errorf("resolve killer faction: %w", err)
	}
	victimFaction, err := a.factions.Faction(ctx, ev.GroupID, ev.VictimID)
	if err != nil {
		return fmt.Errorf("resolve victim faction: %w", err)
	}

	stripe := a.stripe(ev.GroupID, ev.KillerID)
	stripe.Lock()
	defer stripe.Unlock()

	var lastErr error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		start := time.Now()
		applied, err := a.store.ApplyKillEvent(ctx, ev, killerFaction, victimFaction)
		metrics.AggregateApplyDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			if !applied {
				logging.Debug().Str("event_id", ev.EventID).Msg("Event already applied")
			}
			return nil
		}
		lastErr = err
		metrics.AggregateConflicts.Inc()
		if attempt < applyAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("apply event after %d attempts: %w", applyAttempts, lastErr)
}

func (a *Aggregator) stripe(groupID, killerID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(groupID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(killerID))
	return &a.stripes[h.Sum32()%lockStripes]
}
