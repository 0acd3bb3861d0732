// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package rivalry materializes prey/nemesis relationships from the
// directed kill-count edges. The recompute is a pure function of store
// state: running it twice against the same edges yields the same rows.
package rivalry

import (
	"context"
	"fmt"
	"time"

	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/metrics"
	"github.com/pvpstats/killfeed/internal/models"
	"github.com/pvpstats/killfeed/internal/store"
)

// Updater periodically recomputes rivalries for every group with
// recorded events.
type Updater struct {
	store    *store.Store
	interval time.Duration
	now      func() time.Time
}

// New creates an Updater ticking at interval.
func New(st *store.Store, interval time.Duration) *Updater {
	return &Updater{store: st, interval: interval, now: time.Now}
}

// String identifies the service in the supervision tree.
func (u *Updater) String() string {
	return "rivalry-updater"
}

// Serve runs the recompute loop until ctx is canceled. One recompute
// runs immediately on start so restarts do not leave rivalries stale for
// a full interval. Implements suture.Service.
func (u *Updater) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", u.interval).Msg("Rivalry updater started")

	if err := u.RecomputeAll(ctx); err != nil {
		logging.Error().Err(err).Msg("Initial rivalry recompute failed")
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := u.RecomputeAll(ctx); err != nil {
				logging.Error().Err(err).Msg("Rivalry recompute failed")
			}
		}
	}
}

// RecomputeAll recomputes rivalries for every known group.
func (u *Updater) RecomputeAll(ctx context.Context) error {
	groups, err := u.store.EventGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	for _, g := range groups {
		if err := u.Recompute(ctx, g); err != nil {
			return fmt.Errorf("recompute group %s: %w", g, err)
		}
	}
	return nil
}

// Recompute rebuilds one group's rivalry rows from its current edges.
func (u *Updater) Recompute(ctx context.Context, groupID string) error {
	edges, err := u.store.EdgesForGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load edges: %w", err)
	}

	rivalries := Compute(groupID, edges, u.now().UTC())
	if err := u.store.SaveRivalries(ctx, groupID, rivalries); err != nil {
		return fmt.Errorf("save rivalries: %w", err)
	}

	metrics.RivalryRecomputes.Inc()
	logging.Debug().
		Str("group", groupID).
		Int("edges", len(edges)).
		Int("players", len(rivalries)).
		Msg("Rivalries recomputed")
	return nil
}

// Compute derives the per-player prey and nemesis from a group's edges.
//
// Prey is the player's strongest outgoing edge, nemesis the strongest
// incoming one. Edges below models.RivalryThreshold never surface. Count
// ties break toward the more recent contributing event, then toward the
// lexicographically smaller player id so the result is deterministic.
func Compute(groupID string, edges []models.RivalryEdge, computedAt time.Time) []models.Rivalry {
	players := make(map[string]*models.Rivalry)
	get := func(id string) *models.Rivalry {
		r, ok := players[id]
		if !ok {
			r = &models.Rivalry{GroupID: groupID, PlayerID: id, ComputedAt: computedAt}
			players[id] = r
		}
		return r
	}

	better := func(cur *models.Rival, curAt time.Time, e *models.RivalryEdge, other string) bool {
		if cur == nil {
			return true
		}
		if e.Count != cur.Count {
			return e.Count > cur.Count
		}
		if !e.LastEventTime.Equal(curAt) {
			return e.LastEventTime.After(curAt)
		}
		return other < cur.PlayerID
	}

	preyAt := make(map[string]time.Time)
	nemesisAt := make(map[string]time.Time)

	for i := range edges {
		e := &edges[i]
		if e.Count < models.RivalryThreshold {
			// Every participant still gets a row; the relationship just
			// stays unset.
			get(e.AttackerID)
			get(e.DefenderID)
			continue
		}

		attacker := get(e.AttackerID)
		if better(attacker.Prey, preyAt[e.AttackerID], e, e.DefenderID) {
			attacker.Prey = &models.Rival{PlayerID: e.DefenderID, Count: e.Count}
			preyAt[e.AttackerID] = e.LastEventTime
		}

		defender := get(e.DefenderID)
		if better(defender.Nemesis, nemesisAt[e.DefenderID], e, e.AttackerID) {
			defender.Nemesis = &models.Rival{PlayerID: e.AttackerID, Count: e.Count}
			nemesisAt[e.DefenderID] = e.LastEventTime
		}
	}

	out := make([]models.Rivalry, 0, len(players))
	for _, r := range players {
		out = append(out, *r)
	}
	return out
}
