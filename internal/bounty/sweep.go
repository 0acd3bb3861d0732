// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package bounty

import (
	"context"
	"fmt"
	"time"

	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/metrics"
	"github.com/pvpstats/killfeed/internal/models"
)

// Sweep expires overdue bounties on a fixed period. The claim path's
// compare-and-swap on status means a concurrent claim and the sweep can
// never both win the same bounty.
type Sweep struct {
	engine *Engine
}

// NewSweep creates the expiry sweep service over an engine.
func NewSweep(e *Engine) *Sweep {
	return &Sweep{engine: e}
}

// String identifies the service in the supervision tree.
func (s *Sweep) String() string {
	return "bounty-sweep"
}

// Serve runs the sweep loop until ctx is canceled. Implements
// suture.Service.
func (s *Sweep) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.engine.cfg.ExpiryInterval).Msg("Bounty expiry sweep started")

	ticker := time.NewTicker(s.engine.cfg.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				logging.Error().Err(err).Msg("Bounty expiry sweep failed")
			}
		}
	}
}

// Run expires every overdue bounty, refunds manual placers, and emits
// expiry notifications. System bounties are not refunded; their reward
// was never drawn from a balance.
func (s *Sweep) Run(ctx context.Context) error {
	e := s.engine
	expired, err := e.store.ExpireDue(ctx, e.now().UTC())
	if err != nil {
		return fmt.Errorf("expire due bounties: %w", err)
	}

	for i := range expired {
		b := &expired[i]
		if b.PlacedBy != models.SystemIdentity {
			if err := e.economy.Credit(ctx, b.GroupID, b.PlacedBy, b.Reward); err != nil {
				logging.Error().Err(err).
					Str("group", b.GroupID).
					Str("placer", b.PlacedBy).
					Int64("amount", b.Reward).
					Msg("Expiry refund failed")
			}
		}
		metrics.BountiesExpired.WithLabelValues(b.GroupID).Inc()
		e.notify(models.NotifyBountyExpired, b, "", "")
		logging.Info().
			Str("group", b.GroupID).
			Str("target", b.TargetID).
			Str("bounty", b.ID).
			Msg("Bounty expired")
	}
	return nil
}
