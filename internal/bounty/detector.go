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
	"github.com/pvpstats/killfeed/internal/models"
)

// Detector periodically scans recent events for killstreaks and repeated
// same-victim kills and places system bounties on the offenders.
type Detector struct {
	engine *Engine
}

// NewDetector creates the detector service over an engine.
func NewDetector(e *Engine) *Detector {
	return &Detector{engine: e}
}

// String identifies the service in the supervision tree.
func (d *Detector) String() string {
	return "bounty-detector"
}

// Serve runs the scan loop until ctx is canceled. Implements
// suture.Service.
func (d *Detector) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", d.engine.cfg.DetectorInterval).
		Dur("window", d.engine.cfg.DetectorWindow).
		Msg("Auto-bounty detector started")

	ticker := time.NewTicker(d.engine.cfg.DetectorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Scan(ctx); err != nil {
				logging.Error().Err(err).Msg("Auto-bounty scan failed")
			}
		}
	}
}

// Scan runs one detector pass over every gated group. A target already
// carrying an active bounty is left alone; killstreak takes precedence
// when a player trips both rules in the same pass.
func (d *Detector) Scan(ctx context.Context) error {
	e := d.engine
	groups, err := e.store.EventGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	now := e.now().UTC()
	since := now.Add(-e.cfg.DetectorWindow)

	for _, groupID := range groups {
		if !e.gate.AutoBountiesEnabled(ctx, groupID) {
			continue
		}

		streakers, err := e.store.StreakersSince(ctx, groupID, since, now, int64(e.cfg.KillstreakThreshold))
		if err != nil {
			return fmt.Errorf("scan streakers in %s: %w", groupID, err)
		}
		for _, st := range streakers {
			if err := e.placeAuto(ctx, groupID, st.KillerID, st.KillerName, models.BountyReasonKillstreak); err != nil {
				return err
			}
		}

		repeats, err := e.store.RepeatVictimsSince(ctx, groupID, since, now, int64(e.cfg.RepeatThreshold))
		if err != nil {
			return fmt.Errorf("scan repeat victims in %s: %w", groupID, err)
		}
		for _, r := range repeats {
			if err := e.placeAuto(ctx, groupID, r.KillerID, r.KillerName, models.BountyReasonRepetition); err != nil {
				return err
			}
		}
	}
	return nil
}
