// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package bounty

import "context"

// ConfigGate is a GroupGate backed by a static deny list from
// configuration.
type ConfigGate struct {
	disabled map[string]struct{}
}

// NewConfigGate builds a gate that disables the detector for the listed
// groups and enables it everywhere else.
func NewConfigGate(disabledGroups []string) *ConfigGate {
	disabled := make(map[string]struct{}, len(disabledGroups))
	for _, g := range disabledGroups {
		disabled[g] = struct{}{}
	}
	return &ConfigGate{disabled: disabled}
}

// AutoBountiesEnabled implements GroupGate.
func (g *ConfigGate) AutoBountiesEnabled(_ context.Context, groupID string) bool {
	_, off := g.disabled[groupID]
	return !off
}
