// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package models

// RecordSchema identifies the detected raw record layout. The set is
// closed: dispatch happens on detected field count at parse time, never
// on ad-hoc positional indexing.
type RecordSchema int

const (
	// SchemaUnknown marks records whose field count matches no known layout.
	SchemaUnknown RecordSchema = iota

	// SchemaV1 is the older 7-field layout:
	// timestamp;killer;killer_id;victim;victim_id;cause;distance
	SchemaV1

	// SchemaV2 is the 9-field layout adding two trailing platform tags:
	// ...;killer_platform;victim_platform
	// A 10th trailing empty field is tolerated on this layout.
	SchemaV2
)

// String returns the schema name for logging.
func (s RecordSchema) String() string {
	switch s {
	case SchemaV1:
		return "v1"
	case SchemaV2:
		return "v2"
	default:
		return "unknown"
	}
}

// RawKillRecord is a raw tabular line split into its named fields, before
// timestamp resolution and cause normalization. Platform fields are empty
// for SchemaV1.
type RawKillRecord struct {
	Schema RecordSchema

	RawTimestamp string
	KillerName   string
	KillerID     string
	VictimName   string
	VictimID     string
	Cause        string
	RawDistance  string

	KillerPlatform string
	VictimPlatform string
}
