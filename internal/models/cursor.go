// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package models

import "time"

// SourceCursor is the durable resume point for one monitored remote file.
//
// A cursor advances only after every record up to Line has been durably
// accepted or classified as a skip, so a crash mid-file resumes without
// loss or duplication. Only the sequencer mutates cursors, and at most
// one ingestion task is active per source at a time.
type SourceCursor struct {
	GroupID  string `json:"group_id"`
	SourceID string `json:"source_id"`

	// File is the rotating log file the cursor points into.
	File string `json:"file"`

	// Line is the number of fully-consumed lines in File. The next read
	// starts at Line (zero-based offset == consumed count).
	Line int64 `json:"line"`

	// LastEventTime is the normalized timestamp of the newest accepted
	// event, used to bound historical rescans.
	LastEventTime time.Time `json:"last_event_time"`

	UpdatedAt time.Time `json:"updated_at"`
}
