// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package normalizer parses raw delimited log lines of varying schema
// versions into canonical kill events.
//
// The normalizer never fails on malformed input. Every line produces
// either an event or a skip classification with a reason; reasons are
// counted and logged but never propagate as errors past this boundary.
package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/pvpstats/killfeed/internal/models"
)

// SkipReason classifies why a line did not produce a kill event.
type SkipReason string

const (
	// SkipNone marks an accepted line.
	SkipNone SkipReason = ""

	// SkipEmptyLine is a blank line.
	SkipEmptyLine SkipReason = "empty_line"

	// SkipFieldCount is a line whose field count matches no known schema.
	SkipFieldCount SkipReason = "field_count"

	// SkipBadTimestamp is a line whose timestamp matches none of the
	// recognized layouts. The timestamp is never guessed or defaulted.
	SkipBadTimestamp SkipReason = "bad_timestamp"

	// SkipMissingIdentity is a kill line without both participant
	// identities.
	SkipMissingIdentity SkipReason = "missing_identity"

	// SkipSessionLine is a connection/session record, which is never
	// parsed as a kill.
	SkipSessionLine SkipReason = "session_line"
)

// fieldSep is the delimiter used by the tabular log source.
const fieldSep = ";"

// timestampLayouts are the recognized timestamp encodings, tried in
// order; the first match wins.
var timestampLayouts = []string{
	"2006.01.02-15.04.05",
	"2006-01-02-15.04.05",
	"2006.01.02 15.04.05",
}

// platformTags are the platform indicators carried by newer schema
// versions and by console session lines.
var platformTags = []string{"XSX", "PS5", "PC"}

// Field counts for the known tabular layouts. SchemaV2 files sometimes
// carry a trailing empty tenth field from the separator at end of line.
const (
	fieldCountV1          = 7
	fieldCountV2          = 9
	fieldCountV2Trailing  = 10
	sessionMinFieldCount  = 8
	connectMarker         = "connected"
)

// Result is the outcome of normalizing one line: either an accepted
// event (Skip == SkipNone) or a classified skip.
type Result struct {
	Event *models.KillEvent
	Skip  SkipReason

	// RawTimestamp is the unparsed timestamp field, preserved because
	// the identity derivation hashes source bytes, not parsed values.
	RawTimestamp string
}

// Accepted reports whether the line produced an event.
func (r Result) Accepted() bool {
	return r.Skip == SkipNone
}

// Normalizer turns raw lines into canonical kill events for one group
// scope. It is computation-only and safe for concurrent use.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize parses one raw line read at (sourceFile, lineNo). The event
// identity is left empty; the sequencer derives it.
func (n *Normalizer) Normalize(groupID, sourceFile string, lineNo int64, line string) Result {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Result{Skip: SkipEmptyLine}
	}

	// Narrative connect/disconnect lines are not delimited records.
	if !strings.Contains(line, fieldSep) {
		if strings.Contains(strings.ToLower(line), connectMarker) {
			return Result{Skip: SkipSessionLine}
		}
		return Result{Skip: SkipFieldCount}
	}

	parts := strings.Split(line, fieldSep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if isSessionLine(parts) {
		return Result{Skip: SkipSessionLine}
	}

	rec, ok := splitRecord(parts)
	if !ok {
		return Result{Skip: SkipFieldCount}
	}

	ts, ok := parseTimestamp(rec.RawTimestamp)
	if !ok {
		return Result{Skip: SkipBadTimestamp}
	}

	if rec.KillerID == "" || rec.VictimID == "" {
		return Result{Skip: SkipMissingIdentity}
	}

	cause := NormalizeCause(rec.Cause)

	event := &models.KillEvent{
		GroupID:        groupID,
		Timestamp:      ts,
		KillerID:       rec.KillerID,
		KillerName:     rec.KillerName,
		VictimID:       rec.VictimID,
		VictimName:     rec.VictimName,
		Cause:          cause,
		Distance:       parseDistance(rec.RawDistance),
		KillerPlatform: rec.KillerPlatform,
		VictimPlatform: rec.VictimPlatform,
		SourceFile:     sourceFile,
		SourceLine:     lineNo,
	}

	if event.IsSelfInflicted() {
		event.Suicide = true
		event.SuicideKind = classifySuicide(cause)
	}

	return Result{Event: event, RawTimestamp: rec.RawTimestamp}
}

// splitRecord dispatches on the detected field count and maps positions
// to named fields. Unknown counts are rejected; positions are never
// indexed ad hoc.
func splitRecord(parts []string) (models.RawKillRecord, bool) {
	rec := models.RawKillRecord{}

	switch len(parts) {
	case fieldCountV1:
		rec.Schema = models.SchemaV1
	case fieldCountV2:
		rec.Schema = models.SchemaV2
	case fieldCountV2Trailing:
		// Trailing separator yields an empty final field.
		if parts[fieldCountV2Trailing-1] != "" {
			return rec, false
		}
		rec.Schema = models.SchemaV2
	default:
		return rec, false
	}

	rec.RawTimestamp = parts[0]
	rec.KillerName = parts[1]
	rec.KillerID = parts[2]
	rec.VictimName = parts[3]
	rec.VictimID = parts[4]
	rec.Cause = parts[5]
	rec.RawDistance = parts[6]

	if rec.Schema == models.SchemaV2 {
		rec.KillerPlatform = parts[7]
		rec.VictimPlatform = parts[8]
	}

	return rec, true
}

// isSessionLine detects console connection records: empty killer fields
// with a platform indicator somewhere in the line.
func isSessionLine(parts []string) bool {
	if len(parts) < sessionMinFieldCount {
		return false
	}
	if parts[1] != "" || parts[2] != "" {
		return false
	}
	for _, part := range parts {
		for _, tag := range platformTags {
			if strings.Contains(part, tag) {
				return true
			}
		}
	}
	return false
}

// parseTimestamp tries the recognized layouts in order. If none match,
// the record is unparsable; the caller skips it with a reason rather
// than guessing.
func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseDistance parses the distance field; malformed values fall back to
// zero without skipping the record.
func parseDistance(raw string) float64 {
	if raw == "" {
		return 0
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// NormalizeCause folds spelling variants of the same semantic cause to
// one canonical tag. Underscore-joined and space-joined variants of the
// self-elimination phrase collapse to models.CauseSuicideRelocation;
// falling variants collapse to models.CauseFalling. Other causes pass
// through trimmed.
func NormalizeCause(cause string) string {
	trimmed := strings.TrimSpace(cause)
	folded := strings.ToLower(strings.ReplaceAll(trimmed, " ", "_"))

	switch folded {
	case models.CauseSuicideRelocation:
		return models.CauseSuicideRelocation
	case "falling", "fall_damage", "fall":
		return models.CauseFalling
	}
	return trimmed
}

// classifySuicide maps a canonical cause to a suicide kind. Only called
// for self-inflicted events.
func classifySuicide(cause string) string {
	lower := strings.ToLower(cause)
	switch {
	case strings.Contains(lower, models.CauseSuicideRelocation):
		return "menu"
	case strings.Contains(lower, "fall"):
		return "fall"
	case strings.Contains(lower, "land_vehicle"),
		strings.Contains(lower, "boat"),
		strings.Contains(lower, "vehicle"):
		return "vehicle"
	default:
		return "other"
	}
}
