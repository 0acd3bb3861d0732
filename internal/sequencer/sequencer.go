// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package sequencer assigns content-derived identities to normalized
// events, discards duplicates against the durable identity index, and
// releases accepted events in per-group timestamp order.
//
// Each accepted event is applied durably through the Applier before its
// identity is recorded, so a crash between the two replays the event on
// restart instead of losing it. The feed publish that follows is
// at-least-once: subscribers see an event no earlier than its durable
// application, and may see it again after a crash.
//
// Ordering is per batch per source. Two sources feeding the same group
// release independently, so cross-source timestamps can interleave
// non-monotonically on the feed; aggregation is commutative, but
// consumers needing a total order must sort on (timestamp, file, line)
// themselves.
package sequencer

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pvpstats/killfeed/internal/cursor"
	"github.com/pvpstats/killfeed/internal/feed"
	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/metrics"
	"github.com/pvpstats/killfeed/internal/models"
	"github.com/pvpstats/killfeed/internal/normalizer"
)

// DeriveID computes the event identity: the hex sha256 digest of the
// record's source coordinates and discriminating fields. The raw
// timestamp bytes are hashed, not the parsed time, so two source layouts
// rendering the same instant still produce the same identity only when
// the source bytes match.
func DeriveID(groupID, sourceFile string, line int64, rawTimestamp, killerID, victimID, cause string) string {
	var b strings.Builder
	b.WriteString(groupID)
	b.WriteByte('|')
	b.WriteString(sourceFile)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(line, 10))
	b.WriteByte('|')
	b.WriteString(rawTimestamp)
	b.WriteByte('|')
	b.WriteString(killerID)
	b.WriteByte('|')
	b.WriteString(victimID)
	b.WriteByte('|')
	b.WriteString(cause)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Line pairs a source line number with its normalization outcome.
type Line struct {
	Number int64
	Result normalizer.Result
}

// Stats summarizes one processed batch.
type Stats struct {
	Accepted   int
	Duplicates int
	Skipped    int
}

// Applier commits an accepted event to durable storage. Apply must be
// idempotent per event identity: the sequencer retries a batch whose
// apply failed, and replays whole batches after a crash.
type Applier interface {
	Apply(ctx context.Context, ev *models.KillEvent) error
}

// Sequencer is the identity and release stage. One instance serves all
// sources; per-source serialization comes from each ingester calling
// ProcessBatch sequentially for its own source.
type Sequencer struct {
	cursors *cursor.Store
	applier Applier
	feed    *feed.Feed
}

// New creates a Sequencer over the durable cursor store, the applier
// and the feed.
func New(cursors *cursor.Store, applier Applier, f *feed.Feed) *Sequencer {
	return &Sequencer{cursors: cursors, applier: applier, feed: f}
}

// ProcessBatch handles the lines read from one source file in one poll.
//
// Accepted events are released oldest first on (timestamp, source file,
// line). Each event is durably applied, then published, and only then
// has its identity recorded; the cursor is advanced to the end of the
// batch with the final accept. A crash mid-batch therefore re-reads the
// whole batch on restart, the identity index discards the half that
// already went through, and an event is never marked accepted before
// its application has committed.
func (s *Sequencer) ProcessBatch(ctx context.Context, groupID, sourceID, file string, lines []Line) (Stats, error) {
	var stats Stats

	pending := &eventHeap{}
	heap.Init(pending)
	var lastEventTime time.Time
	var endLine int64

	for _, ln := range lines {
		if ln.Number > endLine {
			endLine = ln.Number
		}
		res := ln.Result
		if !res.Accepted() {
			stats.Skipped++
			metrics.ParseSkips.WithLabelValues(sourceID, string(res.Skip)).Inc()
			continue
		}
		ev := res.Event
		ev.EventID = DeriveID(groupID, file, ln.Number, res.RawTimestamp, ev.KillerID, ev.VictimID, ev.Cause)
		heap.Push(pending, ev)
		if ev.Timestamp.After(lastEventTime) {
			lastEventTime = ev.Timestamp
		}
	}

	// Carry the previous position so intermediate identity writes never
	// move the cursor past lines that have not been released yet.
	prev, err := s.cursors.Cursor(ctx, groupID, sourceID)
	if err != nil && !errors.Is(err, cursor.ErrCursorNotFound) {
		return stats, fmt.Errorf("load cursor: %w", err)
	}
	if prev == nil {
		prev = &models.SourceCursor{GroupID: groupID, SourceID: sourceID}
	}

	end := &models.SourceCursor{
		GroupID:       groupID,
		SourceID:      sourceID,
		File:          file,
		Line:          endLine,
		LastEventTime: lastEventTime,
	}
	if !prev.LastEventTime.IsZero() && prev.LastEventTime.After(end.LastEventTime) {
		end.LastEventTime = prev.LastEventTime
	}

	endCommitted := false
	for pending.Len() > 0 {
		ev := heap.Pop(pending).(*models.KillEvent)

		seen, err := s.cursors.Seen(ctx, ev.EventID)
		if err != nil {
			return stats, fmt.Errorf("check identity: %w", err)
		}
		if seen {
			stats.Duplicates++
			metrics.EventsDuplicate.WithLabelValues(sourceID).Inc()
			continue
		}

		// Durable application comes first: if the apply fails, the
		// identity stays unrecorded and the batch is retried.
		if err := s.applier.Apply(ctx, ev); err != nil {
			return stats, fmt.Errorf("apply event %s: %w", ev.EventID, err)
		}

		if err := s.feed.PublishEvent(ev); err != nil {
			return stats, fmt.Errorf("release event %s: %w", ev.EventID, err)
		}

		// The final release carries the batch-end cursor so the accept
		// and the advancement commit together.
		cur := prev
		if pending.Len() == 0 {
			cur = end
			endCommitted = true
		}
		if err := s.cursors.CommitAccept(ctx, ev.EventID, cur); err != nil {
			return stats, fmt.Errorf("commit accept: %w", err)
		}
		stats.Accepted++
		metrics.EventsAccepted.WithLabelValues(groupID).Inc()
	}

	// Batches ending in skips or duplicates still advance the cursor.
	if !endCommitted && len(lines) > 0 {
		if err := s.cursors.CommitSkip(ctx, end); err != nil {
			return stats, fmt.Errorf("commit cursor: %w", err)
		}
	}

	logging.Debug().
		Str("group", groupID).
		Str("source", sourceID).
		Str("file", file).
		Int("accepted", stats.Accepted).
		Int("duplicates", stats.Duplicates).
		Int("skipped", stats.Skipped).
		Msg("Batch sequenced")
	return stats, nil
}

// eventHeap orders pending events by (timestamp, source file, line).
type eventHeap []*models.KillEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.SourceFile != b.SourceFile {
		return a.SourceFile < b.SourceFile
	}
	return a.SourceLine < b.SourceLine
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*models.KillEvent)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
