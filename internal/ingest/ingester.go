// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pvpstats/killfeed/internal/config"
	"github.com/pvpstats/killfeed/internal/cursor"
	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/metrics"
	"github.com/pvpstats/killfeed/internal/models"
	"github.com/pvpstats/killfeed/internal/normalizer"
	"github.com/pvpstats/killfeed/internal/sequencer"
)

// Monitor receives source health transitions. The feed-backed
// implementation turns these into notifications; tests use a recorder.
type Monitor interface {
	SourceDegraded(groupID, sourceID string, err error)
	SourceRecovered(groupID, sourceID string)
}

// nopMonitor drops health transitions.
type nopMonitor struct{}

func (nopMonitor) SourceDegraded(string, string, error) {}
func (nopMonitor) SourceRecovered(string, string)       {}

// Ingester polls one remote source and drives its lines through the
// normalizer and sequencer. Failures are contained to this source: the
// breaker trips after consecutive failures, the monitor is told, and
// polling continues with backoff until the remote recovers.
type Ingester struct {
	src     config.SourceConfig
	cfg     config.IngestConfig
	remote  RemoteSource
	cursors *cursor.Store
	norm    *normalizer.Normalizer
	seq     *sequencer.Sequencer
	monitor Monitor

	breaker *gobreaker.CircuitBreaker[[]string]
}

// NewIngester wires an ingester for one source. A nil monitor drops
// health transitions.
func NewIngester(src config.SourceConfig, cfg config.IngestConfig, remote RemoteSource, cursors *cursor.Store, seq *sequencer.Sequencer, monitor Monitor) *Ingester {
	if monitor == nil {
		monitor = nopMonitor{}
	}
	ing := &Ingester{
		src:     src,
		cfg:     cfg,
		remote:  remote,
		cursors: cursors,
		norm:    normalizer.New(),
		seq:     seq,
		monitor: monitor,
	}

	ing.breaker = gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name:    "source-" + src.ID,
		Timeout: cfg.RetryMaxDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.DegradedThreshold)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				metrics.SourceDegraded.WithLabelValues(src.ID).Set(1)
				monitor.SourceDegraded(src.GroupID, src.ID, ErrSourceDegraded)
				logging.Warn().Str("source", src.ID).Msg("Source degraded, circuit open")
			case gobreaker.StateClosed:
				metrics.SourceDegraded.WithLabelValues(src.ID).Set(0)
				monitor.SourceRecovered(src.GroupID, src.ID)
				logging.Info().Str("source", src.ID).Msg("Source recovered, circuit closed")
			case gobreaker.StateHalfOpen:
			}
		},
	})
	return ing
}

// String identifies the service in the supervision tree.
func (i *Ingester) String() string {
	return "ingester-" + i.src.ID
}

// Serve polls the source until ctx is canceled. A failed poll backs off
// exponentially between the configured bounds; a successful poll resets
// the backoff and returns to the regular interval. Implements
// suture.Service.
func (i *Ingester) Serve(ctx context.Context) error {
	logging.Info().
		Str("source", i.src.ID).
		Str("group", i.src.GroupID).
		Dur("interval", i.cfg.PollInterval).
		Bool("backfill", i.src.Backfill).
		Msg("Ingester started")

	delay := i.cfg.PollInterval
	backoff := i.cfg.RetryInitialDelay
	for {
		if err := i.Poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			metrics.SourceFailures.WithLabelValues(i.src.ID).Inc()
			logging.Warn().Err(err).
				Str("source", i.src.ID).
				Dur("backoff", backoff).
				Msg("Poll failed, backing off")
			delay = backoff
			backoff *= 2
			if backoff > i.cfg.RetryMaxDelay {
				backoff = i.cfg.RetryMaxDelay
			}
		} else {
			delay = i.cfg.PollInterval
			backoff = i.cfg.RetryInitialDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Poll runs one ingestion pass: list files, pick up at the cursor, read
// and sequence new lines in batches.
func (i *Ingester) Poll(ctx context.Context) error {
	files, err := i.breaker.Execute(func() ([]string, error) {
		return i.remote.ListFiles(ctx)
	})
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}
	// Rotation names embed the timestamp, so lexicographic order is the
	// rotation order regardless of how the remote lists them.
	sort.Strings(files)

	cur, err := i.cursors.Cursor(ctx, i.src.GroupID, i.src.ID)
	if err != nil && !errors.Is(err, cursor.ErrCursorNotFound) {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cur == nil {
		cur = &models.SourceCursor{GroupID: i.src.GroupID, SourceID: i.src.ID}
		if !i.src.Backfill {
			// Live sources start at the newest file; older rotations are
			// backfill territory.
			cur.File = files[len(files)-1]
		}
	}

	for _, file := range files {
		if file < cur.File {
			continue
		}
		after := int64(0)
		if file == cur.File {
			after = cur.Line
		}
		if err := i.ingestFile(ctx, file, after); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ingester) ingestFile(ctx context.Context, file string, after int64) error {
	for {
		lines, err := i.breaker.Execute(func() ([]string, error) {
			return i.remote.ReadFrom(ctx, file, after, i.cfg.BatchSize)
		})
		if err != nil {
			return fmt.Errorf("read %s after line %d: %w", file, after, err)
		}
		if len(lines) == 0 {
			return nil
		}

		batch := make([]sequencer.Line, 0, len(lines))
		for n, raw := range lines {
			lineNo := after + int64(n) + 1
			metrics.LinesRead.WithLabelValues(i.src.ID).Inc()
			batch = append(batch, sequencer.Line{
				Number: lineNo,
				Result: i.norm.Normalize(i.src.GroupID, file, lineNo, raw),
			})
		}

		if _, err := i.seq.ProcessBatch(ctx, i.src.GroupID, i.src.ID, file, batch); err != nil {
			return fmt.Errorf("sequence %s: %w", file, err)
		}

		after += int64(len(lines))
		if len(lines) < i.cfg.BatchSize {
			return nil
		}
	}
}
