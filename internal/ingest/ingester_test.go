// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pvpstats/killfeed/internal/config"
	"github.com/pvpstats/killfeed/internal/cursor"
	"github.com/pvpstats/killfeed/internal/feed"
	"github.com/pvpstats/killfeed/internal/models"
	"github.com/pvpstats/killfeed/internal/sequencer"
)

// discardApplier satisfies sequencer.Applier; these tests observe
// released events on the feed.
type discardApplier struct{}

func (discardApplier) Apply(context.Context, *models.KillEvent) error { return nil }

// fakeSource is an in-memory RemoteSource.
type fakeSource struct {
	mu    sync.Mutex
	files map[string][]string // name -> lines
	fail  error
}

func newFakeSource() *fakeSource {
	return &fakeSource{files: make(map[string][]string)}
}

func (f *fakeSource) setFile(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = strings.Split(strings.TrimRight(content, "\n"), "\n")
}

func (f *fakeSource) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeSource) ListFiles(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var names []string
	for name := range f.files {
		names = append(names, name)
	}
	// Return unsorted; chronological ordering is the caller's business.
	return names, nil
}

func (f *fakeSource) ReadFrom(_ context.Context, file string, after int64, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	lines := f.files[file]
	if int64(len(lines)) <= after {
		return nil, nil
	}
	out := lines[after:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type recordingMonitor struct {
	mu        sync.Mutex
	degraded  []string
	recovered []string
}

func (m *recordingMonitor) SourceDegraded(_, sourceID string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = append(m.degraded, sourceID)
}

func (m *recordingMonitor) SourceRecovered(_, sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovered = append(m.recovered, sourceID)
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		PollInterval:      time.Second,
		RetryInitialDelay: 10 * time.Millisecond,
		RetryMaxDelay:     100 * time.Millisecond,
		DegradedThreshold: 3,
		RequestsPerSecond: 100,
		BatchSize:         2,
	}
}

func newTestIngester(t *testing.T, src config.SourceConfig, remote RemoteSource, monitor Monitor) (*Ingester, *cursor.Store, *feed.Feed) {
	t.Helper()
	cs, err := cursor.Open("", true)
	if err != nil {
		t.Fatalf("open cursor store: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	f := feed.New(nil)
	t.Cleanup(func() { _ = f.Close() })
	seq := sequencer.New(cs, discardApplier{}, f)
	return NewIngester(src, testIngestConfig(), remote, cs, seq, monitor), cs, f
}

const sampleLog = `2026.01.01-12.00.00;Alpha;76001;Bravo;76002;mosin;120.5
2026.01.01-12.01.00;Bravo;76002;Alpha;76001;repeater;50.0
2026.01.01-12.02.00;Alpha;76001;Charlie;76003;fall;0
`

func TestPollIngestsNewLines(t *testing.T) {
	t.Parallel()
	remote := newFakeSource()
	remote.setFile("2026.01.01-00.00.00.csv", sampleLog)

	src := config.SourceConfig{ID: "s1", GroupID: "g1", URL: "http://example", Backfill: true}
	ing, cs, f := newTestIngester(t, src, remote, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := f.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := ing.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case msg := <-ch:
			msg.Ack()
		case <-ctx.Done():
			t.Fatalf("timed out after %d events", i)
		}
	}

	cur, err := cs.Cursor(ctx, "g1", "s1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.File != "2026.01.01-00.00.00.csv" || cur.Line != 3 {
		t.Fatalf("cursor = %+v", cur)
	}

	// A second poll with no new content must produce nothing.
	if err := ing.Poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	select {
	case msg := <-ch:
		t.Fatalf("unchanged file re-emitted event %s", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPollResumesMidFileAndRotates(t *testing.T) {
	t.Parallel()
	remote := newFakeSource()
	remote.setFile("2026.01.01-00.00.00.csv", sampleLog)

	src := config.SourceConfig{ID: "s1", GroupID: "g1", URL: "http://example", Backfill: true}
	ing, cs, f := newTestIngester(t, src, remote, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := f.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := ing.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	for i := 0; i < 3; i++ {
		<-ch
	}

	// The file grows and a newer rotation appears.
	remote.setFile("2026.01.01-00.00.00.csv", sampleLog+"2026.01.01-12.03.00;Delta;76004;Alpha;76001;mosin;10\n")
	remote.setFile("2026.01.02-00.00.00.csv", "2026.01.02-08.00.00;Echo;76005;Delta;76004;boat;0\n")

	if err := ing.Poll(ctx); err != nil {
		t.Fatalf("rotation poll: %v", err)
	}

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			ev, err := feed.DecodeEvent(msg)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			msg.Ack()
			got = append(got, ev.KillerName)
		case <-ctx.Done():
			t.Fatalf("timed out after %d rotation events", i)
		}
	}
	if got[0] != "Delta" || got[1] != "Echo" {
		t.Fatalf("rotation events = %v, want [Delta Echo]", got)
	}

	cur, err := cs.Cursor(ctx, "g1", "s1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.File != "2026.01.02-00.00.00.csv" || cur.Line != 1 {
		t.Fatalf("cursor after rotation = %+v", cur)
	}
}

func TestPollWithoutBackfillStartsAtNewestFile(t *testing.T) {
	t.Parallel()
	remote := newFakeSource()
	remote.setFile("2026.01.01-00.00.00.csv", sampleLog)
	remote.setFile("2026.01.02-00.00.00.csv", "2026.01.02-08.00.00;Echo;76005;Delta;76004;boat;0\n")

	src := config.SourceConfig{ID: "s1", GroupID: "g1", URL: "http://example"}
	ing, _, f := newTestIngester(t, src, remote, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := f.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := ing.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	select {
	case msg := <-ch:
		ev, err := feed.DecodeEvent(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		msg.Ack()
		if ev.KillerName != "Echo" {
			t.Fatalf("first live event from %s, want newest file only", ev.KillerName)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for newest-file event")
	}

	select {
	case msg := <-ch:
		t.Fatalf("historical file ingested without backfill: %s", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBreakerDegradesAndRecovers(t *testing.T) {
	t.Parallel()
	remote := newFakeSource()
	remote.setFile("2026.01.01-00.00.00.csv", sampleLog)
	monitor := &recordingMonitor{}

	src := config.SourceConfig{ID: "s1", GroupID: "g1", URL: "http://example", Backfill: true}
	ing, _, _ := newTestIngester(t, src, remote, monitor)
	ctx := context.Background()

	remote.setFailure(errors.New("connection refused"))
	for i := 0; i < 3; i++ {
		if err := ing.Poll(ctx); err == nil {
			t.Fatalf("poll %d should fail", i)
		}
	}

	monitor.mu.Lock()
	degraded := len(monitor.degraded)
	monitor.mu.Unlock()
	if degraded != 1 {
		t.Fatalf("degraded transitions = %d, want 1", degraded)
	}

	// While open, polls fail fast without touching the remote.
	if err := ing.Poll(ctx); err == nil {
		t.Fatal("poll with open breaker should fail")
	}

	// After the breaker timeout the half-open probe succeeds and the
	// source recovers.
	remote.setFailure(nil)
	deadline := time.After(5 * time.Second)
	for {
		if err := ing.Poll(ctx); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("source never recovered")
		case <-time.After(20 * time.Millisecond):
		}
	}

	monitor.mu.Lock()
	recovered := len(monitor.recovered)
	monitor.mu.Unlock()
	if recovered != 1 {
		t.Fatalf("recovered transitions = %d, want 1", recovered)
	}
}

func TestSliceLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		after int64
		limit int
		want  []string
	}{
		{name: "all", after: 0, limit: 0, want: []string{"a", "b", "c"}},
		{name: "after first", after: 1, limit: 0, want: []string{"b", "c"}},
		{name: "limited", after: 0, limit: 2, want: []string{"a", "b"}},
		{name: "past end", after: 5, limit: 0, want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := sliceLines(strings.NewReader("a\nb\nc\n"), tt.after, tt.limit)
			if err != nil {
				t.Fatalf("sliceLines: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("lines = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("lines = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
