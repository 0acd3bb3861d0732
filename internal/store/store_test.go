// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pvpstats/killfeed/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEvent(id, killer, victim string, ts time.Time) *models.KillEvent {
	return &models.KillEvent{
		EventID:    id,
		GroupID:    "g1",
		Timestamp:  ts,
		KillerID:   killer,
		KillerName: "name-" + killer,
		VictimID:   victim,
		VictimName: "name-" + victim,
		Cause:      "mosin",
		Distance:   120.5,
		SourceFile: "2026-01-01.log",
		SourceLine: 1,
	}
}

func TestApplyKillEventIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ev := testEvent("e1", "p1", "p2", ts)
	applied, err := s.ApplyKillEvent(ctx, ev, nil, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied {
		t.Fatal("first apply should report applied")
	}

	// Replaying the identical event must not move any counter.
	applied, err = s.ApplyKillEvent(ctx, ev, nil, nil)
	if err != nil {
		t.Fatalf("replay apply: %v", err)
	}
	if applied {
		t.Fatal("replay should report already applied")
	}

	killer, err := s.PlayerStats(ctx, "g1", "p1")
	if err != nil {
		t.Fatalf("killer stats: %v", err)
	}
	if killer.Kills != 1 || killer.Deaths != 0 {
		t.Fatalf("killer stats after replay = %d kills %d deaths, want 1/0", killer.Kills, killer.Deaths)
	}
	if killer.LongestKill != 120.5 {
		t.Fatalf("longest kill = %v, want 120.5", killer.LongestKill)
	}

	victim, err := s.PlayerStats(ctx, "g1", "p2")
	if err != nil {
		t.Fatalf("victim stats: %v", err)
	}
	if victim.Kills != 0 || victim.Deaths != 1 {
		t.Fatalf("victim stats = %d kills %d deaths, want 0/1", victim.Kills, victim.Deaths)
	}
}

func TestApplySuicideCountsVictimDeathOnly(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ev := testEvent("e-suicide", "p1", "p1", ts)
	ev.Suicide = true
	ev.SuicideKind = "fall"
	if _, err := s.ApplyKillEvent(ctx, ev, nil, nil); err != nil {
		t.Fatalf("apply suicide: %v", err)
	}

	p, err := s.PlayerStats(ctx, "g1", "p1")
	if err != nil {
		t.Fatalf("player stats: %v", err)
	}
	if p.Kills != 0 {
		t.Fatalf("suicide granted kill credit: %d", p.Kills)
	}
	if p.Deaths != 1 || p.Suicides != 1 {
		t.Fatalf("deaths/suicides = %d/%d, want 1/1", p.Deaths, p.Suicides)
	}

	edges, err := s.EdgesForGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("suicide created rivalry edge: %+v", edges)
	}
}

func TestApplyFactionCounters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	kf := &FactionRef{ID: "f1", Name: "Wolves"}
	vf := &FactionRef{ID: "f2", Name: "Bears"}
	if _, err := s.ApplyKillEvent(ctx, testEvent("e1", "p1", "p2", ts), kf, vf); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := s.ApplyKillEvent(ctx, testEvent("e2", "p1", "p3", ts.Add(time.Minute)), kf, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	stats, err := s.FactionStats(ctx, "g1")
	if err != nil {
		t.Fatalf("faction stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("faction rows = %d, want 2", len(stats))
	}
	if stats[0].FactionID != "f1" || stats[0].Kills != 2 || stats[0].Deaths != 0 {
		t.Fatalf("wolves = %+v", stats[0])
	}
	if stats[1].FactionID != "f2" || stats[1].Kills != 0 || stats[1].Deaths != 1 {
		t.Fatalf("bears = %+v", stats[1])
	}
}

func TestRivalryEdgeAccumulation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ev := testEvent(uuid.NewString(), "p1", "p2", base.Add(time.Duration(i)*time.Minute))
		if _, err := s.ApplyKillEvent(ctx, ev, nil, nil); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	edges, err := s.EdgesForGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("edge count = %d, want 1", len(edges))
	}
	e := edges[0]
	if e.Count != 3 {
		t.Fatalf("edge kill count = %d, want 3", e.Count)
	}
	if !e.LastEventTime.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("last event time = %v", e.LastEventTime)
	}
}

func TestBountyActiveExclusivity(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b := &models.Bounty{
		ID: uuid.NewString(), GroupID: "g1",
		TargetID: "p2", TargetName: "name-p2",
		PlacedBy: "p9", Reward: 250,
		Status: models.BountyActive, PlacedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateBounty(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := *b
	dup.ID = uuid.NewString()
	if err := s.CreateBounty(ctx, &dup); !errors.Is(err, ErrBountyConflict) {
		t.Fatalf("second active bounty on same target: err = %v, want ErrBountyConflict", err)
	}

	// A claimed bounty frees the slot.
	if _, err := s.ClaimBounty(ctx, b.ID, "p3", now.Add(time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.CreateBounty(ctx, &dup); err != nil {
		t.Fatalf("create after claim: %v", err)
	}
}

func TestBountyIDRoundTripsAsString(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b := &models.Bounty{
		ID: uuid.NewString(), GroupID: "g1",
		TargetID: "p2", TargetName: "name-p2",
		PlacedBy: "p9", Reward: 250,
		Status: models.BountyActive, PlacedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateBounty(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The identifier must come back exactly as stored so callers can
	// feed it straight into ClaimBounty.
	active, err := s.ActiveBounty(ctx, "g1", "p2")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != b.ID {
		t.Fatalf("ActiveBounty ID = %q, want %q", active.ID, b.ID)
	}
	byID, err := s.BountyByID(ctx, active.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if byID.ID != b.ID {
		t.Fatalf("BountyByID ID = %q, want %q", byID.ID, b.ID)
	}
	if _, err := s.ClaimBounty(ctx, active.ID, "p3", now.Add(time.Minute)); err != nil {
		t.Fatalf("claim with round-tripped id: %v", err)
	}
}

func TestClaimBountyIsCompareAndSwap(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b := &models.Bounty{
		ID: uuid.NewString(), GroupID: "g1",
		TargetID: "p2", TargetName: "name-p2",
		PlacedBy: "p9", Reward: 100,
		Status: models.BountyActive, PlacedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateBounty(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := s.ClaimBounty(ctx, b.ID, "p3", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != models.BountyClaimed || claimed.ClaimedBy != "p3" {
		t.Fatalf("claimed bounty = %+v", claimed)
	}

	if _, err := s.ClaimBounty(ctx, b.ID, "p4", now.Add(2*time.Minute)); !errors.Is(err, ErrBountyConflict) {
		t.Fatalf("second claim: err = %v, want ErrBountyConflict", err)
	}
	if _, err := s.ClaimBounty(ctx, uuid.NewString(), "p4", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("claim missing bounty: err = %v, want ErrNotFound", err)
	}
}

func TestExpireDue(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	due := &models.Bounty{
		ID: uuid.NewString(), GroupID: "g1",
		TargetID: "p2", TargetName: "name-p2",
		PlacedBy: "p9", Reward: 100,
		Status: models.BountyActive, PlacedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	fresh := &models.Bounty{
		ID: uuid.NewString(), GroupID: "g1",
		TargetID: "p3", TargetName: "name-p3",
		PlacedBy: "p9", Reward: 100,
		Status: models.BountyActive, PlacedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	for _, b := range []*models.Bounty{due, fresh} {
		if err := s.CreateBounty(ctx, b); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	expired, err := s.ExpireDue(ctx, now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != due.ID {
		t.Fatalf("expired = %+v, want only the overdue bounty", expired)
	}

	got, err := s.ActiveBounty(ctx, "g1", "p3")
	if err != nil {
		t.Fatalf("active bounty: %v", err)
	}
	if got.ID != fresh.ID {
		t.Fatalf("fresh bounty disturbed: %+v", got)
	}
}

func TestDetectorQueries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// p1 kills five different players inside the window, p2 kills the
	// same victim three times.
	victims := []string{"v1", "v2", "v3", "v4", "v5"}
	for i, v := range victims {
		ev := testEvent(uuid.NewString(), "p1", v, base.Add(time.Duration(i)*time.Minute))
		if _, err := s.ApplyKillEvent(ctx, ev, nil, nil); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		ev := testEvent(uuid.NewString(), "p2", "v1", base.Add(time.Duration(i)*time.Minute))
		if _, err := s.ApplyKillEvent(ctx, ev, nil, nil); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	streakers, err := s.StreakersSince(ctx, "g1", base.Add(-time.Second), base.Add(10*time.Minute), 5)
	if err != nil {
		t.Fatalf("streakers: %v", err)
	}
	if len(streakers) != 1 || streakers[0].KillerID != "p1" || streakers[0].Count != 5 {
		t.Fatalf("streakers = %+v", streakers)
	}

	repeats, err := s.RepeatVictimsSince(ctx, "g1", base.Add(-time.Second), base.Add(10*time.Minute), 3)
	if err != nil {
		t.Fatalf("repeats: %v", err)
	}
	if len(repeats) != 1 || repeats[0].KillerID != "p2" || repeats[0].VictimID != "v1" || repeats[0].Count != 3 {
		t.Fatalf("repeats = %+v", repeats)
	}

	n, err := s.KillCountSince(ctx, "g1", "p1", base.Add(2*time.Minute), base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("kill count: %v", err)
	}
	if n != 2 {
		t.Fatalf("windowed kill count = %d, want 2", n)
	}
}

func TestSaveAndReadRivalries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Seed names via events so the read-side join resolves them.
	if _, err := s.ApplyKillEvent(ctx, testEvent("e1", "p2", "p3", now), nil, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	rivs := []models.Rivalry{
		{
			GroupID: "g1", PlayerID: "p1",
			Prey:       &models.Rival{PlayerID: "p2", Count: 4},
			ComputedAt: now,
		},
		{GroupID: "g1", PlayerID: "p9", ComputedAt: now},
	}
	if err := s.SaveRivalries(ctx, "g1", rivs); err != nil {
		t.Fatalf("save rivalries: %v", err)
	}

	got, err := s.Rivalry(ctx, "g1", "p1")
	if err != nil {
		t.Fatalf("read rivalry: %v", err)
	}
	if got.Prey == nil || got.Prey.PlayerID != "p2" || got.Prey.Count != 4 {
		t.Fatalf("prey = %+v", got.Prey)
	}
	if got.Prey.PlayerName != "name-p2" {
		t.Fatalf("prey name = %q, want resolved name", got.Prey.PlayerName)
	}
	if got.Nemesis != nil {
		t.Fatalf("nemesis should be unset, got %+v", got.Nemesis)
	}

	empty, err := s.Rivalry(ctx, "g1", "p9")
	if err != nil {
		t.Fatalf("read empty rivalry: %v", err)
	}
	if empty.Prey != nil || empty.Nemesis != nil {
		t.Fatalf("unset rivalry carries rivals: %+v", empty)
	}

	if _, err := s.Rivalry(ctx, "g1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing rivalry: err = %v, want ErrNotFound", err)
	}
}

func TestRebuildAggregates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	events := []*models.KillEvent{
		testEvent("e1", "p1", "p2", base),
		testEvent("e2", "p1", "p2", base.Add(time.Minute)),
		testEvent("e3", "p2", "p1", base.Add(2*time.Minute)),
	}
	suicide := testEvent("e4", "p3", "p3", base.Add(3*time.Minute))
	suicide.Suicide = true
	events = append(events, suicide)

	for _, ev := range events {
		if _, err := s.ApplyKillEvent(ctx, ev, nil, nil); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	if err := s.RebuildAggregates(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	p1, err := s.PlayerStats(ctx, "g1", "p1")
	if err != nil {
		t.Fatalf("p1 stats: %v", err)
	}
	if p1.Kills != 2 || p1.Deaths != 1 {
		t.Fatalf("p1 after rebuild = %d/%d, want 2/1", p1.Kills, p1.Deaths)
	}

	p3, err := s.PlayerStats(ctx, "g1", "p3")
	if err != nil {
		t.Fatalf("p3 stats: %v", err)
	}
	if p3.Kills != 0 || p3.Deaths != 1 || p3.Suicides != 1 {
		t.Fatalf("p3 after rebuild = %+v", p3)
	}

	edges, err := s.EdgesForGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges after rebuild = %d, want 2", len(edges))
	}
}

func TestRecentEventsOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := testEvent(uuid.NewString(), "p1", "p2", base.Add(time.Duration(i)*time.Minute))
		ev.SourceLine = int64(i + 1)
		if _, err := s.ApplyKillEvent(ctx, ev, nil, nil); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	got, err := s.RecentEvents(ctx, "g1", 3)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("recent events = %d, want 3", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) || !got[1].Timestamp.After(got[2].Timestamp) {
		t.Fatalf("recent events not newest first: %v %v %v",
			got[0].Timestamp, got[1].Timestamp, got[2].Timestamp)
	}
}
