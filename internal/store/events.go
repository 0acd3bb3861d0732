// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pvpstats/killfeed/internal/models"
)

// FactionRef names a faction a participant resolved to. A nil ref means
// the participant has no faction and faction counters stay untouched.
type FactionRef struct {
	ID   string
	Name string
}

// ApplyKillEvent applies one accepted event and every aggregate it
// touches inside a single transaction. The event insert uses the
// content-derived primary key, so replaying an already-applied event is
// a committed no-op: partial aggregate application cannot occur.
//
// Returns (true, nil) when the event was newly applied and (false, nil)
// when it had already been applied.
func (s *Store) ApplyKillEvent(ctx context.Context, ev *models.KillEvent, killerFaction, victimFaction *FactionRef) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin apply tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO kill_events (
			event_id, group_id, ts,
			killer_id, killer_name, victim_id, victim_name,
			cause, distance, killer_platform, victim_platform,
			suicide, suicide_kind, source_file, source_line
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.GroupID, ev.Timestamp,
		ev.KillerID, ev.KillerName, ev.VictimID, ev.VictimName,
		ev.Cause, ev.Distance, ev.KillerPlatform, ev.VictimPlatform,
		ev.Suicide, ev.SuicideKind, ev.SourceFile, ev.SourceLine,
	)
	if err != nil {
		return false, fmt.Errorf("insert kill event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert kill event rows: %w", err)
	}
	if n == 0 {
		// Already applied by an earlier transaction.
		return false, nil
	}

	if ev.Suicide {
		// Suicides count a death for the victim only. No kill credit, no
		// rivalry edge, no faction movement.
		if err := upsertVictim(ctx, tx, ev, true); err != nil {
			return false, err
		}
	} else {
		if err := upsertKiller(ctx, tx, ev); err != nil {
			return false, err
		}
		if err := upsertVictim(ctx, tx, ev, false); err != nil {
			return false, err
		}
		if err := upsertEdge(ctx, tx, ev); err != nil {
			return false, err
		}
		if err := upsertFaction(ctx, tx, ev.GroupID, killerFaction, 1, 0); err != nil {
			return false, err
		}
		if err := upsertFaction(ctx, tx, ev.GroupID, victimFaction, 0, 1); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit apply tx: %w", err)
	}
	return true, nil
}

func upsertKiller(ctx context.Context, tx *sql.Tx, ev *models.KillEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO player_stats (
			group_id, player_id, player_name,
			kills, deaths, suicides,
			total_kill_distance, longest_kill, last_seen
		) VALUES (?, ?, ?, 1, 0, 0, ?, ?, ?)
		ON CONFLICT (group_id, player_id) DO UPDATE SET
			player_name = excluded.player_name,
			kills = player_stats.kills + 1,
			total_kill_distance = player_stats.total_kill_distance + excluded.total_kill_distance,
			longest_kill = GREATEST(player_stats.longest_kill, excluded.longest_kill),
			last_seen = GREATEST(player_stats.last_seen, excluded.last_seen)`,
		ev.GroupID, ev.KillerID, ev.KillerName,
		ev.Distance, ev.Distance, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert killer stats: %w", err)
	}
	return nil
}

func upsertVictim(ctx context.Context, tx *sql.Tx, ev *models.KillEvent, suicide bool) error {
	suicides := 0
	if suicide {
		suicides = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO player_stats (
			group_id, player_id, player_name,
			kills, deaths, suicides,
			total_kill_distance, longest_kill, last_seen
		) VALUES (?, ?, ?, 0, 1, ?, 0, 0, ?)
		ON CONFLICT (group_id, player_id) DO UPDATE SET
			player_name = excluded.player_name,
			deaths = player_stats.deaths + 1,
			suicides = player_stats.suicides + excluded.suicides,
			last_seen = GREATEST(player_stats.last_seen, excluded.last_seen)`,
		ev.GroupID, ev.VictimID, ev.VictimName, suicides, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert victim stats: %w", err)
	}
	return nil
}

func upsertEdge(ctx context.Context, tx *sql.Tx, ev *models.KillEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rivalry_edges (group_id, attacker_id, defender_id, kill_count, last_event_time)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (group_id, attacker_id, defender_id) DO UPDATE SET
			kill_count = rivalry_edges.kill_count + 1,
			last_event_time = GREATEST(rivalry_edges.last_event_time, excluded.last_event_time)`,
		ev.GroupID, ev.KillerID, ev.VictimID, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert rivalry edge: %w", err)
	}
	return nil
}

func upsertFaction(ctx context.Context, tx *sql.Tx, groupID string, ref *FactionRef, kills, deaths int64) error {
	if ref == nil || ref.ID == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO faction_stats (group_id, faction_id, faction_name, kills, deaths)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (group_id, faction_id) DO UPDATE SET
			faction_name = excluded.faction_name,
			kills = faction_stats.kills + excluded.kills,
			deaths = faction_stats.deaths + excluded.deaths`,
		groupID, ref.ID, ref.Name, kills, deaths,
	)
	if err != nil {
		return fmt.Errorf("upsert faction stats: %w", err)
	}
	return nil
}

// PlayerStats returns the running aggregate for one player.
func (s *Store) PlayerStats(ctx context.Context, groupID, playerID string) (*models.PlayerAggregate, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT group_id, player_id, player_name, kills, deaths, suicides,
		       total_kill_distance, longest_kill, last_seen
		FROM player_stats WHERE group_id = ? AND player_id = ?`,
		groupID, playerID,
	)
	var p models.PlayerAggregate
	err := row.Scan(&p.GroupID, &p.PlayerID, &p.PlayerName, &p.Kills, &p.Deaths, &p.Suicides,
		&p.TotalKillDistance, &p.LongestKill, &p.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query player stats: %w", err)
	}
	return &p, nil
}

// TopPlayers returns the group leaderboard ordered by kills, then K/D.
func (s *Store) TopPlayers(ctx context.Context, groupID string, limit int) ([]models.PlayerAggregate, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT group_id, player_id, player_name, kills, deaths, suicides,
		       total_kill_distance, longest_kill, last_seen
		FROM player_stats WHERE group_id = ?
		ORDER BY kills DESC, deaths ASC, player_id ASC
		LIMIT ?`,
		groupID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.PlayerAggregate
	for rows.Next() {
		var p models.PlayerAggregate
		if err := rows.Scan(&p.GroupID, &p.PlayerID, &p.PlayerName, &p.Kills, &p.Deaths, &p.Suicides,
			&p.TotalKillDistance, &p.LongestKill, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FactionStats returns faction counters for a group.
func (s *Store) FactionStats(ctx context.Context, groupID string) ([]models.GroupAggregate, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT group_id, faction_id, faction_name, kills, deaths
		FROM faction_stats WHERE group_id = ?
		ORDER BY kills DESC, faction_id ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query faction stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.GroupAggregate
	for rows.Next() {
		var g models.GroupAggregate
		if err := rows.Scan(&g.GroupID, &g.FactionID, &g.FactionName, &g.Kills, &g.Deaths); err != nil {
			return nil, fmt.Errorf("scan faction row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// KillCountSince counts the killer's non-suicide kills in the window
// (since, until]. The auto-bounty detector uses this for killstreaks.
func (s *Store) KillCountSince(ctx context.Context, groupID, killerID string, since, until time.Time) (int64, error) {
	var n int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM kill_events
		WHERE group_id = ? AND killer_id = ? AND NOT suicide
		  AND ts > ? AND ts <= ?`,
		groupID, killerID, since, until,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count kills: %w", err)
	}
	return n, nil
}

// RepeatVictim returns, per (killer, victim), the number of kills in the
// window for pairs meeting the threshold. The detector turns these into
// repetition bounties.
type RepeatVictim struct {
	KillerID   string
	KillerName string
	VictimID   string
	VictimName string
	Count      int64
}

// RepeatVictimsSince finds killer/victim pairs with at least threshold
// kills in (since, until].
func (s *Store) RepeatVictimsSince(ctx context.Context, groupID string, since, until time.Time, threshold int64) ([]RepeatVictim, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT killer_id, MAX(killer_name), victim_id, MAX(victim_name), COUNT(*) AS cnt
		FROM kill_events
		WHERE group_id = ? AND NOT suicide AND ts > ? AND ts <= ?
		GROUP BY killer_id, victim_id
		HAVING COUNT(*) >= ?
		ORDER BY cnt DESC, killer_id ASC, victim_id ASC`,
		groupID, since, until, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("query repeat victims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RepeatVictim
	for rows.Next() {
		var r RepeatVictim
		if err := rows.Scan(&r.KillerID, &r.KillerName, &r.VictimID, &r.VictimName, &r.Count); err != nil {
			return nil, fmt.Errorf("scan repeat victim row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Streaker is a killer meeting the killstreak threshold within the
// detector window.
type Streaker struct {
	KillerID   string
	KillerName string
	Count      int64
}

// StreakersSince finds killers with at least threshold non-suicide kills
// in (since, until].
func (s *Store) StreakersSince(ctx context.Context, groupID string, since, until time.Time, threshold int64) ([]Streaker, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT killer_id, MAX(killer_name), COUNT(*) AS cnt
		FROM kill_events
		WHERE group_id = ? AND NOT suicide AND ts > ? AND ts <= ?
		GROUP BY killer_id
		HAVING COUNT(*) >= ?
		ORDER BY cnt DESC, killer_id ASC`,
		groupID, since, until, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("query streakers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Streaker
	for rows.Next() {
		var st Streaker
		if err := rows.Scan(&st.KillerID, &st.KillerName, &st.Count); err != nil {
			return nil, fmt.Errorf("scan streaker row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecentEvents returns the newest events for a group, newest first.
func (s *Store) RecentEvents(ctx context.Context, groupID string, limit int) ([]models.KillEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT event_id, group_id, ts, killer_id, killer_name, victim_id, victim_name,
		       cause, distance, COALESCE(killer_platform, ''), COALESCE(victim_platform, ''),
		       suicide, COALESCE(suicide_kind, ''), source_file, source_line
		FROM kill_events WHERE group_id = ?
		ORDER BY ts DESC, source_file DESC, source_line DESC
		LIMIT ?`,
		groupID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.KillEvent
	for rows.Next() {
		var ev models.KillEvent
		if err := rows.Scan(&ev.EventID, &ev.GroupID, &ev.Timestamp,
			&ev.KillerID, &ev.KillerName, &ev.VictimID, &ev.VictimName,
			&ev.Cause, &ev.Distance, &ev.KillerPlatform, &ev.VictimPlatform,
			&ev.Suicide, &ev.SuicideKind, &ev.SourceFile, &ev.SourceLine); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RebuildAggregates drops and recomputes every derived table from the
// canonical event log. Used after historical re-ingestion.
func (s *Store) RebuildAggregates(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM player_stats`,
		`DELETE FROM rivalry_edges`,
		// Kill-side counters from non-suicide events.
		`INSERT INTO player_stats (group_id, player_id, player_name, kills, deaths, suicides,
		                           total_kill_distance, longest_kill, last_seen)
		 SELECT group_id, killer_id, MAX(killer_name), COUNT(*), 0, 0,
		        SUM(distance), MAX(distance), MAX(ts)
		 FROM kill_events WHERE NOT suicide
		 GROUP BY group_id, killer_id`,
		// Death-side counters, merged into existing rows.
		`INSERT INTO player_stats (group_id, player_id, player_name, kills, deaths, suicides,
		                           total_kill_distance, longest_kill, last_seen)
		 SELECT group_id, victim_id, MAX(victim_name), 0, COUNT(*),
		        COUNT(*) FILTER (WHERE suicide), 0, 0, MAX(ts)
		 FROM kill_events
		 GROUP BY group_id, victim_id
		 ON CONFLICT (group_id, player_id) DO UPDATE SET
			deaths = excluded.deaths,
			suicides = excluded.suicides,
			last_seen = GREATEST(player_stats.last_seen, excluded.last_seen)`,
		`INSERT INTO rivalry_edges (group_id, attacker_id, defender_id, kill_count, last_event_time)
		 SELECT group_id, killer_id, victim_id, COUNT(*), MAX(ts)
		 FROM kill_events WHERE NOT suicide
		 GROUP BY group_id, killer_id, victim_id`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild aggregates: %w", err)
		}
	}
	return tx.Commit()
}
