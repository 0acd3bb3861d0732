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

	"github.com/pvpstats/killfeed/internal/models"
)

// EdgesForGroup returns every rivalry edge in a group, ordered so that
// the recompute walks attackers deterministically.
func (s *Store) EdgesForGroup(ctx context.Context, groupID string) ([]models.RivalryEdge, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT group_id, attacker_id, defender_id, kill_count, last_event_time
		FROM rivalry_edges WHERE group_id = ?
		ORDER BY attacker_id ASC, defender_id ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rivalry edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.RivalryEdge
	for rows.Next() {
		var e models.RivalryEdge
		if err := rows.Scan(&e.GroupID, &e.AttackerID, &e.DefenderID, &e.Count, &e.LastEventTime); err != nil {
			return nil, fmt.Errorf("scan rivalry edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventGroups lists every distinct group that has recorded events. The
// rivalry updater iterates this instead of configuration so historical
// groups keep their rivalries current.
func (s *Store) EventGroups(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT DISTINCT group_id FROM kill_events ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("query event groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SaveRivalries replaces a group's materialized rivalry rows in one
// transaction so readers never observe a half-written recompute.
func (s *Store) SaveRivalries(ctx context.Context, groupID string, rivalries []models.Rivalry) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rivalry tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rivalries WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear rivalries: %w", err)
	}

	for i := range rivalries {
		r := &rivalries[i]
		var preyID, nemesisID any
		var preyKills, nemesisKills any
		if r.Prey != nil {
			preyID, preyKills = r.Prey.PlayerID, r.Prey.Count
		}
		if r.Nemesis != nil {
			nemesisID, nemesisKills = r.Nemesis.PlayerID, r.Nemesis.Count
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rivalries (group_id, player_id, prey_id, prey_kills,
			                       nemesis_id, nemesis_kills, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.GroupID, r.PlayerID, preyID, preyKills, nemesisID, nemesisKills, r.ComputedAt,
		)
		if err != nil {
			return fmt.Errorf("insert rivalry row: %w", err)
		}
	}
	return tx.Commit()
}

// Rivalry returns the materialized prey/nemesis snapshot for one player.
// Player names are resolved against player_stats at read time.
func (s *Store) Rivalry(ctx context.Context, groupID, playerID string) (*models.Rivalry, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT r.group_id, r.player_id,
		       r.prey_id, r.prey_kills, COALESCE(pp.player_name, ''),
		       r.nemesis_id, r.nemesis_kills, COALESCE(pn.player_name, ''),
		       r.computed_at
		FROM rivalries r
		LEFT JOIN player_stats pp ON pp.group_id = r.group_id AND pp.player_id = r.prey_id
		LEFT JOIN player_stats pn ON pn.group_id = r.group_id AND pn.player_id = r.nemesis_id
		WHERE r.group_id = ? AND r.player_id = ?`,
		groupID, playerID,
	)

	var (
		riv          models.Rivalry
		preyID       sql.NullString
		preyKills    sql.NullInt64
		preyName     string
		nemesisID    sql.NullString
		nemesisKills sql.NullInt64
		nemesisName  string
	)
	err := row.Scan(&riv.GroupID, &riv.PlayerID,
		&preyID, &preyKills, &preyName,
		&nemesisID, &nemesisKills, &nemesisName,
		&riv.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query rivalry: %w", err)
	}
	if preyID.Valid {
		riv.Prey = &models.Rival{PlayerID: preyID.String, PlayerName: preyName, Count: preyKills.Int64}
	}
	if nemesisID.Valid {
		riv.Nemesis = &models.Rival{PlayerID: nemesisID.String, PlayerName: nemesisName, Count: nemesisKills.Int64}
	}
	return &riv, nil
}
