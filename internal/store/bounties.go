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

const bountyColumns = `id, group_id, target_id, target_name, placed_by, reason, reward,
	status, placed_at, expires_at, claimed_by, claimed_at`

// CreateBounty inserts a new active bounty. The insert runs behind an
// active-exclusivity check in the same transaction: if the target
// already has an active bounty in the group, ErrBountyConflict is
// returned and nothing is written.
func (s *Store) CreateBounty(ctx context.Context, b *models.Bounty) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bounty tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bounties
		WHERE group_id = ? AND target_id = ? AND status = ?`,
		b.GroupID, b.TargetID, models.BountyActive,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check active bounty: %w", err)
	}
	if existing > 0 {
		return ErrBountyConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bounties (`+bountyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.GroupID, b.TargetID, b.TargetName, b.PlacedBy, b.Reason, b.Reward,
		b.Status, b.PlacedAt, b.ExpiresAt, nullIfEmpty(b.ClaimedBy), b.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bounty: %w", err)
	}
	return tx.Commit()
}

// ActiveBounty returns the active bounty on a target, or ErrNotFound.
func (s *Store) ActiveBounty(ctx context.Context, groupID, targetID string) (*models.Bounty, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT `+bountyColumns+` FROM bounties
		WHERE group_id = ? AND target_id = ? AND status = ?`,
		groupID, targetID, models.BountyActive,
	)
	return scanBounty(row)
}

// BountyByID fetches one bounty.
func (s *Store) BountyByID(ctx context.Context, id string) (*models.Bounty, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT `+bountyColumns+` FROM bounties WHERE id = ?`, id)
	return scanBounty(row)
}

// ClaimBounty atomically moves an active bounty to claimed. The UPDATE
// is conditioned on status = 'active', so concurrent claimers and the
// expiry sweep cannot both win; the loser sees ErrBountyConflict.
func (s *Store) ClaimBounty(ctx context.Context, bountyID, claimerID string, at time.Time) (*models.Bounty, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE bounties
		SET status = ?, claimed_by = ?, claimed_at = ?
		WHERE id = ? AND status = ?`,
		models.BountyClaimed, claimerID, at, bountyID, models.BountyActive,
	)
	if err != nil {
		return nil, fmt.Errorf("claim bounty: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim bounty rows: %w", err)
	}
	if n == 0 {
		if _, err := s.BountyByID(ctx, bountyID); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrBountyConflict
	}
	return s.BountyByID(ctx, bountyID)
}

// ExpireDue moves every active bounty whose deadline has passed to
// expired and returns the transitioned bounties so callers can notify.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]models.Bounty, error) {
	rows, err := s.conn.QueryContext(ctx, `
		UPDATE bounties SET status = ?
		WHERE status = ? AND expires_at <= ?
		RETURNING `+bountyColumns,
		models.BountyExpired, models.BountyActive, now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire bounties: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanBounties(rows)
}

// BountiesByStatus lists a group's bounties in one status, newest first.
func (s *Store) BountiesByStatus(ctx context.Context, groupID string, status models.BountyStatus, limit int) ([]models.Bounty, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+bountyColumns+` FROM bounties
		WHERE group_id = ? AND status = ?
		ORDER BY placed_at DESC, id ASC
		LIMIT ?`,
		groupID, status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query bounties: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanBounties(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBounty(row rowScanner) (*models.Bounty, error) {
	var (
		b         models.Bounty
		reason    sql.NullString
		claimedBy sql.NullString
		claimedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.GroupID, &b.TargetID, &b.TargetName, &b.PlacedBy,
		&reason, &b.Reward, &b.Status, &b.PlacedAt, &b.ExpiresAt, &claimedBy, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bounty: %w", err)
	}
	b.Reason = reason.String
	b.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		t := claimedAt.Time
		b.ClaimedAt = &t
	}
	return &b, nil
}

func scanBounties(rows *sql.Rows) ([]models.Bounty, error) {
	var out []models.Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
