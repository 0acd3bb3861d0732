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
)

// ErrInsufficientBalance is returned by Reserve when the wallet cannot
// cover the requested amount.
var ErrInsufficientBalance = errors.New("store: insufficient balance")

// Balance returns a player's current balance. A wallet that has never
// been touched reads as zero.
func (s *Store) Balance(ctx context.Context, groupID, playerID string) (int64, error) {
	var balance int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT balance FROM wallets
		WHERE group_id = ? AND player_id = ?`,
		groupID, playerID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

// Credit adds amount to a player's wallet, creating it if needed.
func (s *Store) Credit(ctx context.Context, groupID, playerID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO wallets (group_id, player_id, balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (group_id, player_id) DO UPDATE SET
			balance = wallets.balance + excluded.balance,
			updated_at = excluded.updated_at`,
		groupID, playerID, amount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	return nil
}

// Reserve debits amount from a player's wallet. The balance predicate on
// the UPDATE makes the debit atomic: zero rows affected means the wallet
// is missing or short, and nothing is withdrawn.
func (s *Store) Reserve(ctx context.Context, groupID, playerID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %d", amount)
	}
	res, err := s.conn.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance - ?, updated_at = ?
		WHERE group_id = ? AND player_id = ? AND balance >= ?`,
		amount, time.Now().UTC(), groupID, playerID, amount,
	)
	if err != nil {
		return fmt.Errorf("reserve from wallet: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
