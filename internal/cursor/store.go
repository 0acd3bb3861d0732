// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package cursor provides the durable per-source read position store and
// the accepted-identity index, both backed by BadgerDB.
//
// The two keyspaces live in one database so that accepting an event and
// advancing its source cursor commit in a single transaction. This is
// what makes re-ingestion (crash recovery, historical backfill) safe:
// either an identity is recorded and the cursor covers it, or neither.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/pvpstats/killfeed/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	cursorKeyPrefix = "cursor:"
	seenKeyPrefix   = "seen:"
)

// ErrCursorNotFound is returned when no cursor exists for a source yet.
var ErrCursorNotFound = errors.New("source cursor not found")

// Store is the Badger-backed cursor and identity store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path. With inMemory set the store
// lives in memory only, which tests use.
func Open(path string, inMemory bool) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithInMemory(inMemory)
	if inMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func cursorKey(groupID, sourceID string) []byte {
	return []byte(cursorKeyPrefix + groupID + ":" + sourceID)
}

func seenKey(eventID string) []byte {
	return []byte(seenKeyPrefix + eventID)
}

// Cursor returns the cursor for one source, or ErrCursorNotFound when
// the source has never been read.
func (s *Store) Cursor(ctx context.Context, groupID, sourceID string) (*models.SourceCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cur models.SourceCursor
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cursorKey(groupID, sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCursorNotFound
		}
		if err != nil {
			return fmt.Errorf("get cursor: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cur)
		})
	})
	if err != nil {
		return nil, err
	}
	return &cur, nil
}

// Seen reports whether an event identity has already been accepted.
// The check reads durable state, not an in-memory set, so duplicates are
// caught across restarts and across live/backfill ingestion.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var seen bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(seenKey(eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get identity: %w", err)
		}
		seen = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return seen, nil
}

// CommitAccept records an accepted event identity and advances the
// source cursor in one transaction.
func (s *Store) CommitAccept(ctx context.Context, eventID string, cur *models.SourceCursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cur.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(seenKey(eventID), []byte{1}); err != nil {
			return fmt.Errorf("set identity: %w", err)
		}
		if err := txn.Set(cursorKey(cur.GroupID, cur.SourceID), data); err != nil {
			return fmt.Errorf("set cursor: %w", err)
		}
		return nil
	})
}

// CommitSkip advances the source cursor past a record that was fully
// classified as a skip (or as a duplicate) without recording an identity.
func (s *Store) CommitSkip(ctx context.Context, cur *models.SourceCursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cur.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cursorKey(cur.GroupID, cur.SourceID), data)
	})
}
