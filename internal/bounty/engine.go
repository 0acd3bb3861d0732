// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package bounty implements the bounty lifecycle: manual placement
// against an economy balance, automatic placement by the detector,
// claim-on-kill, and the expiry sweep.
package bounty

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/pvpstats/killfeed/internal/config"
	"github.com/pvpstats/killfeed/internal/feed"
	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/metrics"
	"github.com/pvpstats/killfeed/internal/models"
	"github.com/pvpstats/killfeed/internal/store"
)

// Business-rule rejections returned to callers.
var (
	// ErrRewardTooLow rejects manual bounties under the configured
	// minimum.
	ErrRewardTooLow = errors.New("bounty: reward below minimum")

	// ErrInsufficientFunds rejects placement when the placer's balance
	// cannot cover the reward.
	ErrInsufficientFunds = errors.New("bounty: insufficient funds")

	// ErrBountyActive rejects placement while the target already has an
	// active bounty.
	ErrBountyActive = errors.New("bounty: target already has an active bounty")

	// ErrSelfBounty rejects placing a bounty on oneself.
	ErrSelfBounty = errors.New("bounty: cannot place bounty on self")
)

// Economy is the currency collaborator. Reserve debits the reward from
// the placer up front; Credit pays a claimer or refunds a placer.
// Implementations must be safe for concurrent use.
type Economy interface {
	Reserve(ctx context.Context, groupID, playerID string, amount int64) error
	Credit(ctx context.Context, groupID, playerID string, amount int64) error
}

// GroupGate reports per-group feature switches for the detector.
type GroupGate interface {
	AutoBountiesEnabled(ctx context.Context, groupID string) bool
}

// allGroups enables the detector everywhere; used when no per-group
// configuration collaborator is wired.
type allGroups struct{}

func (allGroups) AutoBountiesEnabled(context.Context, string) bool { return true }

// Engine owns bounty placement and claiming. The detector and the
// expiry sweep are separate services sharing the engine.
type Engine struct {
	store   *store.Store
	feed    *feed.Feed
	economy Economy
	gate    GroupGate
	cfg     config.BountyConfig

	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Engine. A nil gate enables auto bounties for every
// group.
func New(st *store.Store, f *feed.Feed, economy Economy, gate GroupGate, cfg config.BountyConfig) *Engine {
	if gate == nil {
		gate = allGroups{}
	}
	return &Engine{
		store:   st,
		feed:    f,
		economy: economy,
		gate:    gate,
		cfg:     cfg,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // reward jitter, not security
	}
}

// PlaceBounty places a manual bounty by a player. The reward is reserved
// from the placer before the bounty row is written; a conflicting active
// bounty refunds the reservation.
func (e *Engine) PlaceBounty(ctx context.Context, groupID, placerID, targetID, targetName string, reward int64) (*models.Bounty, error) {
	if reward < e.cfg.MinReward {
		return nil, fmt.Errorf("%w: %d < %d", ErrRewardTooLow, reward, e.cfg.MinReward)
	}
	if placerID == targetID {
		return nil, ErrSelfBounty
	}

	if err := e.economy.Reserve(ctx, groupID, placerID, reward); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	now := e.now().UTC()
	b := &models.Bounty{
		ID:         uuid.NewString(),
		GroupID:    groupID,
		TargetID:   targetID,
		TargetName: targetName,
		PlacedBy:   placerID,
		Reward:     reward,
		Status:     models.BountyActive,
		PlacedAt:   now,
		ExpiresAt:  now.Add(e.cfg.Lifespan),
	}
	if err := e.store.CreateBounty(ctx, b); err != nil {
		if refundErr := e.economy.Credit(ctx, groupID, placerID, reward); refundErr != nil {
			logging.Error().Err(refundErr).
				Str("group", groupID).
				Str("placer", placerID).
				Int64("amount", reward).
				Msg("Refund after placement conflict failed")
		}
		if errors.Is(err, store.ErrBountyConflict) {
			return nil, ErrBountyActive
		}
		return nil, fmt.Errorf("create bounty: %w", err)
	}

	metrics.BountiesPlaced.WithLabelValues(groupID, "player").Inc()
	e.notify(models.NotifyBountyPlaced, b, "", "")
	logging.Info().
		Str("group", groupID).
		Str("target", targetID).
		Str("placer", placerID).
		Int64("reward", reward).
		Msg("Bounty placed")
	return b, nil
}

// placeAuto places a system bounty from the detector. Targets that
// already carry an active bounty are silently skipped.
func (e *Engine) placeAuto(ctx context.Context, groupID, targetID, targetName, reason string) error {
	now := e.now().UTC()
	b := &models.Bounty{
		ID:         uuid.NewString(),
		GroupID:    groupID,
		TargetID:   targetID,
		TargetName: targetName,
		PlacedBy:   models.SystemIdentity,
		Reason:     reason,
		Reward:     e.autoReward(reason),
		Status:     models.BountyActive,
		PlacedAt:   now,
		ExpiresAt:  now.Add(e.cfg.Lifespan),
	}
	if err := e.store.CreateBounty(ctx, b); err != nil {
		if errors.Is(err, store.ErrBountyConflict) {
			return nil
		}
		return fmt.Errorf("create auto bounty: %w", err)
	}

	metrics.BountiesPlaced.WithLabelValues(groupID, "system").Inc()
	e.notify(models.NotifyAutoBountyPlaced, b, "", "")
	logging.Info().
		Str("group", groupID).
		Str("target", targetID).
		Str("reason", reason).
		Int64("reward", b.Reward).
		Msg("Auto bounty placed")
	return nil
}

// autoReward draws a reward uniformly from the configured range.
// Killstreak bounties draw from the upper part of the range so streaks
// pay more than repetition.
func (e *Engine) autoReward(reason string) int64 {
	lo, hi := e.cfg.AutoMinReward, e.cfg.AutoMaxReward
	if reason == models.BountyReasonKillstreak {
		lo = min(2*e.cfg.AutoMinReward, hi)
	}
	if hi <= lo {
		return lo
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo + e.rng.Int63n(hi-lo+1)
}

// String identifies the claim service in the supervision tree.
func (e *Engine) String() string {
	return "bounty-claims"
}

// Serve consumes accepted events and settles bounties on the victims of
// non-suicide kills. Implements suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	ch, err := e.feed.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("bounty subscribe: %w", err)
	}
	logging.Info().Msg("Bounty claim service started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			e.handleEvent(ctx, msg)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, msg *message.Message) {
	ev, err := feed.DecodeEvent(msg)
	if err != nil {
		logging.Error().Err(err).Str("uuid", msg.UUID).Msg("Dropping undecodable event message")
		msg.Ack()
		return
	}
	if err := e.SettleKill(ctx, ev); err != nil {
		logging.Error().Err(err).Str("event_id", ev.EventID).Msg("Bounty settlement failed")
		msg.Nack()
		return
	}
	msg.Ack()
}

// SettleKill claims the victim's active bounty, if any, for the killer.
// Suicides never settle a bounty, including a bounty on the victim.
func (e *Engine) SettleKill(ctx context.Context, ev *models.KillEvent) error {
	if ev.Suicide || ev.IsSelfInflicted() {
		return nil
	}

	active, err := e.store.ActiveBounty(ctx, ev.GroupID, ev.VictimID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up active bounty: %w", err)
	}

	// Backfill can replay kills that predate the bounty; a kill from
	// before the placement never claims it.
	if ev.Timestamp.Before(active.PlacedAt) {
		return nil
	}

	claimed, err := e.store.ClaimBounty(ctx, active.ID, ev.KillerID, ev.Timestamp)
	if errors.Is(err, store.ErrBountyConflict) || errors.Is(err, store.ErrNotFound) {
		// Lost the race against another claim or the expiry sweep.
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim bounty: %w", err)
	}

	if err := e.economy.Credit(ctx, ev.GroupID, ev.KillerID, claimed.Reward); err != nil {
		logging.Error().Err(err).
			Str("group", ev.GroupID).
			Str("claimer", ev.KillerID).
			Int64("amount", claimed.Reward).
			Msg("Bounty payout failed")
	}

	metrics.BountiesClaimed.WithLabelValues(ev.GroupID).Inc()
	e.notify(models.NotifyBountyClaimed, claimed, "", "")
	logging.Info().
		Str("group", ev.GroupID).
		Str("target", claimed.TargetID).
		Str("claimer", ev.KillerID).
		Int64("reward", claimed.Reward).
		Msg("Bounty claimed")
	return nil
}

func (e *Engine) notify(kind string, b *models.Bounty, sourceID, detail string) {
	n := &models.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		GroupID:   b.GroupID,
		CreatedAt: e.now().UTC(),
		Bounty:    b,
		SourceID:  sourceID,
		Detail:    detail,
	}
	if err := e.feed.PublishNotification(n); err != nil {
		logging.Error().Err(err).Str("kind", kind).Msg("Notification publish failed")
	}
}
