// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/pvpstats/killfeed/internal/feed"
	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/models"
)

// FeedMonitor surfaces source health transitions as notifications so
// operators see degradation where the rest of the activity lands.
type FeedMonitor struct {
	feed *feed.Feed
}

// NewFeedMonitor creates a Monitor publishing to the notification feed.
func NewFeedMonitor(f *feed.Feed) *FeedMonitor {
	return &FeedMonitor{feed: f}
}

// SourceDegraded implements Monitor.
func (m *FeedMonitor) SourceDegraded(groupID, sourceID string, err error) {
	m.publish(models.NotifySourceDegraded, groupID, sourceID, "source degraded: "+err.Error())
}

// SourceRecovered implements Monitor.
func (m *FeedMonitor) SourceRecovered(groupID, sourceID string) {
	m.publish(models.NotifySourceRecovered, groupID, sourceID, "source recovered")
}

func (m *FeedMonitor) publish(kind, groupID, sourceID, detail string) {
	n := &models.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		GroupID:   groupID,
		CreatedAt: time.Now().UTC(),
		SourceID:  sourceID,
		Detail:    detail,
	}
	if err := m.feed.PublishNotification(n); err != nil {
		logging.Error().Err(err).Str("source", sourceID).Msg("Health notification publish failed")
	}
}
