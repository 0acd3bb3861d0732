// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package feed is the in-process message fabric between the pipeline
// stages. The sequencer publishes accepted events; the aggregator and
// bounty engine subscribe. Engines publish notifications; the websocket
// hub subscribes.
package feed

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/pvpstats/killfeed/internal/metrics"
	"github.com/pvpstats/killfeed/internal/models"
)

// Topic names.
const (
	TopicEventsAccepted = "events.accepted"
	TopicNotifications  = "notifications"
)

// Feed wraps the in-process pub/sub channel.
type Feed struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// New creates the feed. A nil logger falls back to the standard
// watermill logger, matching how subscribers are constructed elsewhere.
func New(logger watermill.LoggerAdapter) *Feed {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	return &Feed{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			// Buffer smooths bursts from batch ingestion without
			// blocking the sequencer on slow subscribers.
			OutputChannelBuffer:            1024,
			BlockPublishUntilSubscriberAck: false,
		}, logger),
		logger: logger,
	}
}

// Close shuts the channel down; in-flight messages are dropped.
func (f *Feed) Close() error {
	return f.pubsub.Close()
}

// PublishEvent publishes one accepted kill event.
func (f *Feed) PublishEvent(ev *models.KillEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal kill event: %w", err)
	}
	msg := message.NewMessage(ev.EventID, payload)
	msg.Metadata.Set("group_id", ev.GroupID)
	if err := f.pubsub.Publish(TopicEventsAccepted, msg); err != nil {
		return fmt.Errorf("publish kill event: %w", err)
	}
	return nil
}

// SubscribeEvents subscribes to accepted kill events. The subscription
// lives until ctx is canceled.
func (f *Feed) SubscribeEvents(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := f.pubsub.Subscribe(ctx, TopicEventsAccepted)
	if err != nil {
		return nil, fmt.Errorf("subscribe events: %w", err)
	}
	return ch, nil
}

// DecodeEvent unmarshals a kill event message payload.
func DecodeEvent(msg *message.Message) (*models.KillEvent, error) {
	var ev models.KillEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode kill event %s: %w", msg.UUID, err)
	}
	return &ev, nil
}

// PublishNotification publishes one user-facing notification.
func (f *Feed) PublishNotification(n *models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", n.Kind)
	msg.Metadata.Set("group_id", n.GroupID)
	if err := f.pubsub.Publish(TopicNotifications, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	metrics.NotificationsPublished.WithLabelValues(n.Kind).Inc()
	return nil
}

// SubscribeNotifications subscribes to the notification stream.
func (f *Feed) SubscribeNotifications(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := f.pubsub.Subscribe(ctx, TopicNotifications)
	if err != nil {
		return nil, fmt.Errorf("subscribe notifications: %w", err)
	}
	return ch, nil
}

// DecodeNotification unmarshals a notification message payload.
func DecodeNotification(msg *message.Message) (*models.Notification, error) {
	var n models.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		return nil, fmt.Errorf("decode notification %s: %w", msg.UUID, err)
	}
	return &n, nil
}
