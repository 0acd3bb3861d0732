// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package websocket pushes live kill and bounty notifications to
// connected dashboard clients. The hub subscribes to the notification
// feed and fans messages out to every client.
package websocket

import (
	"context"
	"sync"

	"github.com/pvpstats/killfeed/internal/feed"
	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/models"
)

// Message types pushed to clients.
const (
	MessageTypeNotification = "notification"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message is one websocket frame payload.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub maintains the set of active clients and broadcasts notifications
// to them.
type Hub struct {
	feed *feed.Feed

	mu       sync.RWMutex
	clients  map[*Client]bool
	register chan *Client
	drop     chan *Client
}

// NewHub creates a Hub over the notification feed.
func NewHub(f *feed.Feed) *Hub {
	return &Hub{
		feed:     f,
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		drop:     make(chan *Client),
	}
}

// String identifies the service in the supervision tree.
func (h *Hub) String() string {
	return "websocket-hub"
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve runs the hub until ctx is canceled, then closes every client so
// a supervisor restart never leaves orphaned connections. Implements
// suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	notifications, err := h.feed.SubscribeNotifications(ctx)
	if err != nil {
		return err
	}
	logging.Info().Msg("Websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info().Int("total_clients", total).Msg("Websocket client connected")

		case client := <-h.drop:
			h.remove(client)

		case msg, ok := <-notifications:
			if !ok {
				h.closeAll()
				return ctx.Err()
			}
			n, err := feed.DecodeNotification(msg)
			msg.Ack()
			if err != nil {
				logging.Error().Err(err).Str("uuid", msg.UUID).Msg("Dropping undecodable notification")
				continue
			}
			h.broadcast(n)
		}
	}
}

func (h *Hub) broadcast(n *models.Notification) {
	out := Message{Type: MessageTypeNotification, Data: n}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- out:
		default:
			// Slow client; drop the frame rather than stall the hub.
			logging.Warn().Uint64("client", client.id).Msg("Websocket client send buffer full")
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		logging.Info().Int("total_clients", len(h.clients)).Msg("Websocket client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	logging.Info().Msg("Websocket hub stopped")
}
