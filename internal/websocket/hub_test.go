// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/pvpstats/killfeed/internal/feed"
	"github.com/pvpstats/killfeed/internal/models"
)

func startHub(t *testing.T) (*Hub, *feed.Feed, context.CancelFunc) {
	t.Helper()
	f := feed.New(nil)
	t.Cleanup(func() { _ = f.Close() })

	h := NewHub(f)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("hub did not stop")
		}
	})
	// Let the notification subscription attach.
	time.Sleep(50 * time.Millisecond)
	return h, f, cancel
}

func registerTestClient(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := &Client{id: clientIDCounter.Add(1), hub: h, send: make(chan Message, buffer)}
	select {
	case h.register <- c:
	case <-time.After(5 * time.Second):
		t.Fatal("register timed out")
	}
	return c
}

func TestHubFansOutNotifications(t *testing.T) {
	t.Parallel()
	h, f, _ := startHub(t)

	a := registerTestClient(t, h, 4)
	b := registerTestClient(t, h, 4)

	n := &models.Notification{
		ID: "n1", Kind: models.NotifyBountyClaimed, GroupID: "g1",
		CreatedAt: time.Now().UTC(),
	}
	if err := f.PublishNotification(n); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeNotification {
				t.Fatalf("message type = %s", msg.Type)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("client %d never received the broadcast", c.id)
		}
	}
}

func TestHubSurvivesSlowClient(t *testing.T) {
	t.Parallel()
	h, f, _ := startHub(t)

	// Zero-buffer client that never reads.
	registerTestClient(t, h, 0)
	healthy := registerTestClient(t, h, 4)

	for i := 0; i < 3; i++ {
		n := &models.Notification{
			ID: "n", Kind: models.NotifyBountyExpired, GroupID: "g1",
			CreatedAt: time.Now().UTC(),
		}
		if err := f.PublishNotification(n); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	received := 0
	deadline := time.After(5 * time.Second)
	for received < 3 {
		select {
		case <-healthy.send:
			received++
		case <-deadline:
			t.Fatalf("healthy client starved behind slow client: got %d", received)
		}
	}
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	t.Parallel()
	h, _, cancel := startHub(t)
	c := registerTestClient(t, h, 4)

	if got := h.ClientCount(); got != 1 {
		t.Fatalf("client count = %d, want 1", got)
	}

	cancel()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected closed send channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("send channel never closed")
	}
	if got := h.ClientCount(); got != 0 {
		t.Fatalf("client count after shutdown = %d, want 0", got)
	}
}
