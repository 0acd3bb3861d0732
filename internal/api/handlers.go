// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/models"
	"github.com/pvpstats/killfeed/internal/store"
	"github.com/pvpstats/killfeed/internal/websocket"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 500 {
		return def
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	playerID := chi.URLParam(r, "playerID")

	stats, err := s.store.PlayerStats(r.Context(), groupID, playerID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown player")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("Player stats query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*models.PlayerAggregate
		KDRatio float64 `json:"kd_ratio"`
	}{stats, stats.KDRatio()})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	players, err := s.store.TopPlayers(r.Context(), groupID, limitParam(r, 10))
	if err != nil {
		logging.Error().Err(err).Msg("Leaderboard query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": groupID, "players": players})
}

func (s *Server) handleFactions(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	factions, err := s.store.FactionStats(r.Context(), groupID)
	if err != nil {
		logging.Error().Err(err).Msg("Faction stats query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": groupID, "factions": factions})
}

func (s *Server) handleRivalry(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	playerID := chi.URLParam(r, "playerID")

	riv, err := s.store.Rivalry(r.Context(), groupID, playerID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no rivalry data")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("Rivalry query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, riv)
}

func (s *Server) handleBounties(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	status := models.BountyStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.BountyActive
	}
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown bounty status")
		return
	}

	bounties, err := s.store.BountiesByStatus(r.Context(), groupID, status, limitParam(r, 50))
	if err != nil {
		logging.Error().Err(err).Msg("Bounty query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"status":   status,
		"bounties": bounties,
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	events, err := s.store.RecentEvents(r.Context(), groupID, limitParam(r, 50))
	if err != nil {
		logging.Error().Err(err).Msg("Recent events query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": groupID, "events": events})
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications unavailable")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	websocket.NewClient(s.hub, conn).Start()
}
