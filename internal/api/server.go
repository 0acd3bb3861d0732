// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

// Package api exposes the read-only query surface: player and faction
// stats, rivalries, bounties, recent events, health, metrics, and the
// websocket notification stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pvpstats/killfeed/internal/config"
	"github.com/pvpstats/killfeed/internal/logging"
	"github.com/pvpstats/killfeed/internal/store"
	"github.com/pvpstats/killfeed/internal/websocket"
)

// Server is the HTTP query server.
type Server struct {
	cfg     config.ServerConfig
	store   *store.Store
	hub     *websocket.Hub
	handler http.Handler
}

// New creates a Server. The hub may be nil, in which case the websocket
// endpoint responds 503.
func New(cfg config.ServerConfig, st *store.Store, hub *websocket.Hub) *Server {
	s := &Server{cfg: cfg, store: st, hub: hub}
	s.handler = s.routes()
	return s
}

// Handler exposes the router, primarily for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// String identifies the service in the supervision tree.
func (s *Server) String() string {
	return fmt.Sprintf("api-server:%d", s.cfg.Port)
}

// Serve runs the HTTP server until ctx is canceled. Implements
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("Query API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("API shutdown failed")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Get("/players/{playerID}", s.handlePlayerStats)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Get("/factions", s.handleFactions)
			r.Get("/rivalries/{playerID}", s.handleRivalry)
			r.Get("/bounties", s.handleBounties)
			r.Get("/events", s.handleRecentEvents)
		})
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
