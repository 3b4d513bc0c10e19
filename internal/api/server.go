// SPDX-License-Identifier: MIT

// Package api exposes the read-mostly administrative HTTP surface over the
// Store: account and video listings, derived worker health, a Prometheus
// exposition endpoint, and a rate-limited bulk account seed.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tummerk/video-stats/internal/log"
	"github.com/tummerk/video-stats/internal/store"
	"github.com/tummerk/video-stats/internal/upstream"
)

// Server wires the Store into a chi router with the standard middleware
// stack: recoverer outermost, then request id, then structured request
// logging, then per-IP rate limiting on the single write endpoint.
type Server struct {
	store             *store.Store
	upstream          upstream.Client
	heartbeatInterval time.Duration
	workerName        string
	router            chi.Router
}

// Config configures the derived-health calculation and which worker name
// GET /api/health reports on.
type Config struct {
	HeartbeatInterval time.Duration
	WorkerName        string
	SeedRateLimitRPS  int
}

// NewServer builds the Server and its route table.
func NewServer(st *store.Store, up upstream.Client, cfg Config) *Server {
	s := &Server{
		store:             st,
		upstream:          up,
		heartbeatInterval: cfg.HeartbeatInterval,
		workerName:        cfg.WorkerName,
	}
	s.router = s.newRouter(cfg)
	return s
}

// Handler returns the http.Handler serving the admin API; it is what the
// daemon manager binds to a listen address.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newRouter(cfg Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(log.Middleware())

	r.Get("/api/accounts", s.handleListAccounts)
	r.Get("/api/videos", s.handleListVideos)
	r.Get("/api/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	rps := cfg.SeedRateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	r.With(httprate.LimitByIP(rps, time.Minute)).Post("/api/accounts/seed", s.handleSeedAccounts)

	return r
}
