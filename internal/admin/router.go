// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package admin serves the HTTP side of the recommendation server: health
// and Prometheus endpoints, a small JSON API over the rating store, the
// engine and the session table, and a websocket gateway that speaks the
// TCP line protocol.
//
// Routes:
//
//	GET    /health
//	GET    /metrics
//	GET    /api/v1/stats
//	GET    /api/v1/sessions
//	DELETE /api/v1/sessions/{id}
//	POST   /api/v1/sessions/broadcast
//	POST   /api/v1/ratings
//	GET    /api/v1/recommendations?user=&algorithm=&k=&n=&category=
//	GET    /api/v1/model/evaluate
//	POST   /api/v1/model/refresh
//	GET    /ws
//
// Websocket clients are admitted into the same session table as TCP
// clients and count against the same capacity.
package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/journal"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
	"github.com/InputOutputStream/recommandation-system/internal/recommend"
	"github.com/InputOutputStream/recommandation-system/internal/server"
	"github.com/InputOutputStream/recommandation-system/internal/session"
)

// Config holds admin API settings.
type Config struct {
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration

	// WebSocket enables the /ws gateway.
	WebSocket bool

	// IdleTimeout and WriteTimeout apply to websocket sessions.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	// RequestTimeout bounds a recommendation computed for the JSON API.
	RequestTimeout time.Duration

	// MaxBodyBytes bounds POST bodies.
	MaxBodyBytes int64
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		CORSOrigins:     []string{"*"},
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
		WebSocket:       true,
		IdleTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		RequestTimeout:  10 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// JournalReporter exposes journal statistics. *journal.Journal satisfies it.
type JournalReporter interface {
	Stats() journal.Stats
}

// Deps are the components the admin API reads from and writes to.
type Deps struct {
	Store     *ratings.Store
	Engine    *recommend.Engine
	Table     *session.Table
	Responder *server.Responder

	// Journal is optional.
	Journal JournalReporter
}

// Handler implements the admin endpoints.
type Handler struct {
	cfg       Config
	store     *ratings.Store
	engine    *recommend.Engine
	table     *session.Table
	responder *server.Responder
	journal   JournalReporter
	logger    zerolog.Logger
	started   time.Time
}

// NewHandler validates deps and creates a handler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(cfg Config, deps Deps, logger zerolog.Logger) (*Handler, error) {
	if deps.Store == nil || deps.Engine == nil || deps.Table == nil {
		return nil, errors.New("admin: store, engine and session table are required")
	}
	if cfg.WebSocket && deps.Responder == nil {
		return nil, errors.New("admin: websocket gateway requires a responder")
	}

	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	return &Handler{
		cfg:       cfg,
		store:     deps.Store,
		engine:    deps.Engine,
		table:     deps.Table,
		responder: deps.Responder,
		journal:   deps.Journal,
		logger:    logger.With().Str("component", "admin").Logger(),
		started:   time.Now(),
	}, nil
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(CorrelationID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(h.cfg.CORSOrigins))
	r.Use(Metrics())

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(h.cfg.RateLimitReqs, h.cfg.RateLimitWindow))

		r.Get("/stats", h.Stats)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.Sessions)
			r.Post("/broadcast", h.Broadcast)
			r.Delete("/{id}", h.DisconnectSession)
		})

		r.Post("/ratings", h.IngestRatings)
		r.Get("/recommendations", h.Recommendations)

		r.Route("/model", func(r chi.Router) {
			r.Get("/evaluate", h.EvaluateModel)
			r.Post("/refresh", h.RefreshModel)
		})
	})

	if h.cfg.WebSocket {
		r.Get("/ws", h.WebSocket)
	}

	return r
}
