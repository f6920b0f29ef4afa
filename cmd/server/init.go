// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/InputOutputStream/recommandation-system/internal/admin"
	"github.com/InputOutputStream/recommandation-system/internal/config"
	"github.com/InputOutputStream/recommandation-system/internal/events"
	"github.com/InputOutputStream/recommandation-system/internal/journal"
	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
	"github.com/InputOutputStream/recommandation-system/internal/recommend"
	"github.com/InputOutputStream/recommandation-system/internal/recommend/algorithms"
	"github.com/InputOutputStream/recommandation-system/internal/server"
	"github.com/InputOutputStream/recommandation-system/internal/session"
)

// loadSeed ingests the configured ratings file. A missing or unreadable
// file is not fatal: the server starts with whatever the journal holds.
func loadSeed(store *ratings.Store, path string) {
	if path == "" {
		logging.Info().Msg("no seed file configured, starting with an empty store")
		return
	}

	loaded, res, err := store.LoadFile(path)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("failed to load seed file")
		return
	}
	skipped := len(res.Records) - loaded + res.Malformed
	metrics.RecordIngest("seed", loaded, skipped)
	logging.Info().
		Str("path", path).
		Int("loaded", loaded).
		Int("skipped", skipped).
		Msg("seed ratings loaded")
}

// initJournal opens the journal, replays it into the store and subscribes
// it to later ingest events. Returns nil when journaling is disabled.
func initJournal(ctx context.Context, cfg *config.Config, store *ratings.Store, bus *events.Bus) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		logging.Info().Msg("rating journal disabled (JOURNAL_ENABLED=false)")
		return nil, nil
	}

	jcfg := journal.DefaultConfig()
	jcfg.Path = cfg.Journal.Path
	jcfg.SyncWrites = cfg.Journal.SyncWrites

	j, err := journal.Open(jcfg, logging.WithComponent("journal"))
	if err != nil {
		return nil, err
	}

	total, skipped := 0, 0
	n, err := j.Replay(ctx, func(batch []ratings.Rating) error {
		loaded := store.IngestBulk(batch)
		total += loaded
		skipped += len(batch) - loaded
		return nil
	})
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	metrics.RecordIngest("journal", total, skipped)
	logging.Info().
		Int("entries", n).
		Int("loaded", total).
		Int("skipped", skipped).
		Msg("rating journal replayed")

	// New records must sort after everything already on disk.
	store.AdvanceSequence(j.LastSequence())
	if err := bus.Subscribe("journal", j.HandleBatch); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("subscribe journal: %w", err)
	}
	return j, nil
}

// engineConfig maps the flat configuration onto the engine's.
func engineConfig(cfg *config.Config) *recommend.Config {
	rc := recommend.DefaultConfig()
	rc.Limits = recommend.LimitsConfig{
		MaxRecommendations: cfg.Recommend.MaxRecommendations,
		DefaultK:           cfg.Recommend.DefaultK,
	}
	rc.KNN = algorithms.KNNConfig{
		K:                cfg.Recommend.DefaultK,
		SimilarityMetric: cfg.Recommend.Similarity,
	}
	rc.MF = algorithms.MFConfig{
		Factors:        cfg.Recommend.MF.Factors,
		LearningRate:   cfg.Recommend.MF.LearningRate,
		Regularization: cfg.Recommend.MF.Regularization,
		Epochs:         cfg.Recommend.MF.Epochs,
		Seed:           cfg.Recommend.Seed,
	}
	rc.RetrainPerRequest = cfg.Recommend.MF.RetrainPerRequest
	rc.PageRank = algorithms.PageRankConfig{
		Damping:       cfg.Recommend.Graph.Damping,
		MaxIterations: cfg.Recommend.Graph.MaxIterations,
		Epsilon:       cfg.Recommend.Graph.Epsilon,
	}
	rc.Cache = recommend.CacheConfig{
		Size: cfg.Recommend.CacheSize,
		TTL:  cfg.Recommend.CacheTTL,
	}
	return rc
}

// newAdminServer builds the admin HTTP server. The websocket gateway shares
// the TCP server's responder and session table.
func newAdminServer(
	cfg *config.Config,
	store *ratings.Store,
	engine *recommend.Engine,
	table *session.Table,
	responder *server.Responder,
	j *journal.Journal,
) (*http.Server, error) {
	deps := admin.Deps{
		Store:     store,
		Engine:    engine,
		Table:     table,
		Responder: responder,
	}
	// A nil *journal.Journal must not become a non-nil interface.
	if j != nil {
		deps.Journal = j
	}

	acfg := admin.DefaultConfig()
	acfg.CORSOrigins = cfg.Admin.CORSOrigins
	acfg.RateLimitReqs = cfg.Admin.RateLimitReqs
	acfg.RateLimitWindow = cfg.Admin.RateLimitWindow
	acfg.WebSocket = cfg.Admin.WebSocket
	acfg.IdleTimeout = cfg.Server.IdleTimeout
	acfg.WriteTimeout = cfg.Server.WriteTimeout

	handler, err := admin.NewHandler(acfg, deps, logging.Logger())
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              cfg.Admin.Address(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}, nil
}
