// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/InputOutputStream/recommandation-system/internal/config"
	"github.com/InputOutputStream/recommandation-system/internal/events"
	"github.com/InputOutputStream/recommandation-system/internal/journal"
	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
	"github.com/InputOutputStream/recommandation-system/internal/recommend"
	"github.com/InputOutputStream/recommandation-system/internal/server"
	"github.com/InputOutputStream/recommandation-system/internal/session"
	"github.com/InputOutputStream/recommandation-system/internal/supervisor"
	"github.com/InputOutputStream/recommandation-system/internal/supervisor/services"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().Str("layout", cfg.String()).Msg("starting recommendation server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := ratings.NewStore(ratings.Limits{
		MaxRatings: cfg.Store.MaxRatings,
		MaxUsers:   cfg.Store.MaxUsers,
		MaxItems:   cfg.Store.MaxItems,
	})

	// Batches published before anyone subscribes are dropped, so neither
	// the seed file nor the journal replay is written back.
	bus := events.NewBus(events.Config{}, logging.Logger())
	store.SetPublisher(bus)
	loadSeed(store, cfg.Store.SeedFile)

	j, err := initJournal(ctx, cfg, store, bus)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open rating journal")
	}
	defer closeJournal(j)
	// Runs before closeJournal so in-flight batches still reach the journal.
	defer closeBus(bus)

	engine, err := recommend.NewEngine(store, engineConfig(cfg), logging.WithComponent("recommend"))
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create recommendation engine")
	}
	if err := bus.Subscribe("engine", engine.HandleBatch); err != nil {
		logging.Fatal().Err(err).Msg("failed to subscribe engine to ingest events")
	}

	table := session.NewTable(cfg.Server.MaxClients, logging.WithComponent("session"))

	tcp := server.New(server.Config{
		Address:           cfg.Server.Address(),
		MaxMessageLength:  cfg.Server.MaxMessageLength,
		IdleTimeout:       cfg.Server.IdleTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		RequestBurst:      cfg.Server.RequestBurst,
		DefaultK:          cfg.Recommend.DefaultK,
	}, table, engine, logging.Logger())

	// Bind now: a listen failure is fatal and must not be retried by the
	// supervisor.
	if err := tcp.Listen(); err != nil {
		closeBus(bus)
		closeJournal(j)
		logging.Fatal().Err(err).Str("addr", cfg.Server.Address()).Msg("failed to bind TCP listener")
	}
	logging.Info().
		Str("addr", tcp.Addr().String()).
		Int("max_clients", table.Capacity()).
		Msg("server listening")

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	// Data layer
	if j != nil {
		tree.AddDataService(services.NewJournalGCService(j, cfg.Journal.GCInterval, logging.Logger()))
	}

	// Engine layer
	if cfg.Recommend.RefreshInterval > 0 {
		tree.AddEngineService(services.NewModelRefreshService(engine, services.ModelRefreshConfig{
			RefreshOnStartup: store.Stats().Ratings > 0,
			Interval:         cfg.Recommend.RefreshInterval,
		}, logging.Logger()))
	}

	// API layer
	tree.AddAPIService(services.NewServerService("tcp-server", tcp, server.ErrServerClosed, cfg.Server.ShutdownTimeout))
	if cfg.Admin.Enabled {
		httpSrv, err := newAdminServer(cfg, store, engine, table, tcp.Responder(), j)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create admin server")
		}
		tree.AddAPIService(services.NewHTTPServerService(httpSrv, cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", httpSrv.Addr).Bool("websocket", cfg.Admin.WebSocket).Msg("admin HTTP server service added")
	}

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	logging.Info().Msg("server stopped gracefully")
}

// closeBus is safe to call twice.
func closeBus(bus *events.Bus) {
	if err := bus.Close(); err != nil {
		logging.Error().Err(err).Msg("error closing event bus")
	}
}

// closeJournal is safe to call twice; Close on a closed journal is a no-op.
func closeJournal(j *journal.Journal) {
	if j == nil {
		return
	}
	if err := j.Close(); err != nil && !errors.Is(err, journal.ErrClosed) {
		logging.Error().Err(err).Msg("error closing rating journal")
	}
}
