// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ModelRefresher retrains a cached model when its input changed and drops
// expired cached results. *recommend.Engine satisfies it.
type ModelRefresher interface {
	RefreshModel(ctx context.Context) (bool, error)
	PruneCache() int
}

// ModelRefreshConfig holds configuration for the model refresh service.
type ModelRefreshConfig struct {
	// RefreshOnStartup trains once before the first tick so the first
	// factorization request does not pay for training.
	RefreshOnStartup bool

	// Interval is how often to check for a stale model and prune the
	// result cache.
	Interval time.Duration

	// Timeout bounds a single training run.
	Timeout time.Duration
}

// ModelRefreshService keeps the factorization model warm and the result
// cache free of expired entries.
type ModelRefreshService struct {
	engine ModelRefresher
	config ModelRefreshConfig
	logger zerolog.Logger
	name   string
}

// NewModelRefreshService creates a new model refresh service.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewModelRefreshService(engine ModelRefresher, cfg ModelRefreshConfig, logger zerolog.Logger) *ModelRefreshService {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &ModelRefreshService{
		engine: engine,
		config: cfg,
		logger: logger.With().Str("service", "model-refresh").Logger(),
		name:   "model-refresh",
	}
}

// Serve implements the suture.Service interface.
func (s *ModelRefreshService) Serve(ctx context.Context) error {
	s.logger.Info().
		Bool("refresh_on_startup", s.config.RefreshOnStartup).
		Dur("interval", s.config.Interval).
		Msg("model refresh service starting")

	if s.config.RefreshOnStartup {
		s.refresh(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("model refresh service shutting down")
			return ctx.Err()

		case <-ticker.C:
			if n := s.engine.PruneCache(); n > 0 {
				s.logger.Debug().Int("removed", n).Msg("pruned expired results")
			}
			s.refresh(ctx)
		}
	}
}

// refresh runs one check. Failures are logged and retried on the next
// tick; the engine falls back to training on demand meanwhile.
func (s *ModelRefreshService) refresh(ctx context.Context) {
	trainCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	trained, err := s.engine.RefreshModel(trainCtx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("model refresh failed")
		}
		return
	}
	if trained {
		s.logger.Info().Dur("duration", time.Since(start)).Msg("model refreshed")
	}
}

// String returns the service name for logging.
func (s *ModelRefreshService) String() string {
	return s.name
}
