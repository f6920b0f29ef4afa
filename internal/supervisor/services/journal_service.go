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

// GarbageCollector reclaims journal space. *journal.Journal satisfies it.
type GarbageCollector interface {
	RunGC() error
}

// JournalGCService runs value log GC on the rating journal periodically.
//
// Example usage:
//
//	j, _ := journal.Open(cfg, logger)
//	tree.AddDataService(services.NewJournalGCService(j, 10*time.Minute, logger))
type JournalGCService struct {
	journal  GarbageCollector
	interval time.Duration
	logger   zerolog.Logger
	name     string
}

// NewJournalGCService creates a new journal GC service.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewJournalGCService(j GarbageCollector, interval time.Duration, logger zerolog.Logger) *JournalGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &JournalGCService{
		journal:  j,
		interval: interval,
		logger:   logger.With().Str("service", "journal-gc").Logger(),
		name:     "journal-gc",
	}
}

// Serve implements suture.Service. A GC error is logged and retried on the
// next tick; it does not restart the service.
func (s *JournalGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.journal.RunGC(); err != nil {
				s.logger.Warn().Err(err).Msg("journal GC failed")
				continue
			}
			s.logger.Debug().Dur("duration", time.Since(start)).Msg("journal GC completed")
		}
	}
}

// String implements fmt.Stringer for logging.
func (s *JournalGCService) String() string {
	return s.name
}
