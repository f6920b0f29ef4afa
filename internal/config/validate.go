// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package config

import (
	"fmt"
	"strings"
)

// Validate checks that every setting is within its supported range.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRecommend(); err != nil {
		return err
	}
	if err := c.validateJournal(); err != nil {
		return err
	}
	if err := c.validateAdmin(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	s := c.Server
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port)
	}
	if s.MaxClients <= 0 {
		return fmt.Errorf("server.max_clients must be positive, got %d", s.MaxClients)
	}
	// The header line plus the error message must always fit.
	if s.MaxMessageLength < 128 {
		return fmt.Errorf("server.max_message_length must be at least 128, got %d", s.MaxMessageLength)
	}
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("server.idle_timeout must be positive, got %v", s.IdleTimeout)
	}
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("server.requests_per_second must be non-negative, got %f", s.RequestsPerSecond)
	}
	if s.RequestsPerSecond > 0 && s.RequestBurst <= 0 {
		return fmt.Errorf("server.request_burst must be positive when rate limiting, got %d", s.RequestBurst)
	}
	return nil
}

func (c *Config) validateStore() error {
	s := c.Store
	if s.MaxRatings <= 0 {
		return fmt.Errorf("store.max_ratings must be positive, got %d", s.MaxRatings)
	}
	if s.MaxUsers <= 0 {
		return fmt.Errorf("store.max_users must be positive, got %d", s.MaxUsers)
	}
	if s.MaxItems <= 0 {
		return fmt.Errorf("store.max_items must be positive, got %d", s.MaxItems)
	}
	return nil
}

func (c *Config) validateRecommend() error {
	r := c.Recommend
	if r.MaxRecommendations <= 0 {
		return fmt.Errorf("recommend.max_recommendations must be positive, got %d", r.MaxRecommendations)
	}
	if r.DefaultK <= 0 {
		return fmt.Errorf("recommend.default_k must be positive, got %d", r.DefaultK)
	}
	if r.Similarity != "pearson_centered" && r.Similarity != "pearson" {
		return fmt.Errorf("recommend.similarity must be pearson_centered or pearson, got %q", r.Similarity)
	}
	if r.CacheSize < 0 {
		return fmt.Errorf("recommend.cache_size must be non-negative, got %d", r.CacheSize)
	}
	if r.MF.Factors <= 0 {
		return fmt.Errorf("recommend.mf.factors must be positive, got %d", r.MF.Factors)
	}
	if r.MF.LearningRate <= 0 {
		return fmt.Errorf("recommend.mf.learning_rate must be positive, got %f", r.MF.LearningRate)
	}
	if r.MF.Regularization < 0 {
		return fmt.Errorf("recommend.mf.regularization must be non-negative, got %f", r.MF.Regularization)
	}
	if r.MF.Epochs <= 0 {
		return fmt.Errorf("recommend.mf.epochs must be positive, got %d", r.MF.Epochs)
	}
	if r.Graph.Damping <= 0 || r.Graph.Damping >= 1 {
		return fmt.Errorf("recommend.graph.damping must be in (0, 1), got %f", r.Graph.Damping)
	}
	if r.Graph.MaxIterations <= 0 {
		return fmt.Errorf("recommend.graph.max_iterations must be positive, got %d", r.Graph.MaxIterations)
	}
	if r.Graph.Epsilon <= 0 {
		return fmt.Errorf("recommend.graph.epsilon must be positive, got %g", r.Graph.Epsilon)
	}
	return nil
}

func (c *Config) validateJournal() error {
	if !c.Journal.Enabled {
		return nil
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when JOURNAL_ENABLED=true")
	}
	return nil
}

func (c *Config) validateAdmin() error {
	if !c.Admin.Enabled {
		return nil
	}
	if c.Admin.Port < 1 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be between 1 and 65535, got %d", c.Admin.Port)
	}
	if c.Admin.Port == c.Server.Port && c.Admin.Host == c.Server.Host {
		return fmt.Errorf("admin.port %d collides with server.port", c.Admin.Port)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
