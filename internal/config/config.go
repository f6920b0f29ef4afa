// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package config loads the server configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values matching the historical compile-time constants
//  2. Config File: optional YAML file (config.yaml, or CONFIG_PATH)
//  3. Environment Variables: override any mapped setting
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("failed to load configuration")
//	}
//	addr := cfg.Server.Address()
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Recommend  RecommendConfig  `koanf:"recommend"`
	Journal    JournalConfig    `koanf:"journal"`
	Admin      AdminConfig      `koanf:"admin"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds the TCP recommendation listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// MaxClients bounds the session table; the listener backlog uses the same value.
	MaxClients int `koanf:"max_clients"`

	// MaxMessageLength bounds both request lines and responses, in bytes.
	MaxMessageLength int `koanf:"max_message_length"`

	// IdleTimeout disconnects a client that sends nothing for this long.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// WriteTimeout bounds a single response write.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// RequestsPerSecond and RequestBurst rate limit each connection.
	// Zero disables the limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	RequestBurst      int     `koanf:"request_burst"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Address returns the host:port the TCP listener binds to.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StoreConfig holds rating store limits.
type StoreConfig struct {
	MaxRatings int `koanf:"max_ratings"`
	MaxUsers   int `koanf:"max_users"`
	MaxItems   int `koanf:"max_items"`

	// SeedFile is an optional semicolon-separated ratings file
	// (user;item;category;rating;timestamp) loaded at startup.
	SeedFile string `koanf:"seed_file"`
}

// RecommendConfig holds recommendation engine settings.
type RecommendConfig struct {
	MaxRecommendations int   `koanf:"max_recommendations"`
	DefaultK           int   `koanf:"default_k"`
	Seed               int64 `koanf:"seed"`

	// Similarity selects the KNN correlation: pearson_centered or pearson.
	Similarity string `koanf:"similarity"`

	MF    MFAlgorithmConfig    `koanf:"mf"`
	Graph GraphAlgorithmConfig `koanf:"graph"`

	// CacheSize is the number of recommendation results kept in memory.
	// Zero disables the cache.
	CacheSize int           `koanf:"cache_size"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`

	// RefreshInterval controls how often the background service retrains
	// the factorization model after the store changed. Zero disables it.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// MFAlgorithmConfig holds matrix factorization hyperparameters.
type MFAlgorithmConfig struct {
	Factors           int     `koanf:"factors"`
	LearningRate      float64 `koanf:"learning_rate"`
	Regularization    float64 `koanf:"regularization"`
	Epochs            int     `koanf:"epochs"`
	RetrainPerRequest bool    `koanf:"retrain_per_request"`
}

// GraphAlgorithmConfig holds PageRank settings.
type GraphAlgorithmConfig struct {
	Damping       float64 `koanf:"damping"`
	MaxIterations int     `koanf:"max_iterations"`
	Epsilon       float64 `koanf:"epsilon"`
}

// JournalConfig holds the durable rating journal settings.
type JournalConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	SyncWrites bool   `koanf:"sync_writes"`

	// GCInterval controls how often the value log is garbage collected.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// AdminConfig holds the HTTP admin listener settings.
type AdminConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	WebSocket       bool          `koanf:"websocket"`
}

// Address returns the host:port the admin listener binds to.
func (a AdminConfig) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig holds supervisor tree settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Load reads configuration from defaults, an optional config file and the
// environment, in that order of precedence.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

// String summarizes the listener layout for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("tcp=%s admin=%s max_clients=%d", c.Server.Address(), c.Admin.Address(), c.Server.MaxClients)
}
