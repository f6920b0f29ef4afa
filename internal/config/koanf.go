// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/recoserver/config.yaml",
	"/etc/recoserver/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every default applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			MaxClients:        10,
			MaxMessageLength:  1024,
			IdleTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			RequestsPerSecond: 20,
			RequestBurst:      40,
			ShutdownTimeout:   10 * time.Second,
		},
		Store: StoreConfig{
			MaxRatings: 10000,
			MaxUsers:   1000,
			MaxItems:   1000,
			SeedFile:   "",
		},
		Recommend: RecommendConfig{
			MaxRecommendations: 20,
			DefaultK:           5,
			Seed:               42, // Deterministic for reproducibility
			Similarity:         "pearson_centered",
			MF: MFAlgorithmConfig{
				Factors:           10,
				LearningRate:      0.01,
				Regularization:    0.1,
				Epochs:            20,
				RetrainPerRequest: false,
			},
			Graph: GraphAlgorithmConfig{
				Damping:       0.85,
				MaxIterations: 50,
				Epsilon:       1e-6,
			},
			CacheSize:       1000,
			CacheTTL:        5 * time.Minute,
			RefreshInterval: time.Minute,
		},
		Journal: JournalConfig{
			Enabled:    false,
			Path:       "/data/journal",
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Admin: AdminConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            9090,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
			WebSocket:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults
//  2. Config File (optional)
//  3. Environment Variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"admin.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Environment variables arrive as strings while YAML already yields slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// TCP listener
	"server_host":          "server.host",
	"server_port":          "server.port",
	"port":                 "server.port",
	"max_clients":          "server.max_clients",
	"max_message_length":   "server.max_message_length",
	"client_idle_timeout":  "server.idle_timeout",
	"client_write_timeout": "server.write_timeout",
	"client_rate_limit":    "server.requests_per_second",
	"client_rate_burst":    "server.request_burst",
	"shutdown_timeout":     "server.shutdown_timeout",

	// Rating store
	"max_ratings":  "store.max_ratings",
	"max_users":    "store.max_users",
	"max_items":    "store.max_items",
	"ratings_file": "store.seed_file",

	// Recommendation engine
	"max_recommendations":         "recommend.max_recommendations",
	"default_k":                   "recommend.default_k",
	"recommend_seed":              "recommend.seed",
	"recommend_similarity":        "recommend.similarity",
	"recommend_mf_factors":        "recommend.mf.factors",
	"recommend_mf_learning_rate":  "recommend.mf.learning_rate",
	"recommend_mf_regularization": "recommend.mf.regularization",
	"recommend_mf_epochs":         "recommend.mf.epochs",
	"recommend_mf_retrain":        "recommend.mf.retrain_per_request",
	"recommend_graph_damping":     "recommend.graph.damping",
	"recommend_graph_max_iter":    "recommend.graph.max_iterations",
	"recommend_graph_epsilon":     "recommend.graph.epsilon",
	"recommend_cache_size":        "recommend.cache_size",
	"recommend_cache_ttl":         "recommend.cache_ttl",
	"recommend_refresh_interval":  "recommend.refresh_interval",

	// Journal
	"journal_enabled":     "journal.enabled",
	"journal_path":        "journal.path",
	"journal_sync_writes": "journal.sync_writes",
	"journal_gc_interval": "journal.gc_interval",

	// Admin API
	"admin_enabled":           "admin.enabled",
	"admin_host":              "admin.host",
	"admin_port":              "admin.port",
	"admin_rate_limit":        "admin.rate_limit_reqs",
	"admin_rate_limit_window": "admin.rate_limit_window",
	"cors_origins":            "admin.cors_origins",
	"admin_websocket":         "admin.websocket",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - SERVER_PORT -> server.port
//   - MAX_CLIENTS -> server.max_clients
//   - LOG_LEVEL -> logging.level
//
// Unmapped keys return the empty string so unrelated variables never leak
// into the configuration.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
