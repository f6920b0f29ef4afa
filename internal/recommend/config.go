// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package recommend

import (
	"fmt"
	"time"

	"github.com/InputOutputStream/recommandation-system/internal/recommend/algorithms"
)

// Config contains all configuration for the recommendation engine.
type Config struct {
	// Limits contains request bounds.
	Limits LimitsConfig `json:"limits"`

	// KNN contains parameters for the neighbourhood recommender.
	KNN algorithms.KNNConfig `json:"knn"`

	// MF contains parameters for matrix factorization.
	MF algorithms.MFConfig `json:"mf"`

	// RetrainPerRequest trains a fresh factorization model for every MF
	// request instead of reusing the cached one.
	RetrainPerRequest bool `json:"retrain_per_request"`

	// PageRank contains parameters for the graph recommender.
	PageRank algorithms.PageRankConfig `json:"pagerank"`

	// Cache contains result caching parameters.
	Cache CacheConfig `json:"cache"`
}

// LimitsConfig bounds request parameters.
type LimitsConfig struct {
	// MaxRecommendations caps num_recommendations.
	MaxRecommendations int `json:"max_recommendations"`

	// DefaultK is the neighbour count used when a request leaves k unset.
	DefaultK int `json:"default_k"`
}

// CacheConfig contains result caching parameters.
type CacheConfig struct {
	// Size is the maximum number of cached results. Zero disables caching.
	Size int `json:"size"`

	// TTL is how long a cached result stays valid.
	TTL time.Duration `json:"ttl"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxRecommendations: 20,
			DefaultK:           5,
		},
		KNN:      algorithms.DefaultKNNConfig(),
		MF:       algorithms.DefaultMFConfig(),
		PageRank: algorithms.DefaultPageRankConfig(),
		Cache: CacheConfig{
			Size: 1000,
			TTL:  5 * time.Minute,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Limits.MaxRecommendations < 1 {
		return fmt.Errorf("limits.max_recommendations must be positive, got %d", c.Limits.MaxRecommendations)
	}
	if c.Limits.DefaultK < 1 {
		return fmt.Errorf("limits.default_k must be positive, got %d", c.Limits.DefaultK)
	}

	switch c.KNN.SimilarityMetric {
	case "", algorithms.MetricPearsonCentered, algorithms.MetricPearson:
	default:
		return fmt.Errorf("knn.similarity_metric must be %q or %q, got %q",
			algorithms.MetricPearsonCentered, algorithms.MetricPearson, c.KNN.SimilarityMetric)
	}

	if c.MF.Factors < 0 {
		return fmt.Errorf("mf.factors must be non-negative, got %d", c.MF.Factors)
	}
	if c.MF.LearningRate < 0 {
		return fmt.Errorf("mf.learning_rate must be non-negative, got %f", c.MF.LearningRate)
	}
	if c.MF.Regularization < 0 {
		return fmt.Errorf("mf.regularization must be non-negative, got %f", c.MF.Regularization)
	}

	if c.PageRank.Damping < 0 || c.PageRank.Damping >= 1 {
		return fmt.Errorf("pagerank.damping must be in [0, 1), got %f", c.PageRank.Damping)
	}

	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size must be non-negative, got %d", c.Cache.Size)
	}
	return nil
}
