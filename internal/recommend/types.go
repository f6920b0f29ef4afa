// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package recommend

import (
	"strconv"
	"strings"

	"github.com/InputOutputStream/recommandation-system/internal/ratings"
)

// Algorithm selects one of the recommenders. The zero value is not a
// valid algorithm and resolves to an empty result.
type Algorithm int

const (
	// AlgorithmUnknown marks a request whose algorithm tag was not recognized.
	AlgorithmUnknown Algorithm = iota
	// AlgorithmKNN is user-based collaborative filtering (wire tag 1).
	AlgorithmKNN
	// AlgorithmMF is SGD matrix factorization (wire tag 2).
	AlgorithmMF
	// AlgorithmGraph is bipartite PageRank (wire tag 3).
	AlgorithmGraph
)

// ParseAlgorithm maps a wire tag to an Algorithm.
func ParseAlgorithm(tag int) (Algorithm, bool) {
	switch Algorithm(tag) {
	case AlgorithmKNN, AlgorithmMF, AlgorithmGraph:
		return Algorithm(tag), true
	default:
		return AlgorithmUnknown, false
	}
}

// ParseAlgorithmName accepts either a wire tag ("2") or a name ("mf").
func ParseAlgorithmName(s string) (Algorithm, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if tag, err := strconv.Atoi(s); err == nil {
		return ParseAlgorithm(tag)
	}
	switch s {
	case "knn":
		return AlgorithmKNN, true
	case "mf", "matrix_factorization":
		return AlgorithmMF, true
	case "graph", "pagerank":
		return AlgorithmGraph, true
	default:
		return AlgorithmUnknown, false
	}
}

// String returns a human-readable name for the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmKNN:
		return "knn"
	case AlgorithmMF:
		return "mf"
	case AlgorithmGraph:
		return "graph"
	default:
		return "unknown"
	}
}

// Request represents a recommendation request.
type Request struct {
	// UserID is the user to generate recommendations for.
	UserID int `json:"user_id" validate:"gte=0"`

	// Algorithm selects the recommender.
	Algorithm Algorithm `json:"algorithm"`

	// K is the neighbour count. Only KNN reads it; non-positive uses the default.
	K int `json:"k"`

	// NumRecommendations is clamped to [1, MaxRecommendations].
	NumRecommendations int `json:"num_recommendations"`

	// CategoryFilter restricts results to one category. ratings.NoCategory disables it.
	CategoryFilter int32 `json:"category_filter"`
}

// NewRequest builds a request without a category filter.
func NewRequest(userID int, alg Algorithm, k, num int) Request {
	return Request{
		UserID:             userID,
		Algorithm:          alg,
		K:                  k,
		NumRecommendations: num,
		CategoryFilter:     ratings.NoCategory,
	}
}

// HasCategoryFilter reports whether the request filters by category.
func (r Request) HasCategoryFilter() bool {
	return r.CategoryFilter >= 0
}

// Result is one recommended item.
type Result struct {
	ItemID int `json:"item_id"`

	// CategoryID is ratings.NoCategory when the item's category is unknown.
	CategoryID int32 `json:"category_id"`

	PredictedRating float64 `json:"predicted_rating"`
}

// Stats describes engine activity.
type Stats struct {
	Requests          int64   `json:"requests"`
	Errors            int64   `json:"errors"`
	CacheHits         int64   `json:"cache_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	CacheSize         int     `json:"cache_size"`
	ModelGeneration   uint64  `json:"model_generation"`
	ModelTrained      bool    `json:"model_trained"`
	ModelRMSE         float64 `json:"model_rmse"`
	ModelTrainedAtUTC string  `json:"model_trained_at,omitempty"`
}
