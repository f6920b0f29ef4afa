// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package algorithms

import (
	"context"
	"math"
	"sort"

	"github.com/InputOutputStream/recommandation-system/internal/ratings"
)

// Similarity metrics understood by KNN.
const (
	MetricPearsonCentered = "pearson_centered"
	MetricPearson         = "pearson"
)

const (
	// selfCorrelation ranks the target user below every valid correlation.
	selfCorrelation = -2.0

	// placeholderCentered and placeholderUncentered stand in for the
	// correlation when it is undefined (one common item or flat ratings).
	placeholderCentered   = 0.2
	placeholderUncentered = 0.1

	// neutralRating is the midpoint of the rating scale.
	neutralRating = (ratings.MinRating + ratings.MaxRating) / 2
)

// KNNConfig contains configuration for the neighbourhood recommender.
type KNNConfig struct {
	// K is the default number of neighbours when a request does not set one.
	K int

	// SimilarityMetric selects the correlation function.
	// Options: "pearson_centered" (default), "pearson".
	SimilarityMetric string
}

// DefaultKNNConfig returns default KNN configuration.
func DefaultKNNConfig() KNNConfig {
	return KNNConfig{
		K:                5,
		SimilarityMetric: MetricPearsonCentered,
	}
}

// Neighbor is a user ranked by correlation with the target user.
type Neighbor struct {
	UserID      int
	Correlation float64
}

// KNN implements user-based collaborative filtering over Pearson
// correlation.
//
// For a target user u and item i:
// score(u, i) = sum_{v in N(u)} |corr(u, v)| * r(v, i) / sum_{v in N(u)} |corr(u, v)|
//
// where N(u) is the k users most correlated with u. Neighbours that have
// not rated i, or whose |corr| is negligible, contribute nothing. When no
// neighbour contributes the prediction falls back to the item average,
// then the user average, then the scale midpoint.
type KNN struct {
	BaseAlgorithm
	config KNNConfig
	corr   func(a, b []float64) float64
}

// NewKNN creates a KNN recommender.
func NewKNN(cfg KNNConfig) *KNN {
	if cfg.K <= 0 {
		cfg.K = 5
	}
	if cfg.SimilarityMetric == "" {
		cfg.SimilarityMetric = MetricPearsonCentered
	}

	corr := PearsonCentered
	if cfg.SimilarityMetric == MetricPearson {
		corr = Pearson
	}

	return &KNN{
		BaseAlgorithm: NewBaseAlgorithm("knn"),
		config:        cfg,
		corr:          corr,
	}
}

// Config returns the active configuration.
func (k *KNN) Config() KNNConfig {
	return k.config
}

// PearsonCentered computes the mean-centred Pearson correlation of two
// rating rows over the items both rated. Zero common items give 0.0; one
// common item or a flat denominator gives 0.2. The result is clamped to
// [-1, 1].
func PearsonCentered(a, b []float64) float64 {
	n := min(len(a), len(b))

	var sumX, sumY float64
	count := 0
	for i := 0; i < n; i++ {
		if a[i] > presenceThreshold && b[i] > presenceThreshold {
			sumX += a[i]
			sumY += b[i]
			count++
		}
	}

	if count == 0 {
		return 0
	}
	if count == 1 {
		return placeholderCentered
	}

	meanX := sumX / float64(count)
	meanY := sumY / float64(count)

	var num, denX, denY float64
	for i := 0; i < n; i++ {
		if a[i] > presenceThreshold && b[i] > presenceThreshold {
			cx := a[i] - meanX
			cy := b[i] - meanY
			num += cx * cy
			denX += cx * cx
			denY += cy * cy
		}
	}

	den := math.Sqrt(denX * denY)
	if den < presenceThreshold {
		return placeholderCentered
	}
	return clampCorrelation(num / den)
}

// Pearson computes the single-pass (uncentred sums) Pearson correlation.
// Edge cases mirror PearsonCentered with a 0.1 placeholder.
func Pearson(a, b []float64) float64 {
	n := min(len(a), len(b))

	var sumX, sumY, sumX2, sumY2, sumXY float64
	count := 0
	for i := 0; i < n; i++ {
		x, y := a[i], b[i]
		if x > presenceThreshold && y > presenceThreshold {
			sumX += x
			sumY += y
			sumX2 += x * x
			sumY2 += y * y
			sumXY += x * y
			count++
		}
	}

	if count == 0 {
		return 0
	}
	if count == 1 {
		return placeholderUncentered
	}

	c := float64(count)
	meanX := sumX / c
	meanY := sumY / c

	num := sumXY - c*meanX*meanY
	denX := sumX2 - c*meanX*meanX
	denY := sumY2 - c*meanY*meanY

	den := math.Sqrt(denX * denY)
	// NaN covers a tiny negative product from rounding.
	if den < presenceThreshold || math.IsNaN(den) {
		return placeholderUncentered
	}
	return clampCorrelation(num / den)
}

func clampCorrelation(c float64) float64 {
	switch {
	case c > 1:
		return 1
	case c < -1:
		return -1
	default:
		return c
	}
}

// Neighbors returns up to k users most correlated with user, highest
// first. The user itself is never returned. Ties keep user-id order.
func (k *KNN) Neighbors(m *ratings.Matrix, user, n int) []Neighbor {
	numUsers := m.Rows()
	if user < 0 || user >= numUsers || n <= 0 {
		return nil
	}

	target := m.RowView(user)
	ranked := make([]Neighbor, numUsers)
	for v := 0; v < numUsers; v++ {
		c := selfCorrelation
		if v != user {
			c = k.corr(target, m.RowView(v))
		}
		ranked[v] = Neighbor{UserID: v, Correlation: c}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Correlation > ranked[b].Correlation
	})

	// Self sorts last, so it only falls inside the window when n covers
	// every user.
	out := make([]Neighbor, 0, min(n, numUsers))
	for _, nb := range ranked[:min(n, numUsers)] {
		if nb.UserID == user {
			continue
		}
		out = append(out, nb)
	}
	return out
}

// PredictRating predicts the rating user would give item using its n
// nearest neighbours.
func (k *KNN) PredictRating(m *ratings.Matrix, user, item, n int) float64 {
	return predictFromNeighbors(m, user, item, k.Neighbors(m, user, n))
}

func predictFromNeighbors(m *ratings.Matrix, user, item int, neighbors []Neighbor) float64 {
	var weighted, weights float64
	contributors := 0
	for _, nb := range neighbors {
		r := m.Get(nb.UserID, item)
		if r <= presenceThreshold {
			continue
		}
		w := math.Abs(nb.Correlation)
		if w <= presenceThreshold {
			continue
		}
		weighted += w * r
		weights += w
		contributors++
	}

	if contributors > 0 && weights >= presenceThreshold {
		return weighted / weights
	}
	return fallbackRating(m, user, item)
}

// fallbackRating is the item average, else the user average, else the
// scale midpoint.
func fallbackRating(m *ratings.Matrix, user, item int) float64 {
	var sum float64
	count := 0
	for u := 0; u < m.Rows(); u++ {
		if r := m.Get(u, item); r > presenceThreshold {
			sum += r
			count++
		}
	}
	if count > 0 {
		return sum / float64(count)
	}

	for _, r := range m.RowView(user) {
		if r > presenceThreshold {
			sum += r
			count++
		}
	}
	if count > 0 {
		return sum / float64(count)
	}
	return neutralRating
}

// Recommend predicts every candidate item for user and returns at most
// limit predictions in item-id order. n is the neighbour count; a
// non-positive n uses the configured default.
func (k *KNN) Recommend(ctx context.Context, m *ratings.Matrix, user, n, limit int, allow CandidateFunc) ([]Prediction, error) {
	if user < 0 || user >= m.Rows() {
		return nil, nil
	}
	if n <= 0 {
		n = k.config.K
	}
	if allow == nil {
		allow = allowAll
	}

	neighbors := k.Neighbors(m, user, n)
	if ContextCancelled(ctx) {
		return nil, ctx.Err()
	}

	var out []Prediction
	for item := 0; item < m.Cols(); item++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !allow(item) {
			continue
		}
		out = append(out, Prediction{
			ItemID: item,
			Score:  predictFromNeighbors(m, user, item, neighbors),
		})
	}

	k.markTrained()
	return out, nil
}
