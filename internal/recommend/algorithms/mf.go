// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package algorithms

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
)

// ErrNoTrainingData is returned when there are no ratings to fit.
var ErrNoTrainingData = errors.New("no training data")

// rmseLogInterval is how often (in epochs) training error is logged.
const rmseLogInterval = 10

// MFConfig contains configuration for SGD matrix factorization.
type MFConfig struct {
	// Factors is the latent dimension.
	// Default: 10.
	Factors int

	// LearningRate is the SGD step size.
	// Default: 0.01.
	LearningRate float64

	// Regularization is the L2 penalty on factors and biases.
	// Default: 0.1.
	Regularization float64

	// Epochs is the number of passes over all ratings.
	// Default: 20.
	Epochs int

	// Seed for reproducible factor initialization.
	// If 0, uses a default seed.
	Seed int64
}

// DefaultMFConfig returns default matrix factorization configuration.
func DefaultMFConfig() MFConfig {
	return MFConfig{
		Factors:        10,
		LearningRate:   0.01,
		Regularization: 0.1,
		Epochs:         20,
		Seed:           42,
	}
}

// Model is a trained factorization. It is immutable after Train returns.
type Model struct {
	// U is numUsers x Factors, V is numItems x Factors.
	U *ratings.Matrix
	V *ratings.Matrix

	UserBias []float64
	ItemBias []float64

	// Generation is the store generation the model was trained on.
	Generation uint64

	// RMSE is the training error of the final epoch.
	RMSE float64

	TrainedAt time.Time

	predicted *ratings.Matrix
}

// NumUsers returns the user dimension of the model.
func (m *Model) NumUsers() int { return m.U.Rows() }

// NumItems returns the item dimension of the model.
func (m *Model) NumItems() int { return m.V.Rows() }

// Predict returns bias_u + bias_i + dot(U_u, V_i). Out-of-range ids give 0.
func (m *Model) Predict(u, i int) float64 {
	if u < 0 || u >= m.NumUsers() || i < 0 || i >= m.NumItems() {
		return 0
	}
	return m.UserBias[u] + m.ItemBias[i] + dot(m.U.RowView(u), m.V.RowView(i))
}

// Predicted returns the dense matrix R = U·Vᵀ + bias_u + bias_i.
func (m *Model) Predicted() *ratings.Matrix {
	return m.predicted
}

func (m *Model) materialize() {
	vt := m.V.Transpose()
	factors := m.U.Cols()
	r := ratings.NewMatrix(m.NumUsers(), m.NumItems())
	for u := 0; u < m.NumUsers(); u++ {
		urow := m.U.RowView(u)
		for i := 0; i < m.NumItems(); i++ {
			var sum float64
			for s := 0; s < factors; s++ {
				sum += urow[s] * vt.Get(s, i)
			}
			r.Set(u, i, sum+m.UserBias[u]+m.ItemBias[i])
		}
	}
	m.predicted = r
}

// MatrixFactorization learns latent user and item factors with biases by
// stochastic gradient descent over the explicit ratings.
//
// For each rating (u, i, r) and e = r - predict(u, i):
//
//	bias_u += alpha * (e - lambda * bias_u)
//	bias_i += alpha * (e - lambda * bias_i)
//	U[u][s] += alpha * (e * V[i][s] - lambda * U[u][s])
//	V[i][s] += alpha * (e * U[u][s] - lambda * V[i][s])
//
// where both factor updates read the pre-update U[u][s].
type MatrixFactorization struct {
	BaseAlgorithm
	config MFConfig
	logger zerolog.Logger
}

// NewMatrixFactorization creates a matrix factorization trainer.
func NewMatrixFactorization(cfg MFConfig) *MatrixFactorization {
	def := DefaultMFConfig()
	if cfg.Factors <= 0 {
		cfg.Factors = def.Factors
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.Regularization < 0 {
		cfg.Regularization = def.Regularization
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = def.Epochs
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}

	return &MatrixFactorization{
		BaseAlgorithm: NewBaseAlgorithm("mf"),
		config:        cfg,
		logger:        logging.WithComponent("mf"),
	}
}

// Config returns the active configuration.
func (mf *MatrixFactorization) Config() MFConfig {
	return mf.config
}

// TrainSnapshot fits a model on every rating of the snapshot, in ingest order.
func (mf *MatrixFactorization) TrainSnapshot(ctx context.Context, v *ratings.Snapshot) (*Model, error) {
	model, err := mf.Train(ctx, v.NumUsers(), v.NumItems(), v.Ratings())
	if err != nil {
		return nil, err
	}
	model.Generation = v.Generation()
	return model, nil
}

// Train fits a model of numUsers x numItems on data. Identical inputs and
// seed produce identical models.
//
//nolint:gocritic // rangeValCopy: Rating is small and read-only here
func (mf *MatrixFactorization) Train(ctx context.Context, numUsers, numItems int, data []ratings.Rating) (*Model, error) {
	if numUsers <= 0 || numItems <= 0 || len(data) == 0 {
		return nil, ErrNoTrainingData
	}

	start := time.Now()
	cfg := mf.config
	k := cfg.Factors
	alpha, lambda := cfg.LearningRate, cfg.Regularization

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // deterministic initialization, not security sensitive
	model := &Model{
		U:        randomFactors(rng, numUsers, k),
		V:        randomFactors(rng, numItems, k),
		UserBias: make([]float64, numUsers),
		ItemBias: make([]float64, numItems),
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if ContextCancelled(ctx) {
			return nil, ctx.Err()
		}

		var sqErr float64
		seen := 0
		for _, r := range data {
			u, i := int(r.UserID), int(r.ItemID)
			if u >= numUsers || i >= numItems {
				continue
			}
			urow := model.U.RowView(u)
			vrow := model.V.RowView(i)

			e := r.Value - (model.UserBias[u] + model.ItemBias[i] + dot(urow, vrow))
			sqErr += e * e
			seen++

			model.UserBias[u] += alpha * (e - lambda*model.UserBias[u])
			model.ItemBias[i] += alpha * (e - lambda*model.ItemBias[i])

			for s := 0; s < k; s++ {
				us := urow[s]
				model.U.Set(u, s, us+alpha*(e*vrow[s]-lambda*us))
				model.V.Set(i, s, vrow[s]+alpha*(e*us-lambda*vrow[s]))
			}
		}

		if seen > 0 {
			model.RMSE = math.Sqrt(sqErr / float64(seen))
		}
		if (epoch+1)%rmseLogInterval == 0 {
			mf.logger.Debug().
				Int("epoch", epoch+1).
				Int("epochs", cfg.Epochs).
				Float64("rmse", model.RMSE).
				Msg("mf training progress")
		}
	}

	model.materialize()
	model.TrainedAt = time.Now()
	mf.markTrained()

	elapsed := time.Since(start)
	metrics.RecordMFTraining(elapsed)
	mf.logger.Info().
		Int("users", numUsers).
		Int("items", numItems).
		Int("ratings", len(data)).
		Float64("rmse", model.RMSE).
		Dur("duration", elapsed).
		Msg("mf model trained")

	return model, nil
}

// Recommend reads the predicted rating of every candidate item for user
// and returns at most limit predictions in item-id order.
func (mf *MatrixFactorization) Recommend(model *Model, user, limit int, allow CandidateFunc) []Prediction {
	if model == nil || user < 0 || user >= model.NumUsers() {
		return nil
	}
	if allow == nil {
		allow = allowAll
	}

	r := model.Predicted()
	var out []Prediction
	for item := 0; item < model.NumItems(); item++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !allow(item) {
			continue
		}
		out = append(out, Prediction{ItemID: item, Score: r.Get(user, item)})
	}
	return out
}

func randomFactors(rng *rand.Rand, rows, cols int) *ratings.Matrix {
	m := ratings.NewMatrix(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.Set(r, c, rng.Float64()*0.1)
		}
	}
	return m
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
