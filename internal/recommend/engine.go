// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package recommend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/cache"
	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
	"github.com/InputOutputStream/recommandation-system/internal/recommend/algorithms"
)

// ErrNoModel is returned by Evaluate when there is nothing to train on.
var ErrNoModel = errors.New("no factorization model available")

// resultKey identifies a cached result. Keys embed the store generation,
// so any ingest makes older entries unreachable.
type resultKey struct {
	generation uint64
	req        Request
}

// Engine dispatches recommendation requests to the algorithms against a
// consistent snapshot of the rating store. It is safe for concurrent use.
type Engine struct {
	config *Config
	store  *ratings.Store
	logger zerolog.Logger

	knn      *algorithms.KNN
	mf       *algorithms.MatrixFactorization
	pagerank *algorithms.PageRank

	// model is the cached factorization, valid while its Generation
	// matches the store.
	modelMu sync.Mutex
	model   *algorithms.Model

	results *cache.LRU[resultKey, []Result]

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewEngine creates an engine over store. Wire HandleBatch to ingest
// events so cached models are dropped as soon as data changes.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngine(store *ratings.Store, cfg *Config, logger zerolog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("rating store is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	knnCfg := cfg.KNN
	if knnCfg.K <= 0 {
		knnCfg.K = cfg.Limits.DefaultK
	}

	e := &Engine{
		config:   cfg,
		store:    store,
		logger:   logger.With().Str("component", "recommend").Logger(),
		knn:      algorithms.NewKNN(knnCfg),
		mf:       algorithms.NewMatrixFactorization(cfg.MF),
		pagerank: algorithms.NewPageRank(cfg.PageRank),
	}
	if cfg.Cache.Size > 0 {
		e.results = cache.NewLRU[resultKey, []Result](cfg.Cache.Size, cfg.Cache.TTL)
	}

	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// Recommend produces at most req.NumRecommendations results for the user.
// Unknown algorithms and users outside the store yield an empty result.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) Recommend(ctx context.Context, req Request) ([]Result, error) {
	start := time.Now()
	e.requestCount.Add(1)

	req = e.prepareRequest(req)
	logger := e.createRequestLogger(ctx, req)

	if req.Algorithm == AlgorithmUnknown {
		logger.Debug().Msg("unknown algorithm, returning no recommendations")
		metrics.RecordRequest(req.Algorithm.String(), "empty", time.Since(start))
		return nil, nil
	}

	var results []Result
	err := e.store.WithSnapshot(func(v *ratings.Snapshot) error {
		if req.UserID < 0 || req.UserID >= v.NumUsers() {
			logger.Debug().Int("num_users", v.NumUsers()).Msg("user outside store")
			return nil
		}

		key := resultKey{generation: v.Generation(), req: req}
		if cached, ok := e.cachedResults(key); ok {
			results = cached
			return nil
		}

		preds, err := e.dispatch(ctx, v, req)
		if err != nil {
			return err
		}
		results = toResults(v, preds)
		e.cacheResults(key, results)
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		e.errorCount.Add(1)
		metrics.RecordRequest(req.Algorithm.String(), "error", elapsed)
		logger.Warn().Err(err).Msg("recommendation failed")
		return nil, fmt.Errorf("recommend %s: %w", req.Algorithm, err)
	}

	status := "ok"
	if len(results) == 0 {
		status = "empty"
	}
	metrics.RecordRequest(req.Algorithm.String(), status, elapsed)

	logger.Debug().
		Int("returned", len(results)).
		Dur("latency", elapsed).
		Msg("recommendation complete")

	return slices.Clone(results), nil
}

// prepareRequest applies defaults and clamps the result count.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) prepareRequest(req Request) Request {
	if req.K <= 0 {
		req.K = e.config.Limits.DefaultK
	}
	if req.NumRecommendations < 1 {
		req.NumRecommendations = 1
	}
	if req.NumRecommendations > e.config.Limits.MaxRecommendations {
		req.NumRecommendations = e.config.Limits.MaxRecommendations
	}
	if req.CategoryFilter < 0 {
		req.CategoryFilter = ratings.NoCategory
	}
	if _, ok := ParseAlgorithm(int(req.Algorithm)); !ok {
		req.Algorithm = AlgorithmUnknown
	}
	return req
}

// createRequestLogger creates a logger with request context.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) createRequestLogger(ctx context.Context, req Request) zerolog.Logger {
	logCtx := e.logger.With().
		Int("user_id", req.UserID).
		Str("algorithm", req.Algorithm.String()).
		Int("k", req.K).
		Int("num", req.NumRecommendations)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if req.HasCategoryFilter() {
		logCtx = logCtx.Int32("category", req.CategoryFilter)
	}
	return logCtx.Logger()
}

// dispatch runs the selected algorithm. Must be called inside WithSnapshot.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) dispatch(ctx context.Context, v *ratings.Snapshot, req Request) ([]algorithms.Prediction, error) {
	allow := candidateFilter(v, req)

	switch req.Algorithm {
	case AlgorithmKNN:
		return e.knn.Recommend(ctx, v.Matrix(), req.UserID, req.K, req.NumRecommendations, allow)

	case AlgorithmMF:
		model, err := e.modelFor(ctx, v)
		if err != nil {
			return nil, err
		}
		return e.mf.Recommend(model, req.UserID, req.NumRecommendations, allow), nil

	case AlgorithmGraph:
		rank, err := e.pagerank.Run(ctx, algorithms.NewGraph(v.Matrix()), nil)
		if err != nil {
			return nil, err
		}
		if !rank.Converged() {
			e.logger.Debug().
				Int("iterations", rank.Iterations()).
				Msg("pagerank stopped at iteration cap before converging")
		}
		return e.pagerank.Recommend(rank, req.UserID, req.NumRecommendations, allow), nil

	default:
		return nil, nil
	}
}

// candidateFilter admits items the user has not rated and, when a filter
// is set, whose known category matches it.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func candidateFilter(v *ratings.Snapshot, req Request) algorithms.CandidateFunc {
	return func(item int) bool {
		if v.IsRated(req.UserID, item) {
			return false
		}
		if !req.HasCategoryFilter() {
			return true
		}
		cat, ok := v.Category(item)
		return ok && cat == req.CategoryFilter
	}
}

func toResults(v *ratings.Snapshot, preds []algorithms.Prediction) []Result {
	if len(preds) == 0 {
		return nil
	}
	out := make([]Result, len(preds))
	for i, p := range preds {
		cat, _ := v.Category(p.ItemID)
		out[i] = Result{
			ItemID:          p.ItemID,
			CategoryID:      cat,
			PredictedRating: p.Score,
		}
	}
	return out
}

// modelFor returns a factorization model trained on the snapshot,
// reusing the cached one while the store has not changed.
// Must be called inside WithSnapshot.
func (e *Engine) modelFor(ctx context.Context, v *ratings.Snapshot) (*algorithms.Model, error) {
	if e.config.RetrainPerRequest {
		return e.mf.TrainSnapshot(ctx, v)
	}

	e.modelMu.Lock()
	defer e.modelMu.Unlock()

	if e.model != nil && e.model.Generation == v.Generation() {
		metrics.RecordMFCache(true)
		return e.model, nil
	}
	metrics.RecordMFCache(false)

	model, err := e.mf.TrainSnapshot(ctx, v)
	if err != nil {
		return nil, err
	}
	e.model = model
	return model, nil
}

// RefreshModel retrains the cached factorization if the store changed
// since the last training. It reports whether a training ran.
func (e *Engine) RefreshModel(ctx context.Context) (bool, error) {
	if e.config.RetrainPerRequest {
		return false, nil
	}

	trained := false
	err := e.store.WithSnapshot(func(v *ratings.Snapshot) error {
		if v.NumUsers() == 0 {
			return nil
		}

		e.modelMu.Lock()
		fresh := e.model != nil && e.model.Generation == v.Generation()
		e.modelMu.Unlock()
		if fresh {
			return nil
		}

		if _, err := e.modelFor(ctx, v); err != nil {
			return err
		}
		trained = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("refresh model: %w", err)
	}
	return trained, nil
}

// Evaluate reports the training-set accuracy of the factorization model
// against the current ratings.
func (e *Engine) Evaluate(ctx context.Context) (algorithms.Accuracy, error) {
	var acc algorithms.Accuracy
	err := e.store.WithSnapshot(func(v *ratings.Snapshot) error {
		if v.NumUsers() == 0 {
			return ErrNoModel
		}
		model, err := e.modelFor(ctx, v)
		if err != nil {
			return err
		}
		acc = algorithms.Evaluate(v.Matrix(), model.Predicted())
		return nil
	})
	return acc, err
}

// HandleBatch is the ingest event handler: any accepted rating makes the
// cached model and results stale.
func (e *Engine) HandleBatch(_ context.Context, _ ratings.Batch) error {
	e.Invalidate()
	return nil
}

// PruneCache drops expired result cache entries and returns how many went.
func (e *Engine) PruneCache() int {
	if e.results == nil {
		return 0
	}
	return e.results.CleanupExpired()
}

// Invalidate drops the cached model and every cached result.
func (e *Engine) Invalidate() {
	e.modelMu.Lock()
	e.model = nil
	e.modelMu.Unlock()

	if e.results != nil {
		e.results.Clear()
	}
}

func (e *Engine) cachedResults(key resultKey) ([]Result, bool) {
	if e.results == nil {
		return nil, false
	}
	return e.results.Get(key)
}

func (e *Engine) cacheResults(key resultKey, results []Result) {
	if e.results == nil || key.req.Algorithm == AlgorithmMF && e.config.RetrainPerRequest {
		return
	}
	e.results.Add(key, results)
}

// Stats returns request counters and the cached model state.
func (e *Engine) Stats() Stats {
	st := Stats{
		Requests: e.requestCount.Load(),
		Errors:   e.errorCount.Load(),
	}
	if e.results != nil {
		st.CacheHits, st.CacheMisses, st.CacheSize = e.results.Stats()
	}

	e.modelMu.Lock()
	if e.model != nil {
		st.ModelTrained = true
		st.ModelGeneration = e.model.Generation
		st.ModelRMSE = e.model.RMSE
		st.ModelTrainedAtUTC = e.model.TrainedAt.UTC().Format(time.RFC3339)
	}
	e.modelMu.Unlock()

	return st
}
