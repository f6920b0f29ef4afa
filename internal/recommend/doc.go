// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package recommend dispatches recommendation requests to the rating
// predictors in the algorithms subpackage.
//
// # Architecture
//
// The Engine owns one instance of each algorithm and reads the shared
// ratings.Store through WithSnapshot, so a single request never observes
// a partially applied ingest:
//
//   - AlgorithmKNN (wire tag 1): user-based collaborative filtering
//   - AlgorithmMF (wire tag 2): SGD matrix factorization
//   - AlgorithmGraph (wire tag 3): PageRank over the user-item graph
//
// Any other tag resolves to AlgorithmUnknown and an empty result.
//
// # Caching
//
// The trained factorization model is kept between requests and tagged with
// the store generation it was trained on. Every ingest event delivered to
// HandleBatch drops it together with the result cache; results are also
// keyed by generation, so a late event never serves stale data. PruneCache
// drops expired results. Setting Config.RetrainPerRequest trains a fresh
// model for every MF request.
//
// # Usage
//
//	store := ratings.NewStore(ratings.DefaultLimits())
//	engine, err := recommend.NewEngine(store, recommend.DefaultConfig(), logger)
//	if err != nil {
//	    return err
//	}
//
//	results, err := engine.Recommend(ctx, recommend.NewRequest(0, recommend.AlgorithmKNN, 5, 10))
//
// # Thread Safety
//
// The engine is safe for concurrent use. Predictions run inside the store
// lock; the model cache has its own mutex which is only taken while the
// store lock is held, never the other way round.
package recommend
