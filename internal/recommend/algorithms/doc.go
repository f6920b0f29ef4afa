// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package algorithms implements the three rating predictors used by the
// recommendation engine.
//
// # Algorithms
//
//   - KNN: user-based collaborative filtering over Pearson correlation
//     (mean-centred by default, single-pass variant available)
//   - MatrixFactorization: biased latent factor model trained by SGD
//   - PageRank: power iteration over the undirected user-item graph
//
// Every algorithm reads a ratings.Matrix or ratings.Snapshot and never
// touches the store directly; the caller is responsible for holding the
// store lock for the duration of a call.
//
// # Output Order
//
// KNN and MatrixFactorization emit predictions in item-id order, stopping
// at the result limit. PageRank emits items by descending score with
// item-id order breaking ties.
//
// # Candidate Filtering
//
// All Recommend methods accept a CandidateFunc. The engine uses it to drop
// items the user already rated and to apply the category filter before
// the result limit is enforced:
//
//	preds, err := knn.Recommend(ctx, m, user, k, limit, func(item int) bool {
//	    return !snap.IsRated(user, item)
//	})
//
// # Determinism
//
// MatrixFactorization seeds its own math/rand source; two trainings with
// the same seed on the same rating sequence produce identical models.
//
// # Evaluation
//
// Evaluate reports MAE and RMSE between an actual and a predicted matrix
// over the cells where both are non-zero.
package algorithms
