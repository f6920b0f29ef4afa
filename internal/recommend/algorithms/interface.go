// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package algorithms

import (
	"context"
	"sort"
	"sync"
	"time"
)

// presenceThreshold separates a rated cell from an unrated one in the
// dense encoding, where 0.0 stands for "no rating".
const presenceThreshold = 0.001

// Prediction is one scored item produced by an algorithm.
type Prediction struct {
	ItemID int
	Score  float64
}

// CandidateFunc reports whether an item may appear in the output.
// Callers use it to drop already rated items and apply category filters.
type CandidateFunc func(item int) bool

// BaseAlgorithm provides common functionality for all algorithms.
type BaseAlgorithm struct {
	name          string
	trained       bool
	version       int
	lastTrainedAt time.Time
	mu            sync.RWMutex
}

// NewBaseAlgorithm creates a new base algorithm with the given name.
func NewBaseAlgorithm(name string) BaseAlgorithm {
	return BaseAlgorithm{
		name: name,
	}
}

// Name returns the algorithm identifier.
func (b *BaseAlgorithm) Name() string {
	return b.name
}

// IsTrained returns whether the algorithm has completed at least one run.
func (b *BaseAlgorithm) IsTrained() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trained
}

// Version returns how many times the algorithm has been (re)trained.
func (b *BaseAlgorithm) Version() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// LastTrainedAt returns when the model was last trained.
func (b *BaseAlgorithm) LastTrainedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastTrainedAt
}

// markTrained updates the trained state.
func (b *BaseAlgorithm) markTrained() {
	b.mu.Lock()
	b.trained = true
	b.version++
	b.lastTrainedAt = time.Now()
	b.mu.Unlock()
}

// sortByScore orders predictions by score descending. Equal scores keep
// their original (item id) order.
func sortByScore(preds []Prediction) {
	sort.SliceStable(preds, func(a, b int) bool {
		return preds[a].Score > preds[b].Score
	})
}

// truncate caps preds at limit entries. A non-positive limit means no cap.
func truncate(preds []Prediction, limit int) []Prediction {
	if limit > 0 && len(preds) > limit {
		return preds[:limit]
	}
	return preds
}

// allowAll is the CandidateFunc used when the caller passes nil.
func allowAll(int) bool { return true }

// ContextCancelled checks if the context has been canceled.
func ContextCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
