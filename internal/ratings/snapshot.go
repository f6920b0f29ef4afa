// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package ratings

// Snapshot is a read-only view of a Store, valid only inside the
// WithSnapshot callback that produced it.
type Snapshot struct {
	store  *Store
	matrix *Matrix
}

// NumUsers returns the user dimension (max user id + 1).
func (v *Snapshot) NumUsers() int { return v.store.numUsers }

// NumItems returns the item dimension (max item id + 1).
func (v *Snapshot) NumItems() int { return v.store.numItems }

// Generation returns the store mutation counter at the time of the snapshot.
func (v *Snapshot) Generation() uint64 { return v.store.generation }

// Matrix returns the dense rating matrix, 0.0 for unrated cells.
// It is built on first use and shared by later calls on the same snapshot.
func (v *Snapshot) Matrix() *Matrix {
	if v.matrix == nil {
		v.matrix = v.store.matrixLocked()
	}
	return v.matrix
}

// IsRated reports whether user u has rated item i.
func (v *Snapshot) IsRated(u, i int) bool {
	_, ok := v.store.ratingOfLocked(u, i)
	return ok
}

// RatingOf returns the rating user u gave item i, if any.
func (v *Snapshot) RatingOf(u, i int) (float64, bool) {
	return v.store.ratingOfLocked(u, i)
}

// Category returns the last known category of item i.
func (v *Snapshot) Category(i int) (int32, bool) {
	if i < 0 {
		return NoCategory, false
	}
	c, ok := v.store.categories[uint32(i)]
	if !ok {
		return NoCategory, false
	}
	return c, true
}

// Ratings returns the rating sequence in ingest order. The slice aliases
// store memory and must not be modified or retained past the callback.
func (v *Snapshot) Ratings() []Rating {
	return v.store.ratings
}

// Cells calls fn for every rated cell, the last written value for
// duplicate (user, item) pairs, in user then item order.
func (v *Snapshot) Cells(fn func(u, i int, value float64)) {
	for u, row := range v.store.cache {
		for i, c := range row {
			if c.ok {
				fn(u, i, c.value)
			}
		}
	}
}
