// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package ratings owns the ground-truth rating records and the dense
// user x item cache the recommenders read from.
//
// Every mutation and every read used for a prediction happens under one
// exclusive lock, so a recommender always sees a user's row and an item's
// column totals from the same instant.
package ratings

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/validation"
)

// NoCategory marks a rating or item without a known category.
const NoCategory int32 = -1

// Rating scale bounds.
const (
	MinRating = 0.0
	MaxRating = 5.0
)

var (
	// ErrStoreFull is returned when the store already holds MaxRatings records.
	ErrStoreFull = errors.New("rating store is full")

	// ErrInvalidRating is returned when a record fails validation.
	ErrInvalidRating = errors.New("invalid rating")
)

// Rating is one immutable user-item rating record.
type Rating struct {
	UserID     uint32  `json:"user_id"`
	ItemID     uint32  `json:"item_id"`
	CategoryID int32   `json:"category_id" validate:"gte=-1"`
	Value      float64 `json:"rating" validate:"gte=0,lte=5"`
	Timestamp  float64 `json:"timestamp,omitempty"`
}

// Limits bounds the store dimensions.
type Limits struct {
	MaxRatings int
	MaxUsers   int
	MaxItems   int
}

// DefaultLimits returns the historical store bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxRatings: 10000,
		MaxUsers:   1000,
		MaxItems:   1000,
	}
}

// cell is one entry of the user x item cache. ok distinguishes an
// explicit 0.0 rating from an unrated cell.
type cell struct {
	value float64
	ok    bool
}

// Store is the shared, lock-protected rating store.
type Store struct {
	mu sync.Mutex

	limits  Limits
	ratings []Rating

	// cache[u][i]; rows grow up to numUsers and columns up to numItems lazily.
	cache      [][]cell
	categories map[uint32]int32
	numUsers   int
	numItems   int
	ratedCells int

	// generation changes on every mutation so derived models can detect staleness.
	generation uint64

	// sequence numbers accepted records in apply order. It survives Reset.
	sequence uint64

	publisher Publisher
	logger    zerolog.Logger
}

// Batch is a run of accepted records in apply order. The record at index n
// was assigned sequence FirstSeq+n.
type Batch struct {
	FirstSeq   uint64   `json:"first_seq"`
	Generation uint64   `json:"generation"`
	Ratings    []Rating `json:"ratings"`
}

// LastSeq returns the sequence of the final record in b.
func (b Batch) LastSeq() uint64 {
	if len(b.Ratings) == 0 {
		return b.FirstSeq
	}
	return b.FirstSeq + uint64(len(b.Ratings)) - 1
}

// Publisher receives every batch the store accepts.
type Publisher interface {
	PublishBatch(batch Batch) error
}

// NewStore creates an empty store. Non-positive limits fall back to DefaultLimits.
func NewStore(limits Limits) *Store {
	def := DefaultLimits()
	if limits.MaxRatings <= 0 {
		limits.MaxRatings = def.MaxRatings
	}
	if limits.MaxUsers <= 0 {
		limits.MaxUsers = def.MaxUsers
	}
	if limits.MaxItems <= 0 {
		limits.MaxItems = def.MaxItems
	}

	return &Store{
		limits:     limits,
		ratings:    make([]Rating, 0, min(limits.MaxRatings, 1024)),
		categories: make(map[uint32]int32),
		logger:     logging.WithComponent("ratings"),
	}
}

// Limits returns the configured bounds.
func (s *Store) Limits() Limits {
	return s.limits
}

// SetPublisher routes accepted batches to p. Publishing happens after the
// store lock is released; the batch sequence carries the apply order.
func (s *Store) SetPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// Sequence returns the sequence assigned to the most recently accepted record.
func (s *Store) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// AdvanceSequence moves the sequence counter forward to at least seq, so
// records accepted afterwards sort after an already persisted history.
func (s *Store) AdvanceSequence(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.sequence {
		s.sequence = seq
	}
}

// Validate checks a record against the rating scale and the store bounds.
func (s *Store) Validate(r Rating) error {
	if verr := validation.ValidateStruct(&r); verr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRating, verr.Error())
	}
	if int(r.UserID) >= s.limits.MaxUsers {
		return fmt.Errorf("%w: user_id %d exceeds limit %d", ErrInvalidRating, r.UserID, s.limits.MaxUsers)
	}
	if int(r.ItemID) >= s.limits.MaxItems {
		return fmt.Errorf("%w: item_id %d exceeds limit %d", ErrInvalidRating, r.ItemID, s.limits.MaxItems)
	}
	return nil
}

// Reset clears all ratings and marks every cell unrated.
func (s *Store) Reset() {
	s.mu.Lock()
	s.ratings = s.ratings[:0]
	s.cache = nil
	s.categories = make(map[uint32]int32)
	s.numUsers = 0
	s.numItems = 0
	s.ratedCells = 0
	s.generation++
	s.mu.Unlock()

	metrics.UpdateStoreGauges(0, 0, 0)
	s.logger.Info().Msg("rating store reset")
}

// IngestBulk loads records, skipping invalid ones, until the store is full.
// Returns the number of records actually loaded.
func (s *Store) IngestBulk(records []Rating) int {
	accepted := make([]Rating, 0, len(records))
	skipped := 0

	s.mu.Lock()
	full := false
	for _, r := range records {
		if len(s.ratings) >= s.limits.MaxRatings {
			full = true
			break
		}
		if err := s.Validate(r); err != nil {
			skipped++
			continue
		}
		s.applyLocked(r)
		accepted = append(accepted, r)
	}
	batch := s.sealLocked(accepted)
	stats := s.statsLocked()
	publisher := s.publisher
	s.mu.Unlock()

	metrics.UpdateStoreGauges(stats.Ratings, stats.Users, stats.Items)

	level := zerolog.InfoLevel
	if skipped > 0 || full {
		level = zerolog.WarnLevel
	}
	s.logger.WithLevel(level).
		Int("loaded", len(accepted)).
		Int("skipped", skipped).
		Int("dropped", len(records)-len(accepted)-skipped).
		Bool("full", full).
		Int("total", stats.Ratings).
		Msg("bulk ingest completed")

	s.publish(publisher, batch)
	return len(accepted)
}

// IngestOne adds a single rating. It returns false, leaving the store
// untouched, when the record is invalid or the store is full.
func (s *Store) IngestOne(userID, itemID uint32, categoryID int32, value float64) bool {
	return s.Add(Rating{UserID: userID, ItemID: itemID, CategoryID: categoryID, Value: value}) == nil
}

// Add is IngestOne with a full record and a descriptive error.
func (s *Store) Add(r Rating) error {
	if err := s.Validate(r); err != nil {
		return err
	}

	s.mu.Lock()
	if len(s.ratings) >= s.limits.MaxRatings {
		s.mu.Unlock()
		return ErrStoreFull
	}
	s.applyLocked(r)
	batch := s.sealLocked([]Rating{r})
	stats := s.statsLocked()
	publisher := s.publisher
	s.mu.Unlock()

	metrics.UpdateStoreGauges(stats.Ratings, stats.Users, stats.Items)
	s.publish(publisher, batch)
	return nil
}

// applyLocked appends r and updates the cache and high-water marks.
// Must be called with s.mu held and r already validated.
func (s *Store) applyLocked(r Rating) {
	s.ratings = append(s.ratings, r)

	u, i := int(r.UserID), int(r.ItemID)
	if u >= s.numUsers {
		s.numUsers = u + 1
	}
	if i >= s.numItems {
		s.numItems = i + 1
	}

	for len(s.cache) <= u {
		s.cache = append(s.cache, nil)
	}
	row := s.cache[u]
	if len(row) <= i {
		grown := make([]cell, i+1)
		copy(grown, row)
		row = grown
		s.cache[u] = row
	}
	if !row[i].ok {
		s.ratedCells++
	}
	row[i] = cell{value: r.Value, ok: true}

	if r.CategoryID != NoCategory {
		s.categories[r.ItemID] = r.CategoryID
	}
}

// sealLocked assigns sequence numbers to records just applied and bumps
// the generation. Must be called with s.mu held.
func (s *Store) sealLocked(accepted []Rating) Batch {
	if len(accepted) == 0 {
		return Batch{}
	}
	s.generation++
	b := Batch{
		FirstSeq:   s.sequence + 1,
		Generation: s.generation,
		Ratings:    accepted,
	}
	s.sequence += uint64(len(accepted))
	return b
}

func (s *Store) publish(p Publisher, b Batch) {
	if p == nil || len(b.Ratings) == 0 {
		return
	}
	if err := p.PublishBatch(b); err != nil {
		s.logger.Warn().
			Err(err).
			Uint64("first_seq", b.FirstSeq).
			Int("ratings", len(b.Ratings)).
			Msg("failed to publish ingested ratings")
	}
}

// ratingOfLocked returns the cached rating for (u, i). Must be called with s.mu held.
func (s *Store) ratingOfLocked(u, i int) (float64, bool) {
	if u < 0 || i < 0 || u >= len(s.cache) {
		return 0, false
	}
	row := s.cache[u]
	if i >= len(row) || !row[i].ok {
		return 0, false
	}
	return row[i].value, true
}

// IsRated reports whether user u has rated item i.
func (s *Store) IsRated(u, i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ratingOfLocked(u, i)
	return ok
}

// RatingOf returns the rating user u gave item i, if any.
func (s *Store) RatingOf(u, i int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratingOfLocked(u, i)
}

// SnapshotMatrix materializes a NumUsers x NumItems matrix with 0.0 for
// unrated cells, taken atomically under the store lock.
func (s *Store) SnapshotMatrix() *Matrix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matrixLocked()
}

func (s *Store) matrixLocked() *Matrix {
	m := NewMatrix(s.numUsers, s.numItems)
	for u, row := range s.cache {
		for i, c := range row {
			if c.ok {
				m.Set(u, i, c.value)
			}
		}
	}
	return m
}

// Ratings returns a copy of the rating sequence in ingest order.
func (s *Store) Ratings() []Rating {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rating, len(s.ratings))
	copy(out, s.ratings)
	return out
}

// Generation returns the current mutation counter.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Stats describes the store contents.
type Stats struct {
	Ratings    int     `json:"ratings"`
	Users      int     `json:"users"`
	Items      int     `json:"items"`
	RatedCells int     `json:"rated_cells"`
	Categories int     `json:"categories"`
	Sparsity   float64 `json:"sparsity"`
	Generation uint64  `json:"generation"`
	Capacity   int     `json:"capacity"`
}

// Stats returns a consistent summary of the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	st := Stats{
		Ratings:    len(s.ratings),
		Users:      s.numUsers,
		Items:      s.numItems,
		RatedCells: s.ratedCells,
		Categories: len(s.categories),
		Generation: s.generation,
		Capacity:   s.limits.MaxRatings,
	}
	if cells := s.numUsers * s.numItems; cells > 0 {
		st.Sparsity = 1 - float64(s.ratedCells)/float64(cells)
	}
	return st
}

// WithSnapshot runs fn with exclusive access to a read-only view of the store.
// fn must not call back into the Store.
func (s *Store) WithSnapshot(fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Snapshot{store: s})
}
