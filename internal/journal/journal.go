// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package journal persists ingested ratings in BadgerDB so the store can be
// rebuilt after a restart.
//
// Every batch accepted by the rating store is stored under the store's own
// sequence numbers, so Replay feeds records back in the order the store
// applied them even when batches reach the journal out of order. Writes go
// through a circuit breaker so a failing disk degrades to in-memory
// operation instead of stalling ingest.
//
// Replay must run before the journal subscribes to ingest events,
// otherwise replayed ratings would be written a second time:
//
//	j, err := journal.Open(cfg, logger)
//	n, err := j.Replay(ctx, func(batch []ratings.Rating) error {
//	    store.IngestBulk(batch)
//	    return nil
//	})
//	store.AdvanceSequence(j.LastSequence())
//	bus.Subscribe("journal", j.HandleBatch)
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
)

var (
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal closed")

	// ErrCorruptEntry is returned by Replay for an undecodable record.
	ErrCorruptEntry = errors.New("corrupt journal entry")
)

// keyPrefix namespaces rating entries; the suffix is a big-endian sequence.
var keyPrefix = []byte("rating:")

const replayBatchSize = 1000

// Config holds journal settings.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every append.
	SyncWrites bool

	// GCRatio is the value log discard ratio for RunGC.
	GCRatio float64

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration

	// BreakerFailures consecutive write failures open the circuit.
	BreakerFailures uint32

	// BreakerTimeout is how long the circuit stays open before probing.
	BreakerTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:            "./data/journal",
		SyncWrites:      true,
		GCRatio:         0.5,
		CloseTimeout:    30 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// record is the stored form of a rating.
type record struct {
	UserID     uint32    `json:"u"`
	ItemID     uint32    `json:"i"`
	CategoryID int32     `json:"c"`
	Value      float64   `json:"r"`
	Timestamp  float64   `json:"t,omitempty"`
	WrittenAt  time.Time `json:"w"`
}

// Stats describes journal activity.
type Stats struct {
	LastSequence  uint64 `json:"last_sequence"`
	Writes        int64  `json:"writes"`
	Failures      int64  `json:"failures"`
	Rejected      int64  `json:"rejected"`
	BreakerState  string `json:"breaker_state"`
	LSMSizeBytes  int64  `json:"lsm_size_bytes"`
	VLogSizeBytes int64  `json:"vlog_size_bytes"`
}

// Journal is an append-only rating log backed by BadgerDB.
type Journal struct {
	db      *badger.DB
	config  Config
	logger  zerolog.Logger
	breaker *gobreaker.CircuitBreaker[struct{}]

	seq atomic.Uint64

	writes   atomic.Int64
	failures atomic.Int64
	rejected atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the journal.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func Open(cfg Config, logger zerolog.Logger) (*Journal, error) {
	def := DefaultConfig()
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = def.GCRatio
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	j := &Journal{
		db:     db,
		config: cfg,
		logger: logger.With().Str("component", "journal").Logger(),
	}

	last, err := j.lastSequence()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read journal head: %w", err)
	}
	j.seq.Store(last)

	j.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "rating-journal",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			j.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("journal circuit breaker state changed")
		},
	})

	j.logger.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Uint64("last_sequence", last).
		Msg("journal opened")
	return j, nil
}

func encodeKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

func decodeKey(key []byte) (uint64, bool) {
	if len(key) != len(keyPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(keyPrefix):]), true
}

// lastSequence finds the highest sequence number on disk.
func (j *Journal) lastSequence() (uint64, error) {
	var last uint64
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the largest possible key of the prefix.
		seekKey := append(append([]byte{}, keyPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seekKey)
		if it.ValidForPrefix(keyPrefix) {
			if seq, ok := decodeKey(it.Item().Key()); ok {
				last = seq
			}
		}
		return nil
	})
	return last, err
}

func (j *Journal) checkOpen() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	return nil
}

// Append writes batch in one transaction, keyed by its sequence numbers.
// A batch without a FirstSeq gets fresh numbers after the current head.
// When the circuit is open the batch is rejected without touching the disk.
func (j *Journal) Append(ctx context.Context, b ratings.Batch) error {
	batch := b.Ratings
	if len(batch) == 0 {
		return nil
	}
	if err := j.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := j.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, j.write(b)
	})

	switch {
	case err == nil:
		j.writes.Add(int64(len(batch)))
		metrics.JournalWrites.WithLabelValues("ok").Add(float64(len(batch)))
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		j.rejected.Add(int64(len(batch)))
		metrics.JournalWrites.WithLabelValues("circuit_open").Add(float64(len(batch)))
		return fmt.Errorf("append %d ratings: %w", len(batch), err)
	default:
		j.failures.Add(int64(len(batch)))
		metrics.JournalWrites.WithLabelValues("error").Add(float64(len(batch)))
		return fmt.Errorf("append %d ratings: %w", len(batch), err)
	}
}

func (j *Journal) write(b ratings.Batch) error {
	batch := b.Ratings
	now := time.Now().UTC()
	wb := j.db.NewWriteBatch()
	defer wb.Cancel()

	// A failed batch leaves a gap in the key space, which Replay tolerates.
	first := b.FirstSeq
	if first == 0 {
		first = j.seq.Add(uint64(len(batch))) - uint64(len(batch)) + 1
	} else {
		j.advance(b.LastSeq())
	}

	for n, r := range batch {
		data, err := json.Marshal(record{
			UserID:     r.UserID,
			ItemID:     r.ItemID,
			CategoryID: r.CategoryID,
			Value:      r.Value,
			Timestamp:  r.Timestamp,
			WrittenAt:  now,
		})
		if err != nil {
			return fmt.Errorf("marshal rating: %w", err)
		}
		if err := wb.Set(encodeKey(first+uint64(n)), data); err != nil {
			return fmt.Errorf("stage rating: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write to BadgerDB: %w", err)
	}
	return nil
}

// advance raises the head sequence to at least seq.
func (j *Journal) advance(seq uint64) {
	for {
		cur := j.seq.Load()
		if seq <= cur || j.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// LastSequence returns the highest sequence written or reserved.
func (j *Journal) LastSequence() uint64 {
	return j.seq.Load()
}

// HandleBatch appends an ingest event. Failures are logged and swallowed;
// the in-memory store stays authoritative.
func (j *Journal) HandleBatch(ctx context.Context, b ratings.Batch) error {
	if err := j.Append(ctx, b); err != nil && !errors.Is(err, ErrClosed) {
		j.logger.Warn().
			Err(err).
			Uint64("first_seq", b.FirstSeq).
			Int("ratings", len(b.Ratings)).
			Msg("failed to journal ratings")
	}
	return nil
}

// Replay calls fn with the journaled ratings in append order, in batches.
// It returns the number of ratings replayed.
func (j *Journal) Replay(ctx context.Context, fn func([]ratings.Rating) error) (int, error) {
	if err := j.checkOpen(); err != nil {
		return 0, err
	}

	start := time.Now()
	total := 0
	batch := make([]ratings.Rating, 0, replayBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			var rec record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("key %x: %w: %v", item.Key(), ErrCorruptEntry, err)
			}

			batch = append(batch, ratings.Rating{
				UserID:     rec.UserID,
				ItemID:     rec.ItemID,
				CategoryID: rec.CategoryID,
				Value:      rec.Value,
				Timestamp:  rec.Timestamp,
			})
			if len(batch) == replayBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})
	if err != nil {
		return total, fmt.Errorf("replay journal: %w", err)
	}

	j.logger.Info().
		Int("ratings", total).
		Dur("duration", time.Since(start)).
		Msg("journal replayed")
	return total, nil
}

// Truncate removes every journaled rating.
func (j *Journal) Truncate() error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	if err := j.db.DropPrefix(keyPrefix); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	j.seq.Store(0)
	j.logger.Info().Msg("journal truncated")
	return nil
}

// RunGC reclaims value log space until nothing is left to rewrite.
func (j *Journal) RunGC() error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	if j.config.InMemory {
		return nil
	}

	for {
		err := j.db.RunValueLogGC(j.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Stats returns journal counters.
func (j *Journal) Stats() Stats {
	st := Stats{
		LastSequence: j.seq.Load(),
		Writes:       j.writes.Load(),
		Failures:     j.failures.Load(),
		Rejected:     j.rejected.Load(),
		BreakerState: j.breaker.State().String(),
	}
	if j.checkOpen() == nil {
		st.LSMSizeBytes, st.VLogSizeBytes = j.db.Size()
	}
	return st
}

// Close flushes and closes the database, giving up after CloseTimeout.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- j.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		j.logger.Info().Msg("journal closed")
		return nil
	case <-time.After(j.config.CloseTimeout):
		j.logger.Warn().Dur("timeout", j.config.CloseTimeout).Msg("journal close timed out")
		return fmt.Errorf("journal close timeout after %v", j.config.CloseTimeout)
	}
}
