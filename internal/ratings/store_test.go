// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package ratings

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestStore_IngestBulk_MatchesSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	records := []Rating{
		{UserID: 0, ItemID: 0, CategoryID: 1, Value: 4.0},
		{UserID: 0, ItemID: 2, CategoryID: 2, Value: 0.0},
		{UserID: 1, ItemID: 0, CategoryID: 1, Value: 3.5},
		{UserID: 1, ItemID: 1, CategoryID: NoCategory, Value: 5.0},
		{UserID: 3, ItemID: 4, CategoryID: 7, Value: 1.5},
	}

	if got := s.IngestBulk(records); got != len(records) {
		t.Fatalf("IngestBulk() = %d, want %d", got, len(records))
	}

	m := s.SnapshotMatrix()
	rows, cols := m.Shape()
	if rows != 4 || cols != 5 {
		t.Fatalf("Shape() = (%d, %d), want (4, 5)", rows, cols)
	}

	rated := 0
	for u := 0; u < rows; u++ {
		for i := 0; i < cols; i++ {
			if s.IsRated(u, i) {
				rated++
			}
		}
	}
	if rated != len(records) {
		t.Errorf("rated cells = %d, want %d", rated, len(records))
	}

	for _, r := range records {
		if got := m.Get(int(r.UserID), int(r.ItemID)); got != r.Value {
			t.Errorf("matrix(%d,%d) = %v, want %v", r.UserID, r.ItemID, got, r.Value)
		}
		v, ok := s.RatingOf(int(r.UserID), int(r.ItemID))
		if !ok || v != r.Value {
			t.Errorf("RatingOf(%d,%d) = (%v, %v), want (%v, true)", r.UserID, r.ItemID, v, ok, r.Value)
		}
	}

	// A zero rating is rated, not absent.
	if !s.IsRated(0, 2) {
		t.Error("IsRated(0, 2) = false, want true for explicit 0.0 rating")
	}
	if s.IsRated(2, 0) {
		t.Error("IsRated(2, 0) = true, want false")
	}

	st := s.Stats()
	if st.RatedCells != len(records) || st.Ratings != len(records) {
		t.Errorf("Stats() = %+v, want %d rated cells and ratings", st, len(records))
	}
	wantSparsity := 1 - 5.0/20.0
	if math.Abs(st.Sparsity-wantSparsity) > 1e-12 {
		t.Errorf("Sparsity = %v, want %v", st.Sparsity, wantSparsity)
	}
}

func TestStore_IngestBulk_LastWriteWins(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	s.IngestBulk([]Rating{
		{UserID: 2, ItemID: 3, CategoryID: 1, Value: 1.0},
		{UserID: 2, ItemID: 3, CategoryID: 1, Value: 4.5},
	})

	v, ok := s.RatingOf(2, 3)
	if !ok || v != 4.5 {
		t.Errorf("RatingOf(2,3) = (%v, %v), want (4.5, true)", v, ok)
	}
	if st := s.Stats(); st.RatedCells != 1 || st.Ratings != 2 {
		t.Errorf("Stats() = %+v, want 1 rated cell and 2 ratings", st)
	}
}

func TestStore_IngestBulk_SkipsInvalid(t *testing.T) {
	t.Parallel()

	s := NewStore(Limits{MaxRatings: 100, MaxUsers: 10, MaxItems: 10})
	records := []Rating{
		{UserID: 1, ItemID: 1, CategoryID: NoCategory, Value: 3},
		{UserID: 10, ItemID: 1, CategoryID: NoCategory, Value: 3}, // user out of range
		{UserID: 1, ItemID: 10, CategoryID: NoCategory, Value: 3}, // item out of range
		{UserID: 1, ItemID: 2, CategoryID: NoCategory, Value: 5.1},
		{UserID: 1, ItemID: 3, CategoryID: NoCategory, Value: -0.1},
		{UserID: 1, ItemID: 4, CategoryID: -2, Value: 2},
		{UserID: 1, ItemID: 5, CategoryID: NoCategory, Value: math.NaN()},
		{UserID: 2, ItemID: 2, CategoryID: 0, Value: 0},
	}

	if got := s.IngestBulk(records); got != 2 {
		t.Errorf("IngestBulk() = %d, want 2", got)
	}
	if st := s.Stats(); st.Users != 3 || st.Items != 3 {
		t.Errorf("Stats() users=%d items=%d, want 3 and 3", st.Users, st.Items)
	}
}

func TestStore_Capacity(t *testing.T) {
	t.Parallel()

	s := NewStore(Limits{MaxRatings: 3, MaxUsers: 10, MaxItems: 10})
	loaded := s.IngestBulk([]Rating{
		{UserID: 0, ItemID: 0, Value: 1},
		{UserID: 0, ItemID: 1, Value: 2},
		{UserID: 0, ItemID: 2, Value: 3},
		{UserID: 0, ItemID: 3, Value: 4},
	})
	if loaded != 3 {
		t.Fatalf("IngestBulk() = %d, want 3", loaded)
	}

	before := s.Generation()
	if s.IngestOne(1, 1, NoCategory, 2) {
		t.Error("IngestOne() on full store = true, want false")
	}
	if err := s.Add(Rating{UserID: 1, ItemID: 1, Value: 2}); !errors.Is(err, ErrStoreFull) {
		t.Errorf("Add() error = %v, want ErrStoreFull", err)
	}
	if s.Generation() != before {
		t.Error("rejected ingest changed the store generation")
	}
	if s.IsRated(1, 1) {
		t.Error("rejected ingest mutated the cache")
	}
}

func TestStore_IngestOne_Invalid(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	if s.IngestOne(0, 0, NoCategory, 6) {
		t.Error("IngestOne(rating=6) = true, want false")
	}
	err := s.Add(Rating{UserID: 5000, ItemID: 0, Value: 1})
	if !errors.Is(err, ErrInvalidRating) {
		t.Errorf("Add(user=5000) error = %v, want ErrInvalidRating", err)
	}
	if st := s.Stats(); st.Ratings != 0 {
		t.Errorf("Ratings = %d, want 0", st.Ratings)
	}
}

func TestStore_Reset(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	s.IngestBulk([]Rating{{UserID: 4, ItemID: 4, CategoryID: 2, Value: 3}})
	gen := s.Generation()

	s.Reset()

	st := s.Stats()
	if st.Ratings != 0 || st.Users != 0 || st.Items != 0 || st.RatedCells != 0 || st.Categories != 0 {
		t.Errorf("Stats() after Reset = %+v, want zero", st)
	}
	if s.IsRated(4, 4) {
		t.Error("IsRated(4,4) after Reset = true")
	}
	if s.Generation() == gen {
		t.Error("Reset did not change generation")
	}
	if rows, cols := s.SnapshotMatrix().Shape(); rows != 0 || cols != 0 {
		t.Errorf("SnapshotMatrix().Shape() = (%d, %d), want (0, 0)", rows, cols)
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches []Batch
	err     error
}

func (p *recordingPublisher) PublishBatch(b Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, b)
	return p.err
}

func TestStore_Publisher(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	pub := &recordingPublisher{}
	s.SetPublisher(pub)

	s.IngestBulk([]Rating{{UserID: 1, ItemID: 1, Value: 3}, {UserID: 1, ItemID: 1, Value: 9}})
	s.IngestBulk([]Rating{{UserID: 1, ItemID: 1, Value: 9}})
	s.IngestOne(2, 2, 4, 1)

	if len(pub.batches) != 2 {
		t.Fatalf("published %d batches, want 2", len(pub.batches))
	}
	first, second := pub.batches[0], pub.batches[1]
	if first.FirstSeq != 1 || len(first.Ratings) != 1 {
		t.Errorf("first batch = %+v, want seq 1 with one record", first)
	}
	if second.FirstSeq != 2 || second.LastSeq() != 2 {
		t.Errorf("second batch seq = %d..%d, want 2..2", second.FirstSeq, second.LastSeq())
	}
	if second.Ratings[0].ItemID != 2 || second.Ratings[0].CategoryID != 4 {
		t.Errorf("published record = %+v, want item 2 category 4", second.Ratings[0])
	}
	if second.Generation != s.Generation() {
		t.Errorf("batch generation = %d, want %d", second.Generation, s.Generation())
	}
	if got := s.Sequence(); got != 2 {
		t.Errorf("Sequence() = %d, want 2", got)
	}
}

func TestStore_PublisherErrorKeepsRecord(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	s.SetPublisher(&recordingPublisher{err: errors.New("bus closed")})

	if err := s.Add(Rating{UserID: 0, ItemID: 0, Value: 2}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !s.IsRated(0, 0) {
		t.Error("record dropped after publish failure")
	}
}

func TestStore_SequenceFollowsApplyOrder(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	pub := &recordingPublisher{}
	s.SetPublisher(pub)

	const writers = 8
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				s.IngestOne(0, 0, NoCategory, float64(w%6))
			}
		}(w)
	}
	wg.Wait()

	// The record with the highest sequence must be the one the cache holds.
	var last Batch
	for _, b := range pub.batches {
		if b.FirstSeq > last.FirstSeq {
			last = b
		}
	}
	v, ok := s.RatingOf(0, 0)
	if !ok || v != last.Ratings[0].Value {
		t.Errorf("RatingOf(0, 0) = (%v, %v), want %v from seq %d", v, ok, last.Ratings[0].Value, last.FirstSeq)
	}
	if last.FirstSeq != writers*20 {
		t.Errorf("highest sequence = %d, want %d", last.FirstSeq, writers*20)
	}
}

func TestStore_AdvanceSequence(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	s.AdvanceSequence(10)
	s.AdvanceSequence(4)
	if got := s.Sequence(); got != 10 {
		t.Errorf("Sequence() = %d, want 10", got)
	}

	pub := &recordingPublisher{}
	s.SetPublisher(pub)
	s.IngestOne(0, 0, NoCategory, 1)
	if len(pub.batches) != 1 || pub.batches[0].FirstSeq != 11 {
		t.Errorf("batches = %+v, want one starting at 11", pub.batches)
	}
}

func TestStore_WithSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultLimits())
	s.IngestBulk([]Rating{
		{UserID: 0, ItemID: 1, CategoryID: 3, Value: 2},
		{UserID: 1, ItemID: 0, CategoryID: NoCategory, Value: 4},
	})

	err := s.WithSnapshot(func(v *Snapshot) error {
		if v.NumUsers() != 2 || v.NumItems() != 2 {
			t.Errorf("dims = (%d, %d), want (2, 2)", v.NumUsers(), v.NumItems())
		}
		if c, ok := v.Category(1); !ok || c != 3 {
			t.Errorf("Category(1) = (%d, %v), want (3, true)", c, ok)
		}
		if _, ok := v.Category(0); ok {
			t.Error("Category(0) ok = true, want false")
		}
		if v.Matrix() != v.Matrix() {
			t.Error("Matrix() rebuilt within one snapshot")
		}
		cells := 0
		v.Cells(func(int, int, float64) { cells++ })
		if cells != 2 {
			t.Errorf("Cells visited %d, want 2", cells)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithSnapshot() error = %v", err)
	}
}

func TestStore_ConcurrentIngestAndSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(Limits{MaxRatings: 5000, MaxUsers: 50, MaxItems: 50})
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				s.IngestOne(uint32((w*7+n)%50), uint32(n%50), NoCategory, float64(n%5))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				_ = s.WithSnapshot(func(v *Snapshot) error {
					rows, cols := v.Matrix().Shape()
					if rows != v.NumUsers() || cols != v.NumItems() {
						t.Errorf("torn snapshot: matrix %dx%d, dims %dx%d", rows, cols, v.NumUsers(), v.NumItems())
					}
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if st := s.Stats(); st.Ratings != 800 {
		t.Errorf("Ratings = %d, want 800", st.Ratings)
	}
}

func TestParseRows(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"# user;item;category;rating;timestamp",
		"1;10;3;4.5;1735689600",
		"2;11;-1;2.0",
		"",
		"x;11;1;2.0",
		"3;12;1",
		"-4;12;1;3.0",
		"5;13;2;1.5;",
	}, "\n")

	res, err := ParseRows(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseRows() error = %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(res.Records))
	}
	if res.Malformed != 3 {
		t.Errorf("Malformed = %d, want 3", res.Malformed)
	}

	first := res.Records[0]
	if first.UserID != 1 || first.ItemID != 10 || first.CategoryID != 3 || first.Value != 4.5 || first.Timestamp != 1735689600 {
		t.Errorf("Records[0] = %+v", first)
	}
	if res.Records[1].CategoryID != NoCategory {
		t.Errorf("Records[1].CategoryID = %d, want -1", res.Records[1].CategoryID)
	}
}

func TestStore_LoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ratings.txt")
	data := "0;0;1;4.0;0\n0;1;1;3.0;0\n1;0;2;5.0;0\n1;2000;2;5.0;0\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s := NewStore(DefaultLimits())
	loaded, res, err := s.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(res.Records) != 4 {
		t.Errorf("parsed %d records, want 4", len(res.Records))
	}
	if loaded != 3 {
		t.Errorf("loaded = %d, want 3 (item 2000 exceeds MaxItems)", loaded)
	}

	if _, _, err := s.LoadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("LoadFile(missing) error = nil, want error")
	}
}
