// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/journal"
	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
)

type collector struct {
	mu      sync.Mutex
	batches []ratings.Batch
}

func (c *collector) handle(_ context.Context, b ratings.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return nil
}

func (c *collector) snapshot() []ratings.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ratings.Batch(nil), c.batches...)
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()

	bus := NewBus(Config{}, zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestBus_DeliversToEverySubscriber(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	first, second := &collector{}, &collector{}
	if err := bus.Subscribe("first", first.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Subscribe("second", second.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	store := ratings.NewStore(ratings.DefaultLimits())
	store.SetPublisher(bus)
	store.IngestBulk([]ratings.Rating{
		{UserID: 0, ItemID: 1, CategoryID: 2, Value: 4},
		{UserID: 1, ItemID: 1, CategoryID: 2, Value: 3},
	})
	store.IngestOne(2, 0, ratings.NoCategory, 1)

	// Publish blocks until every subscriber acknowledged.
	for name, c := range map[string]*collector{"first": first, "second": second} {
		got := c.snapshot()
		if len(got) != 2 {
			t.Fatalf("%s saw %d batches, want 2", name, len(got))
		}
		if got[0].FirstSeq != 1 || len(got[0].Ratings) != 2 {
			t.Errorf("%s batch 0 = %+v, want seq 1 with 2 ratings", name, got[0])
		}
		if got[1].FirstSeq != 3 || got[1].Ratings[0].UserID != 2 {
			t.Errorf("%s batch 1 = %+v, want seq 3 for user 2", name, got[1])
		}
		if got[1].Generation != store.Generation() {
			t.Errorf("%s generation = %d, want %d", name, got[1].Generation, store.Generation())
		}
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	err := bus.PublishBatch(ratings.Batch{FirstSeq: 1, Ratings: []ratings.Rating{{UserID: 1, ItemID: 1, Value: 1}}})
	if err != nil {
		t.Errorf("PublishBatch() without subscribers error = %v", err)
	}
}

func TestBus_HandlerErrorStillAcks(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	var calls int
	var mu sync.Mutex
	if err := bus.Subscribe("failing-consumer", func(context.Context, ratings.Batch) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("disk full")
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	before := testutil.ToFloat64(metrics.EventsHandled.WithLabelValues("failing-consumer", "error"))
	for seq := uint64(1); seq <= 2; seq++ {
		if err := bus.PublishBatch(ratings.Batch{FirstSeq: seq, Ratings: []ratings.Rating{{UserID: 1, ItemID: 1, Value: 2}}}); err != nil {
			t.Fatalf("PublishBatch() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
	after := testutil.ToFloat64(metrics.EventsHandled.WithLabelValues("failing-consumer", "error"))
	if after-before != 2 {
		t.Errorf("error events recorded = %v, want 2", after-before)
	}
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	bus := NewBus(Config{}, zerolog.Nop())
	c := &collector{}
	if err := bus.Subscribe("consumer", c.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := bus.Subscribe("late", c.handle); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrBusClosed", err)
	}
	if err := bus.PublishBatch(ratings.Batch{FirstSeq: 1, Ratings: []ratings.Rating{{UserID: 1}}}); err == nil {
		t.Error("PublishBatch() after Close error = nil, want error")
	}

	// The store keeps the record even though publishing failed.
	store := ratings.NewStore(ratings.DefaultLimits())
	store.SetPublisher(bus)
	if !store.IngestOne(0, 0, ratings.NoCategory, 3) {
		t.Error("IngestOne() = false after bus closed")
	}
}

// Concurrent writers hammer one cell. Whatever order the journal receives
// the batches in, a replay must reproduce the value the live store holds.
func TestBus_JournalReplayMatchesLiveStore(t *testing.T) {
	t.Parallel()

	j, err := journal.Open(journal.Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	bus := NewBus(Config{OutputBuffer: 16}, zerolog.Nop())
	if err := bus.Subscribe("journal", j.HandleBatch); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	live := ratings.NewStore(ratings.DefaultLimits())
	live.SetPublisher(bus)

	const writers = 8
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				live.IngestOne(0, 0, 1, float64((w+i)%6))
			}
		}(w)
	}
	wg.Wait()

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rebuilt := ratings.NewStore(ratings.DefaultLimits())
	n, err := j.Replay(context.Background(), func(b []ratings.Rating) error {
		rebuilt.IngestBulk(b)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if n != writers*25 {
		t.Fatalf("replayed %d ratings, want %d", n, writers*25)
	}

	want, _ := live.RatingOf(0, 0)
	got, ok := rebuilt.RatingOf(0, 0)
	if !ok || got != want {
		t.Errorf("replayed rating = (%v, %v), live = %v", got, ok, want)
	}
	if j.LastSequence() != live.Sequence() {
		t.Errorf("journal head = %d, store sequence = %d", j.LastSequence(), live.Sequence())
	}
}
