// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package events fans accepted rating batches out to in-process consumers
// over a Watermill gochannel topic.
//
// The rating store publishes every batch it accepts; the journal and the
// recommendation engine subscribe. Batches carry the store's sequence
// numbers, so consumers that care about apply order (the journal) do not
// depend on delivery order.
//
//	bus := events.NewBus(events.Config{}, logger)
//	store.SetPublisher(bus)
//	_ = bus.Subscribe("journal", j.HandleBatch)
//	_ = bus.Subscribe("engine", engine.HandleBatch)
//	defer bus.Close()
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
)

// TopicRatingsIngested carries one ratings.Batch per message.
const TopicRatingsIngested = "ratings.ingested"

// Metadata keys set on every message.
const (
	MetadataFirstSeq   = "first_seq"
	MetadataGeneration = "generation"
)

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

// Handler consumes one batch. A returned error is logged; the message is
// acknowledged either way so one failing consumer never stalls ingest.
type Handler func(ctx context.Context, batch ratings.Batch) error

// Config holds bus settings.
type Config struct {
	// OutputBuffer is the per-subscriber channel buffer.
	// Default: 0 (unbuffered)
	OutputBuffer int64
}

// Bus is the in-process ingest event bus.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewBus creates a bus on a fresh gochannel pub/sub. Publish blocks until
// every subscriber acknowledged, so a rating is journaled before the client
// that sent it is answered.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewBus(cfg Config, logger zerolog.Logger) *Bus {
	logger = logger.With().Str("component", "events").Logger()
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            cfg.OutputBuffer,
			BlockPublishUntilSubscriberAck: true,
		}, NewLoggerAdapter(logger)),
		logger: logger,
	}
}

// PublishBatch implements ratings.Publisher. Batches published while no
// subscriber is attached are dropped.
func (b *Bus) PublishBatch(batch ratings.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal batch: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataFirstSeq, strconv.FormatUint(batch.FirstSeq, 10))
	msg.Metadata.Set(MetadataGeneration, strconv.FormatUint(batch.Generation, 10))

	if err := b.pubsub.Publish(TopicRatingsIngested, msg); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish %s: %w", TopicRatingsIngested, err)
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe attaches handler under name. Messages are handled one at a
// time in publish order until Close.
func (b *Bus) Subscribe(name string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	// The subscription ends when Close closes the pub/sub.
	msgs, err := b.pubsub.Subscribe(context.Background(), TopicRatingsIngested)
	if err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", name, TopicRatingsIngested, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			b.handle(name, handler, msg)
		}
	}()

	b.logger.Debug().Str("subscriber", name).Str("topic", TopicRatingsIngested).Msg("subscriber attached")
	return nil
}

func (b *Bus) handle(name string, handler Handler, msg *message.Message) {
	defer msg.Ack()

	var batch ratings.Batch
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		metrics.RecordEventHandled(name, "decode_error")
		b.logger.Error().
			Err(err).
			Str("subscriber", name).
			Str("message_uuid", msg.UUID).
			Msg("failed to decode ingest event")
		return
	}

	if err := handler(msg.Context(), batch); err != nil {
		metrics.RecordEventHandled(name, "error")
		b.logger.Warn().
			Err(err).
			Str("subscriber", name).
			Uint64("first_seq", batch.FirstSeq).
			Int("ratings", len(batch.Ratings)).
			Msg("ingest event handler failed")
		return
	}
	metrics.RecordEventHandled(name, "ok")
}

// Close stops the pub/sub and waits for every subscriber to drain.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.wg.Wait()
	if err != nil {
		return fmt.Errorf("close event bus: %w", err)
	}
	b.logger.Info().Msg("event bus closed")
	return nil
}
