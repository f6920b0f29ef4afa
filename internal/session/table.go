// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/metrics"
)

var (
	// ErrTableFull is returned by Admit when every slot is taken.
	ErrTableFull = errors.New("session table full")

	// ErrNoSession is returned by Remove for an id with no session.
	ErrNoSession = errors.New("no such session")
)

// DefaultCapacity is the historical MAX_CLIENT value.
const DefaultCapacity = 10

// Table is a bounded, compacting registry of active sessions. All
// operations are serialized by one mutex; connection I/O happens
// outside it.
type Table struct {
	mu       sync.Mutex
	slots    []*Session
	capacity int
	logger   zerolog.Logger
}

// NewTable creates an empty table. Non-positive capacity uses DefaultCapacity.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewTable(capacity int, logger zerolog.Logger) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		slots:    make([]*Session, 0, capacity),
		capacity: capacity,
		logger:   logger.With().Str("component", "sessions").Logger(),
	}
}

// Capacity returns the maximum number of sessions.
func (t *Table) Capacity() int {
	return t.capacity
}

// Admit registers conn in the next free slot. It returns ErrTableFull
// without touching conn when the table is at capacity; closing the
// rejected connection is up to the caller.
func (t *Table) Admit(conn Conn, remoteAddr, transport string) (*Session, error) {
	t.mu.Lock()
	if len(t.slots) >= t.capacity {
		t.mu.Unlock()
		metrics.RecordConnection(transport, false)
		t.logger.Warn().
			Str("remote_addr", remoteAddr).
			Str("transport", transport).
			Int("capacity", t.capacity).
			Msg("session table full, rejecting connection")
		return nil, fmt.Errorf("admit %s: %w", remoteAddr, ErrTableFull)
	}

	s := newSession(conn, remoteAddr, transport, len(t.slots))
	t.slots = append(t.slots, s)
	count := len(t.slots)
	t.mu.Unlock()

	metrics.RecordConnection(transport, true)
	metrics.SessionsActive.Set(float64(count))
	t.logger.Info().
		Int("session_id", s.ID()).
		Uint64("serial", s.serial).
		Str("remote_addr", remoteAddr).
		Str("transport", transport).
		Int("total_sessions", count).
		Msg("session admitted")
	return s, nil
}

// Remove closes the session in slot id and compacts the table: every
// later session moves down one slot and takes its new index as id.
func (t *Table) Remove(id int, reason CloseReason) error {
	t.mu.Lock()
	if id < 0 || id >= len(t.slots) {
		t.mu.Unlock()
		return fmt.Errorf("remove session %d: %w", id, ErrNoSession)
	}
	s := t.removeLocked(id)
	count := len(t.slots)
	t.mu.Unlock()

	t.finish(s, reason, count)
	return nil
}

// RemoveSession removes s wherever it currently sits. It returns false if
// s already left the table, which makes it safe for both the worker and
// a concurrent shutdown to call.
func (t *Table) RemoveSession(s *Session, reason CloseReason) bool {
	if s == nil {
		return false
	}

	t.mu.Lock()
	slot := -1
	for i, cur := range t.slots {
		if cur == s {
			slot = i
			break
		}
	}
	if slot < 0 {
		t.mu.Unlock()
		return false
	}
	t.removeLocked(slot)
	count := len(t.slots)
	t.mu.Unlock()

	t.finish(s, reason, count)
	return true
}

// removeLocked cuts slot i out and renumbers the tail. Must be called with t.mu held.
func (t *Table) removeLocked(i int) *Session {
	s := t.slots[i]
	copy(t.slots[i:], t.slots[i+1:])
	t.slots[len(t.slots)-1] = nil
	t.slots = t.slots[:len(t.slots)-1]

	for j := i; j < len(t.slots); j++ {
		t.slots[j].id.Store(int64(j))
	}
	s.active.Store(false)
	return s
}

func (t *Table) finish(s *Session, reason CloseReason, remaining int) {
	if err := s.close(); err != nil {
		t.logger.Debug().Err(err).Uint64("serial", s.serial).Msg("error closing session connection")
	}

	metrics.RecordSessionClosed(string(reason))
	metrics.SessionsActive.Set(float64(remaining))
	t.logger.Info().
		Uint64("serial", s.serial).
		Str("remote_addr", s.remoteAddr).
		Str("reason", string(reason)).
		Int("total_sessions", remaining).
		Msg("session removed")
}

// Get returns the session currently in slot id.
func (t *Table) Get(id int) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || id >= len(t.slots) {
		return nil, false
	}
	return t.slots[id], true
}

// Count returns the number of active sessions.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Snapshot returns the active sessions in slot order.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Info, len(t.slots))
	for i, s := range t.slots {
		out[i] = s.info()
	}
	return out
}

// sessions copies the slot list so callers can do I/O without the lock.
func (t *Table) sessions() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Session, len(t.slots))
	copy(out, t.slots)
	return out
}

// Broadcast writes msg to every session in slot order and returns how
// many writes succeeded. Sessions whose write fails are removed.
func (t *Table) Broadcast(msg []byte) int {
	delivered := 0
	var failed []*Session

	for _, s := range t.sessions() {
		if _, err := s.Write(msg); err != nil {
			t.logger.Debug().Err(err).Uint64("serial", s.serial).Msg("broadcast write failed")
			failed = append(failed, s)
			continue
		}
		delivered++
	}

	for _, s := range failed {
		t.RemoveSession(s, ReasonWriteError)
	}

	t.logger.Debug().
		Int("delivered", delivered).
		Int("failed", len(failed)).
		Msg("broadcast sent")
	return delivered
}

// CloseAll closes every session and empties the table. It returns how
// many sessions were closed.
func (t *Table) CloseAll() int {
	t.mu.Lock()
	closing := t.slots
	t.slots = make([]*Session, 0, t.capacity)
	for _, s := range closing {
		s.active.Store(false)
	}
	t.mu.Unlock()

	for _, s := range closing {
		if err := s.close(); err != nil {
			t.logger.Debug().Err(err).Uint64("serial", s.serial).Msg("error closing session connection")
		}
		metrics.RecordSessionClosed(string(ReasonShutdown))
	}
	metrics.SessionsActive.Set(0)

	if len(closing) > 0 {
		t.logger.Info().Int("sessions_closed", len(closing)).Msg("closed all sessions")
	}
	return len(closing)
}
