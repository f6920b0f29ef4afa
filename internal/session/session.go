// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package session keeps the bounded table of connected clients.
//
// Session ids are slot indices: removing a session shifts every later
// session down one slot and renumbers it. Code that needs a stable handle
// holds the *Session pointer, or its Serial, instead of the id.
package session

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Transport names used in logs and metrics.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// CloseReason explains why a session left the table.
type CloseReason string

const (
	ReasonPeerClosed  CloseReason = "peer_closed"
	ReasonIdleTimeout CloseReason = "idle_timeout"
	ReasonReadError   CloseReason = "read_error"
	ReasonWriteError  CloseReason = "write_error"
	ReasonProtocol    CloseReason = "protocol_error"
	ReasonShutdown    CloseReason = "shutdown"
	ReasonRemoved     CloseReason = "removed"
)

// Conn is the part of a client connection the table needs.
// net.Conn satisfies it, as does the websocket gateway adapter.
type Conn interface {
	io.Writer
	io.Closer
}

// serialCounter hands out process-unique session serials.
var serialCounter atomic.Uint64

// Session is one admitted client.
type Session struct {
	conn       Conn
	remoteAddr string
	transport  string
	serial     uint64
	admittedAt time.Time

	// id and active change under the table lock but are read lock-free
	// by the connection worker.
	id     atomic.Int64
	active atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newSession(conn Conn, remoteAddr, transport string, slot int) *Session {
	s := &Session{
		conn:       conn,
		remoteAddr: remoteAddr,
		transport:  transport,
		serial:     serialCounter.Add(1),
		admittedAt: time.Now(),
	}
	s.id.Store(int64(slot))
	s.active.Store(true)
	return s
}

// ID returns the current slot index. It changes when an earlier session
// is removed.
func (s *Session) ID() int { return int(s.id.Load()) }

// Serial returns an identifier that stays fixed for the session lifetime.
func (s *Session) Serial() uint64 { return s.serial }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Transport returns TransportTCP or TransportWebSocket.
func (s *Session) Transport() string { return s.transport }

// AdmittedAt returns when the session entered the table.
func (s *Session) AdmittedAt() time.Time { return s.admittedAt }

// Active reports whether the session is still in the table.
func (s *Session) Active() bool { return s.active.Load() }

// Write sends p to the client. Concurrent writers (the worker replying and
// a broadcast) never interleave within one call.
func (s *Session) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(p)
}

// close closes the connection once; later calls return the first error.
func (s *Session) close() error {
	s.closeOnce.Do(func() {
		s.active.Store(false)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Info is a point-in-time copy of a session's bookkeeping.
type Info struct {
	ID         int       `json:"id"`
	Serial     uint64    `json:"serial"`
	RemoteAddr string    `json:"remote_addr"`
	Transport  string    `json:"transport"`
	AdmittedAt time.Time `json:"admitted_at"`
}

func (s *Session) info() Info {
	return Info{
		ID:         s.ID(),
		Serial:     s.serial,
		RemoteAddr: s.remoteAddr,
		Transport:  s.transport,
		AdmittedAt: s.admittedAt,
	}
}
