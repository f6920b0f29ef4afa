// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package server implements the line-oriented TCP front end: the accept
// loop, one worker goroutine per admitted connection, request parsing and
// response formatting.
//
// # Protocol
//
// Requests are newline-terminated lines of integers:
//
//	<user_id> <algorithm> [<k>] <num_recommendations> [<category_filter>]
//
// Algorithms: 1 = KNN, 2 = matrix factorization, 3 = graph. A reply is a
// header line followed by one line per result, or the no-results line:
//
//	RECOMMENDATIONS for user 0:
//	Item 3 (Category 2): Rating 4.15
//
// A line that does not parse is answered with InvalidFormatReply and the
// connection stays open.
package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/session"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Config holds the listener settings.
type Config struct {
	Address string

	// MaxMessageLength bounds request lines and replies in bytes.
	MaxMessageLength int

	// IdleTimeout is the read deadline applied before every request.
	IdleTimeout time.Duration

	// WriteTimeout bounds a single reply write.
	WriteTimeout time.Duration

	// RequestsPerSecond limits each connection. Zero disables limiting.
	RequestsPerSecond float64
	RequestBurst      int

	// DefaultK is used for the three-field request form.
	DefaultK int
}

// DefaultConfig returns the historical listener settings.
func DefaultConfig() Config {
	return Config{
		Address:          ":8080",
		MaxMessageLength: 1024,
		IdleTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		DefaultK:         5,
	}
}

// Server accepts clients, admits them into a session.Table and answers
// their requests.
type Server struct {
	cfg       Config
	table     *session.Table
	responder *Responder
	logger    zerolog.Logger

	// baseCtx is canceled on Shutdown so in-flight computations stop.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	closed   atomic.Bool

	workers sync.WaitGroup
}

// New creates a server. The table is owned by the server from here on:
// Shutdown closes every session in it.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, table *session.Table, engine Recommender, logger zerolog.Logger) *Server {
	def := DefaultConfig()
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = def.MaxMessageLength
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = def.DefaultK
	}
	if cfg.Address == "" {
		cfg.Address = def.Address
	}

	logger = logger.With().Str("component", "tcp-server").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:       cfg,
		table:     table,
		responder: NewResponder(engine, cfg.DefaultK, cfg.MaxMessageLength, logger),
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Responder returns the request handler shared with other transports.
func (s *Server) Responder() *Responder {
	return s.responder
}

// Listen binds the configured address without serving. Calling it before
// ListenAndServe surfaces bind errors synchronously.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrServerClosed
	}
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen or Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds the configured address if needed and serves.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It always returns a
// non-nil error; ErrServerClosed after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().
		Str("address", ln.Addr().String()).
		Int("max_clients", s.table.Capacity()).
		Dur("idle_timeout", s.cfg.IdleTimeout).
		Msg("tcp server listening")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("accept error")
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0
		if s.closed.Load() {
			_ = conn.Close()
			return ErrServerClosed
		}

		s.workers.Add(1)
		go s.handleConn(conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	const maxBackoff = time.Second
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Shutdown stops accepting, closes every session and waits for the
// workers to exit or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.cancel()

	s.mu.Lock()
	var lnErr error
	if s.listener != nil {
		lnErr = s.listener.Close()
	}
	s.mu.Unlock()
	if errors.Is(lnErr, net.ErrClosed) {
		lnErr = nil
	}

	closed := s.table.CloseAll()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Int("sessions_closed", closed).Msg("tcp server stopped")
		return lnErr
	case <-ctx.Done():
		s.logger.Warn().Int("sessions_closed", closed).Msg("tcp server shutdown timed out waiting for workers")
		return ctx.Err()
	}
}

// handleConn admits conn and runs its request loop.
func (s *Server) handleConn(conn net.Conn) {
	defer s.workers.Done()

	addr := conn.RemoteAddr().String()
	sess, err := s.table.Admit(&tcpConn{Conn: conn, writeTimeout: s.cfg.WriteTimeout}, addr, session.TransportTCP)
	if err != nil {
		_ = conn.Close()
		return
	}
	// Admitted after Shutdown already emptied the table.
	if s.closed.Load() {
		s.table.RemoveSession(sess, session.ReasonShutdown)
		return
	}

	ctx := logging.ContextWithRemoteAddr(logging.ContextWithNewCorrelationID(s.baseCtx), addr)
	logger := s.logger.With().
		Str("correlation_id", logging.CorrelationIDFromContext(ctx)).
		Str("remote_addr", addr).
		Uint64("serial", sess.Serial()).
		Logger()

	reason := s.serveSession(ctx, conn, sess, &logger)
	if s.table.RemoveSession(sess, reason) {
		logger.Debug().Str("reason", string(reason)).Msg("worker finished")
	}
}

// tcpConn applies a fresh write deadline to every write, so a broadcast to
// a client that has been quiet for a while does not hit the deadline left
// over from its last reply.
type tcpConn struct {
	net.Conn
	writeTimeout time.Duration
}

func (c *tcpConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// errLineTooLong reports a request line longer than MaxMessageLength. The
// rest of the line has already been discarded.
var errLineTooLong = errors.New("request line too long")

// readLine reads one newline-terminated request line without its line
// ending. A line whose content exceeds limit bytes is consumed up to its
// newline and reported as errLineTooLong, leaving the reader at the start
// of the next line. A final unterminated line is returned before io.EOF.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var line []byte
	overflow := false

	for {
		chunk, err := r.ReadSlice('\n')
		if !overflow {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > limit {
				overflow = true
				line = nil
			}
		}

		switch {
		case err == nil:
			if overflow {
				return "", errLineTooLong
			}
			return string(bytes.TrimRight(line, "\r\n")), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && !overflow && len(line) > 0:
			return string(bytes.TrimRight(line, "\r\n")), nil
		default:
			return "", err
		}
	}
}

// serveSession reads request lines until the connection ends and returns
// why it ended. Malformed and over-long lines are answered with
// InvalidFormatReply and the session continues.
func (s *Server) serveSession(ctx context.Context, conn net.Conn, sess *session.Session, logger *zerolog.Logger) session.CloseReason {
	reader := bufio.NewReaderSize(conn, min(4096, s.cfg.MaxMessageLength+2))

	var limiter *rate.Limiter
	if s.cfg.RequestsPerSecond > 0 {
		burst := s.cfg.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), burst)
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return s.readFailure(err, logger)
		}

		var reply string
		line, err := readLine(reader, s.cfg.MaxMessageLength)
		switch {
		case errors.Is(err, errLineTooLong):
			logger.Warn().Int("max_message_length", s.cfg.MaxMessageLength).Msg("request line too long")
			metrics.RecordRequest("unknown", "invalid", 0)
			reply = InvalidFormatReply + "\n"
		case errors.Is(err, io.EOF):
			return s.readFailure(nil, logger)
		case err != nil:
			return s.readFailure(err, logger)
		case limiter != nil && !limiter.Allow():
			metrics.RecordRequest("unknown", "rate_limited", 0)
			logger.Debug().Msg("request rate limited")
			reply = RateLimitedReply + "\n"
		default:
			reply = s.responder.Respond(ctx, line)
		}

		if _, err := sess.Write([]byte(reply)); err != nil {
			if s.closed.Load() {
				return session.ReasonShutdown
			}
			logger.Debug().Err(err).Msg("write failed")
			return session.ReasonWriteError
		}
	}
}

// readFailure maps a read error to a close reason. A nil error is EOF.
func (s *Server) readFailure(err error, logger *zerolog.Logger) session.CloseReason {
	if err == nil {
		return session.ReasonPeerClosed
	}
	if s.closed.Load() || errors.Is(err, net.ErrClosed) {
		return session.ReasonShutdown
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logger.Info().Dur("idle_timeout", s.cfg.IdleTimeout).Msg("client idle, disconnecting")
		return session.ReasonIdleTimeout
	}

	logger.Debug().Err(err).Msg("read failed")
	return session.ReasonReadError
}
