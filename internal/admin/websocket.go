// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/session"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

// wsConn adapts a websocket connection to session.Conn. Every Write is one
// text frame; the session serializes writers.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return 0, err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the socket. WriteControl is safe to
// call concurrently with WriteMessage.
func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace),
	)
	return c.conn.Close()
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: handshakeTimeout,
	}
}

// checkOrigin accepts requests without an Origin header (non-browser line
// protocol clients) and browser requests from a configured origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// WebSocket upgrades the request and serves the line protocol over text
// frames. Each frame may carry one or more newline separated requests;
// every request gets its reply in its own frame.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	addr := r.RemoteAddr
	wc := &wsConn{conn: conn, writeTimeout: h.cfg.WriteTimeout}

	sess, err := h.table.Admit(wc, addr, session.TransportWebSocket)
	if err != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"),
			time.Now().Add(closeGrace),
		)
		_ = conn.Close()
		return
	}

	ctx := r.Context()
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	logger := h.logger.With().
		Str("correlation_id", logging.CorrelationIDFromContext(ctx)).
		Str("remote_addr", addr).
		Uint64("serial", sess.Serial()).
		Logger()

	reason := h.serveWebSocket(ctx, conn, sess, &logger)
	if h.table.RemoveSession(sess, reason) {
		logger.Debug().Str("reason", string(reason)).Msg("websocket session finished")
	}
}

func (h *Handler) serveWebSocket(ctx context.Context, conn *websocket.Conn, sess *session.Session, logger *zerolog.Logger) session.CloseReason {
	conn.SetReadLimit(int64(h.responder.MaxMessageLength()))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout)); err != nil {
			return session.ReasonReadError
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return h.wsCloseReason(err, sess, logger)
		}

		for _, line := range strings.Split(strings.TrimRight(string(data), "\r\n"), "\n") {
			reply := h.responder.Respond(ctx, line)
			if _, err := sess.Write([]byte(reply)); err != nil {
				if !sess.Active() {
					return session.ReasonRemoved
				}
				logger.Debug().Err(err).Msg("websocket write failed")
				return session.ReasonWriteError
			}
		}
	}
}

// wsCloseReason maps a read error to a close reason.
func (h *Handler) wsCloseReason(err error, sess *session.Session, logger *zerolog.Logger) session.CloseReason {
	var ce *websocket.CloseError
	switch {
	case !sess.Active():
		return session.ReasonRemoved
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn().Int("max_message_length", h.responder.MaxMessageLength()).Msg("websocket message too long")
		return session.ReasonProtocol
	case errors.As(err, &ce):
		return session.ReasonPeerClosed
	case errors.Is(err, net.ErrClosed):
		return session.ReasonShutdown
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logger.Info().Dur("idle_timeout", h.cfg.IdleTimeout).Msg("websocket client idle, disconnecting")
		return session.ReasonIdleTimeout
	}
	logger.Debug().Err(err).Msg("websocket read failed")
	return session.ReasonReadError
}
