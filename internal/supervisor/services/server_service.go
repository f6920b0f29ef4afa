// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server matches the lifecycle of *http.Server and *server.Server.
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// ServerService wraps a listening server as a supervised service.
//
// It translates the blocking ListenAndServe pattern into suture's
// context-aware Serve pattern:
//
//  1. Starts ListenAndServe in a goroutine
//  2. Waits for either context cancellation or server error
//  3. On shutdown, calls Shutdown with the configured timeout
//
// Example usage:
//
//	srv := server.New(cfg, table, engine, logger)
//	tree.AddAPIService(services.NewServerService("tcp-server", srv, server.ErrServerClosed, 10*time.Second))
type ServerService struct {
	server          Server
	closedErr       error
	shutdownTimeout time.Duration
	name            string
}

// NewServerService creates a server wrapper. closedErr is the sentinel the
// server returns from ListenAndServe after Shutdown; it is not a failure.
func NewServerService(name string, server Server, closedErr error, shutdownTimeout time.Duration) *ServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &ServerService{
		server:          server,
		closedErr:       closedErr,
		shutdownTimeout: shutdownTimeout,
		name:            name,
	}
}

// NewHTTPServerService wraps an *http.Server.
func NewHTTPServerService(server Server, shutdownTimeout time.Duration) *ServerService {
	return NewServerService("admin-http", server, http.ErrServerClosed, shutdownTimeout)
}

// Serve implements suture.Service.
//
// Returns ctx.Err() after a graceful shutdown, or an error if the server
// fails to start or crashes.
func (s *ServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !s.isClosed(err) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s failed: %w", s.name, err)
		}
		return nil

	case <-ctx.Done():
		// The original context is already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", s.name, err)
		}

		<-errCh
		return ctx.Err()
	}
}

func (s *ServerService) isClosed(err error) bool {
	return s.closedErr != nil && errors.Is(err, s.closedErr)
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *ServerService) String() string {
	return s.name
}
