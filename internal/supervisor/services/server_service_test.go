// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var errMockClosed = errors.New("mock: server closed")

// mockServer simulates a listening server for testing.
type mockServer struct {
	listenErr     error
	shutdownErr   error
	closedErr     error
	block         chan struct{}
	once          sync.Once
	listenCalls   atomic.Int32
	shutdownCalls atomic.Int32
}

func newMockServer(closedErr error) *mockServer {
	return &mockServer{closedErr: closedErr, block: make(chan struct{})}
}

func (m *mockServer) ListenAndServe() error {
	m.listenCalls.Add(1)
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.block
	return m.closedErr
}

func (m *mockServer) Shutdown(_ context.Context) error {
	m.shutdownCalls.Add(1)
	m.once.Do(func() { close(m.block) })
	return m.shutdownErr
}

func TestServerService_DefaultTimeout(t *testing.T) {
	t.Parallel()

	svc := NewServerService("tcp-server", newMockServer(errMockClosed), errMockClosed, 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want 10s", svc.shutdownTimeout)
	}
}

func TestServerService_GracefulShutdown(t *testing.T) {
	t.Parallel()

	srv := newMockServer(errMockClosed)
	svc := NewServerService("tcp-server", srv, errMockClosed, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if got := srv.shutdownCalls.Load(); got != 1 {
		t.Errorf("shutdown calls = %d, want 1", got)
	}
}

func TestServerService_StartupFailure(t *testing.T) {
	t.Parallel()

	srv := newMockServer(errMockClosed)
	srv.listenErr = errors.New("address already in use")
	svc := NewServerService("tcp-server", srv, errMockClosed, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("Serve() should fail when ListenAndServe fails")
	}
	if !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve() = %v, want wrapped listen error", err)
	}
	if srv.shutdownCalls.Load() != 0 {
		t.Error("Shutdown should not be called after a startup failure")
	}
}

func TestServerService_ClosedSentinelIsClean(t *testing.T) {
	t.Parallel()

	srv := newMockServer(errMockClosed)
	srv.listenErr = errMockClosed
	svc := NewServerService("tcp-server", srv, errMockClosed, time.Second)

	if err := svc.Serve(context.Background()); err != nil {
		t.Errorf("Serve() = %v, want nil for the closed sentinel", err)
	}
}

func TestServerService_ShutdownError(t *testing.T) {
	t.Parallel()

	srv := newMockServer(errMockClosed)
	srv.shutdownErr = errors.New("drain timed out")
	svc := NewServerService("tcp-server", srv, errMockClosed, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, srv.shutdownErr) {
			t.Errorf("Serve() = %v, want wrapped shutdown error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServerService_String(t *testing.T) {
	t.Parallel()

	if got := NewServerService("tcp-server", newMockServer(nil), nil, 0).String(); got != "tcp-server" {
		t.Errorf("String() = %q, want tcp-server", got)
	}
	if got := NewHTTPServerService(newMockServer(http.ErrServerClosed), 0).String(); got != "admin-http" {
		t.Errorf("String() = %q, want admin-http", got)
	}
}

func TestServerService_WithSupervisor(t *testing.T) {
	srv := newMockServer(http.ErrServerClosed)
	svc := NewHTTPServerService(srv, time.Second)

	sup := suture.NewSimple("test")
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for srv.listenCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.listenCalls.Load() == 0 {
		t.Fatal("ListenAndServe was not called")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	if srv.shutdownCalls.Load() == 0 {
		t.Error("Shutdown was not called")
	}
}
