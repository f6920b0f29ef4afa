// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockRefresher struct {
	calls  atomic.Int32
	prunes atomic.Int32
	err    error
}

func (m *mockRefresher) PruneCache() int {
	m.prunes.Add(1)
	return 1
}

func (m *mockRefresher) RefreshModel(_ context.Context) (bool, error) {
	m.calls.Add(1)
	if m.err != nil {
		return false, m.err
	}
	return true, nil
}

func TestModelRefreshService_Defaults(t *testing.T) {
	t.Parallel()

	svc := NewModelRefreshService(&mockRefresher{}, ModelRefreshConfig{}, zerolog.Nop())
	if svc.config.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", svc.config.Interval)
	}
	if svc.config.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v, want 5m", svc.config.Timeout)
	}
	if svc.String() != "model-refresh" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestModelRefreshService_RefreshOnStartup(t *testing.T) {
	t.Parallel()

	engine := &mockRefresher{}
	svc := NewModelRefreshService(engine, ModelRefreshConfig{
		RefreshOnStartup: true,
		Interval:         time.Hour,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for engine.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if got := engine.prunes.Load(); got != 0 {
		t.Errorf("prunes before first tick = %d, want 0", got)
	}
}

func TestModelRefreshService_Ticks(t *testing.T) {
	t.Parallel()

	engine := &mockRefresher{}
	svc := NewModelRefreshService(engine, ModelRefreshConfig{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for engine.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := engine.calls.Load(); got < 3 {
		t.Errorf("refresh calls = %d, want at least 3", got)
	}
	if got := engine.prunes.Load(); got < 3 {
		t.Errorf("prunes = %d, want one per tick", got)
	}
}

func TestModelRefreshService_FailureKeepsRunning(t *testing.T) {
	t.Parallel()

	engine := &mockRefresher{err: errors.New("no ratings")}
	svc := NewModelRefreshService(engine, ModelRefreshConfig{
		RefreshOnStartup: true,
		Interval:         10 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for engine.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled after failures", err)
	}
	if got := engine.calls.Load(); got < 2 {
		t.Errorf("refresh calls = %d, want retries after failure", got)
	}
}
