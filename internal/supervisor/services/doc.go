// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

/*
Package services provides suture.Service wrappers for server components.

This package adapts application components to the suture v4 supervision
model, translating their lifecycle patterns (ListenAndServe/Shutdown and
periodic jobs) into suture's context-aware Serve pattern.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Lifecycle translation (ListenAndServe to Serve)
  - Graceful shutdown via context cancellation
  - Service identification via fmt.Stringer

# Available Services

Server (ServerService):
  - Wraps the TCP line-protocol server or the admin *http.Server
  - Treats the server's "closed" sentinel as a clean stop
  - Configurable shutdown timeout for draining connections

Model Refresh (ModelRefreshService):
  - Retrains the factorization model when the rating generation moved
  - Optional training on startup

Journal GC (JournalGCService):
  - Runs value log garbage collection on the rating journal

# Usage Example

	tree, _ := supervisor.NewSupervisorTree(slogger, supervisor.DefaultTreeConfig())

	tree.AddAPIService(services.NewServerService("tcp-server", srv, server.ErrServerClosed, 10*time.Second))
	tree.AddAPIService(services.NewHTTPServerService(httpSrv, 10*time.Second))
	tree.AddEngineService(services.NewModelRefreshService(engine, services.ModelRefreshConfig{
	    RefreshOnStartup: true,
	    Interval:         30 * time.Second,
	}, logger))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-tree.ServeBackground(ctx)

# Error Handling

Services return:
  - nil: Service completed normally, will not be restarted
  - ctx.Err(): Service stopped due to context cancellation
  - other error: Service failed, supervisor will restart with backoff

Periodic jobs log their failures and keep ticking; only the listeners
return errors that make the supervisor restart them.
*/
package services
