// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

/*
Package supervisor provides process supervision for the recommendation
server using suture v4.

# Overview

Long-running services are organized into three layers:

	RootSupervisor ("recoserver")
	├── DataSupervisor ("data-layer")
	│   └── JournalGCService (if journal.enabled)
	├── EngineSupervisor ("engine-layer")
	│   └── ModelRefreshService
	└── APISupervisor ("api-layer")
	    ├── ServerService ("tcp-server")
	    └── ServerService ("admin-http", if admin.enabled)

A journal GC failure or a failed retrain is restarted inside its own layer
and never disturbs connected clients.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}

	tree.AddAPIService(services.NewServerService("tcp-server", srv, server.ErrServerClosed, 10*time.Second))
	tree.AddEngineService(services.NewModelRefreshService(engine, refreshCfg, logger))

	errCh := tree.ServeBackground(ctx)

# Service Interface

All services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return behavior:
  - Return error: Service crashed, will be restarted
  - Context canceled: Shutdown requested, return promptly

# Debugging Shutdown Issues

If services don't stop within the timeout:

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    logging.Warn().Str("service", svc.Name).Msg("service did not stop")
	}

Common causes:
  - Goroutines not respecting context cancellation
  - Blocked network I/O without deadlines
*/
package supervisor
