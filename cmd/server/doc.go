// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

/*
Package main is the entry point for the recommendation server.

The server answers newline-terminated "user_id algorithm k num" requests on a
TCP port with the top rated items for that user, computed by one of three
recommenders (user KNN with Pearson correlation, SGD matrix factorization, or
bipartite PageRank) over a shared in-memory rating store.

# Application Architecture

The server implements a layered architecture with Suture v4 process supervision:

	RootSupervisor ("recoserver")
	├── DataSupervisor ("data-layer")
	│   └── Journal GC (optional, JOURNAL_ENABLED=true)
	├── EngineSupervisor ("engine-layer")
	│   └── Model refresh (RECOMMEND_REFRESH_INTERVAL > 0)
	└── APISupervisor ("api-layer")
	    ├── TCP line-protocol server
	    └── Admin HTTP server (REST, /metrics, /ws)

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config file and environment variables
 2. Logging: zerolog with JSON/console output modes
 3. Rating store: optional seed file load
 4. Journal: BadgerDB replay, then journaling of every accepted batch
 5. Recommendation engine and session table
 6. TCP listener: bound before the supervisor starts so bind errors are fatal
 7. Admin HTTP server: Chi router with middleware stack
 8. Supervisor Tree: Suture v4 process supervision

# Signal Handling

On SIGINT or SIGTERM the supervisor cancels every service. The TCP server
stops accepting, closes every session and waits for its workers; the admin
server drains in-flight requests; the journal is closed last.

# Exit Codes

  - 0: clean shutdown
  - 1: configuration, journal or listener failure at startup

# Example Usage

	export SERVER_PORT=8080
	export STORE_SEED_FILE=./data/ratings.csv
	export JOURNAL_ENABLED=true
	./recoserver

	printf '0 1 5 10\n' | nc localhost 8080
*/
package main
