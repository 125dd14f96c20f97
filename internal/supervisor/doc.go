// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

/*
Package supervisor provides process supervision for Earshot using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of the long-running services in the application. It provides
Erlang/OTP-style supervision with automatic restart, failure isolation,
and graceful shutdown.

# Overview

The supervisor tree organizes services into two layers for failure isolation:

	RootSupervisor ("earshot")
	├── IngestSupervisor ("ingest-layer")
	│   └── ActivityPoller
	└── APISupervisor ("api-layer")
	    └── HTTP query server

This hierarchy ensures that:
  - A crash in the poll loop doesn't affect the query API
  - API failures don't interrupt ingestion
  - Each layer can restart independently

# Usage

Basic setup in main.go:

	logger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
	    log.Fatal(err)
	}

	tree.AddIngestService(poller)
	tree.AddAPIService(server)

	if err := tree.Serve(ctx); err != nil {
	    log.Printf("Supervisor stopped: %v", err)
	}

# Failure Handling

The supervisor uses a failure counter with exponential decay:

 1. Each service failure increments the counter
 2. Counter decays exponentially over time (FailureDecay seconds)
 3. When counter exceeds FailureThreshold, supervisor enters backoff
 4. During backoff, restarts are delayed by FailureBackoff duration

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return behavior:
  - Return nil: Service stopped cleanly, will not be restarted
  - Return error: Service crashed, will be restarted
  - Context canceled: Shutdown requested, return promptly

# What Is NOT Supervised

SQLite is intentionally not supervised:
  - It's an embedded library, not a long-running service
  - Sessions are managed by the store package
  - Corruption would require operator intervention anyway

The Spotify connection is supervised via the poller:
  - Token refresh is handled within the feed client
  - Circuit breaker provides failure isolation for API calls
*/
package supervisor
