// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

// Package main is the entry point for the Earshot server.
//
// Earshot polls the Spotify friend-activity feed on a fixed interval,
// filters the snapshot down to recent activity, and appends listening
// events to append-only per-listener SQLite streams. A read-only HTTP API
// serves per-listener history, hourly aggregates, and an all-time export.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from environment variables and config files (Koanf v2)
//  2. Store: open SQLite, apply the baseline schema, verify and repair streams
//  3. Feed client: token exchange from sp_dc cookie, wrapped in a circuit breaker
//  4. Poller: the ingest loop, supervised in its own layer
//  5. HTTP server: the query API, supervised in its own layer
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (SPOTIFY_SP_DC, DATABASE_PATH, ...)
//   - Config file (config.yaml, path via CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - The poll loop finishes its current tick and stops
//   - The HTTP server stops accepting connections and drains in-flight requests
//   - Database sessions are closed
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/earshot/earshot/internal/api"
	"github.com/earshot/earshot/internal/config"
	"github.com/earshot/earshot/internal/feed"
	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/store"
	"github.com/earshot/earshot/internal/supervisor"
	"github.com/earshot/earshot/internal/tracker"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Dur("poll_interval", cfg.Spotify.PollInterval).
		Dur("recency_window", cfg.Spotify.RecencyWindow).
		Msg("Starting Earshot")

	activityStore, err := store.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open activity store")
	}
	defer func() {
		if err := activityStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing activity store")
		}
	}()

	// Verify stream structure on every boot; missing stream tables are
	// recreated empty so ingestion never writes into a void.
	if err := activityStore.VerifyAndRepair(context.Background()); err != nil {
		logging.Fatal().Err(err).Msg("Stream verification failed")
	}
	logging.Info().Msg("Activity store opened and verified")

	// The breaker keeps a flapping Spotify endpoint from burning the
	// poll budget on doomed requests.
	fetcher := feed.NewBreakerClient(feed.NewClient(cfg.Spotify))

	poller := tracker.NewActivityPoller(fetcher, activityStore, tracker.Config{
		Interval:      cfg.Spotify.PollInterval,
		RecencyWindow: cfg.Spotify.RecencyWindow,
	})

	server := api.NewServer(activityStore, cfg.Server, cfg.API)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddIngestService(poller)
	tree.AddAPIService(server)
	logging.Info().
		Str("addr", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Poller and query API added to supervisor tree")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
