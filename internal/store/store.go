// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/earshot/earshot/internal/config"
	"github.com/earshot/earshot/internal/logging"
)

// Store is the activity store. It owns all persisted structures; no other
// component mutates them directly. Safe for concurrent use: concurrency
// safety is delegated to SQLite's locking plus the write-retry policy, with
// one session per worker context.
type Store struct {
	sessions    *SessionManager
	maxAttempts int
	retryDelay  time.Duration
}

// Open opens (or creates) the activity store at the configured path and
// ensures the baseline schema exists. Callers should run VerifyAndRepair
// once after Open and treat its failure as fatal.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}

	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	s := &Store{
		sessions:    NewSessionManager(cfg.Path, busyTimeout),
		maxAttempts: cfg.RetryAttempts,
		retryDelay:  retryDelay,
	}

	ctx := WithWorkerID(context.Background(), "open")
	db, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := applyBaselineSchema(db); err != nil {
		s.sessions.Release(ctx)
		return nil, err
	}
	s.sessions.Release(ctx)

	logging.Info().Str("path", cfg.Path).Msg("Activity store opened")
	return s, nil
}

// Close releases all sessions. The store is unusable afterwards.
func (s *Store) Close() error {
	return s.sessions.CloseAll()
}

// ReleaseSession closes the calling worker's session, if any. Workers should
// call this when they finish so long-lived processes do not accumulate idle
// connections.
func (s *Store) ReleaseSession(ctx context.Context) {
	s.sessions.Release(ctx)
}
