// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
)

// withWriteRetry runs a mutating operation with bounded retry on lock
// contention. Each attempt acquires the calling worker's session; a
// busy/locked failure sleeps with exponential backoff (base delay doubling
// per attempt), forcibly releases the session so the next attempt opens a
// fresh connection, and tries again. Any other failure class propagates
// immediately. Exhausting all attempts returns a ContentionError wrapping
// the last contention failure.
func (s *Store) withWriteRetry(ctx context.Context, name string, op func(db *sql.DB) error) error {
	attempts := s.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := s.sessions.Acquire(ctx)
		if err != nil {
			return err
		}

		err = op(db)
		if err == nil {
			return nil
		}
		if !isContentionError(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := s.retryDelay << (attempt - 1)
		logging.Ctx(ctx).Warn().
			Str("operation", name).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("Write hit lock contention, retrying with fresh session")
		metrics.DBWriteRetries.Inc()

		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
		// Recycle the session so the next attempt opens a new
		// connection, clearing engine-side lock state.
		s.sessions.Release(ctx)
	}

	metrics.DBContentionExhausted.Inc()
	logging.Ctx(ctx).Error().
		Str("operation", name).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Write failed after exhausting contention retries")
	return &ContentionError{Attempts: attempts, Err: lastErr}
}

// sleepContext sleeps for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
