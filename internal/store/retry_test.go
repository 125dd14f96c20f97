// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
)

func busyError() error {
	return sqlite3.Error{Code: sqlite3.ErrBusy}
}

func TestWithWriteRetryEventuallySucceeds(t *testing.T) {
	s := newTestStore(t)
	ctx := WithWorkerID(context.Background(), "retry-test")

	// Forced busy on the first N attempts, N < maxAttempts: total observed
	// attempts must be N+1.
	for n := 0; n < s.maxAttempts; n++ {
		attempts := 0
		err := s.withWriteRetry(ctx, "test_op", func(db *sql.DB) error {
			attempts++
			if attempts <= n {
				return busyError()
			}
			return nil
		})
		if err != nil {
			t.Fatalf("N=%d: expected success, got %v", n, err)
		}
		if attempts != n+1 {
			t.Errorf("N=%d: expected %d attempts, observed %d", n, n+1, attempts)
		}
	}
}

func TestWithWriteRetryExhaustion(t *testing.T) {
	s := newTestStore(t)
	ctx := WithWorkerID(context.Background(), "retry-exhaust")

	attempts := 0
	err := s.withWriteRetry(ctx, "test_op", func(db *sql.DB) error {
		attempts++
		return busyError()
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !IsContention(err) {
		t.Fatalf("expected ContentionError, got %T: %v", err, err)
	}
	if attempts != s.maxAttempts {
		t.Errorf("expected exactly %d attempts, observed %d", s.maxAttempts, attempts)
	}

	var ce *ContentionError
	if errors.As(err, &ce) && ce.Attempts != s.maxAttempts {
		t.Errorf("ContentionError.Attempts = %d, want %d", ce.Attempts, s.maxAttempts)
	}
}

func TestWithWriteRetryNonContentionPropagatesImmediately(t *testing.T) {
	s := newTestStore(t)
	ctx := WithWorkerID(context.Background(), "retry-fatal")

	fatal := errors.New("no such table: missing")
	attempts := 0
	err := s.withWriteRetry(ctx, "test_op", func(db *sql.DB) error {
		attempts++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Fatalf("expected original error, got %v", err)
	}
	if IsContention(err) {
		t.Error("non-contention failure must not be tagged as contention")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt, observed %d", attempts)
	}
}

func TestWithWriteRetryRecyclesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := WithWorkerID(context.Background(), "retry-recycle")

	var handles []*sql.DB
	attempts := 0
	err := s.withWriteRetry(ctx, "test_op", func(db *sql.DB) error {
		handles = append(handles, db)
		attempts++
		if attempts == 1 {
			return busyError()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(handles))
	}
	if handles[0] == handles[1] {
		t.Error("expected a fresh session on retry, got the same handle")
	}
}

func TestWithWriteRetryHonorsCancellation(t *testing.T) {
	s := newTestStore(t)
	s.retryDelay = time.Minute // would stall if cancellation were ignored
	ctx, cancel := context.WithCancel(WithWorkerID(context.Background(), "retry-cancel"))

	done := make(chan error, 1)
	go func() {
		done <- s.withWriteRetry(ctx, "test_op", func(db *sql.DB) error {
			return busyError()
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation during backoff")
	}
}

func TestIsContentionErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"wrapped busy message", errors.New("exec: database is locked"), true},
		{"table locked message", errors.New("database table is locked: listeners"), true},
		{"unrelated", errors.New("no such table"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isContentionError(tt.err); got != tt.want {
				t.Errorf("isContentionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
