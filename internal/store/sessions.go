// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
)

// SessionManager owns one SQLite connection per worker context, created
// lazily on first use and cached until released. Sessions are never shared
// between workers; each *sql.DB is capped at a single underlying connection
// so a session maps one-to-one onto an engine connection.
type SessionManager struct {
	dsn string

	mu       sync.Mutex
	sessions map[string]*sql.DB
	closed   bool
}

// NewSessionManager creates a manager for the database at path. busyTimeout
// is applied as the SQLite busy_timeout pragma so brief lock contention is
// absorbed by the engine before surfacing as an error.
func NewSessionManager(path string, busyTimeout time.Duration) *SessionManager {
	return &SessionManager{
		dsn:      buildDSN(path, busyTimeout),
		sessions: make(map[string]*sql.DB),
	}
}

// buildDSN composes a go-sqlite3 DSN with the pragmas every session needs:
// WAL journaling for concurrent reads during writes, NORMAL synchronous mode,
// the configured busy timeout, and foreign key enforcement.
func buildDSN(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	q.Set("_foreign_keys", "on")
	return fmt.Sprintf("file:%s?%s", path, q.Encode())
}

// Acquire returns the calling worker's session, opening one if the worker
// has none. The session is keyed by the worker ID carried on ctx and cached
// until Release or CloseAll. Acquiring after a forced release transparently
// opens a fresh connection.
func (m *SessionManager) Acquire(ctx context.Context) (*sql.DB, error) {
	id := WorkerIDFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("session manager is closed")
	}
	if db, ok := m.sessions[id]; ok {
		return db, nil
	}

	db, err := sql.Open("sqlite3", m.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session for worker %s: %w", id, err)
	}

	// One engine connection per session. SQLite allows one writer at a
	// time; pooling extra connections inside a session would reintroduce
	// the cross-connection lock conflicts the session model avoids.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to connect session for worker %s: %w", id, err)
	}

	m.sessions[id] = db
	metrics.DBSessionsOpen.Set(float64(len(m.sessions)))
	logging.Debug().Str("worker_id", id).Msg("Opened database session")
	return db, nil
}

// Release closes and forgets the calling worker's session. Safe to call when
// none exists. The retry layer uses this to clear engine-side lock state tied
// to a stale connection before reattempting a write.
func (m *SessionManager) Release(ctx context.Context) {
	id := WorkerIDFromContext(ctx)

	m.mu.Lock()
	db, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		metrics.DBSessionsOpen.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if ok {
		closeWithLog(db, "session:"+id)
		logging.Debug().Str("worker_id", id).Msg("Released database session")
	}
}

// CloseAll closes every open session and marks the manager closed. Further
// Acquire calls fail. Returns the first close error encountered.
func (m *SessionManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	var firstErr error
	for id, db := range m.sessions {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close session for worker %s: %w", id, err)
		}
		delete(m.sessions, id)
	}
	metrics.DBSessionsOpen.Set(0)
	return firstErr
}

// openCount returns the number of currently open sessions.
func (m *SessionManager) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
