// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/earshot/earshot/internal/logging"
)

// ContentionError reports a write that failed with a busy/locked storage
// error on every attempt. Callers can distinguish it from data-validity
// failures via IsContention.
type ContentionError struct {
	Attempts int
	Err      error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("write failed after %d attempts due to lock contention: %v", e.Attempts, e.Err)
}

func (e *ContentionError) Unwrap() error {
	return e.Err
}

// IsContention reports whether err is a ContentionError.
func IsContention(err error) bool {
	var ce *ContentionError
	return errors.As(err, &ce)
}

// ValidationError reports a malformed candidate event. It is non-fatal:
// the event is dropped and logged, never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid candidate event: " + e.Reason
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// isContentionError reports whether err is a transient busy/locked failure
// from the storage engine, the only error class eligible for retry.
func isContentionError(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	// Driver errors wrapped beyond errors.As reach — fall back to the
	// canonical SQLite message text.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// closeQuietly closes a resource and explicitly ignores any error.
// Use this for cleanup in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// closeWithLog closes a resource and logs any error.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}
