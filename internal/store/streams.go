// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
)

const (
	streamTablePrefix = "listener_"
	streamTableSuffix = "_events"
)

// streamTableAllowList is the strict shape every derived stream table name
// must match before it is interpolated into DDL.
var streamTableAllowList = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// streamTableName derives the storage table name for a listener's event
// stream. The local component of the URI (everything after the last ":") is
// sanitized to [A-Za-z0-9_] and wrapped in a fixed prefix and suffix.
// Derivation fails if the local component is empty or sanitizes to nothing
// but separators.
func streamTableName(listenerURI string) (string, error) {
	idx := strings.LastIndex(listenerURI, ":")
	if idx < 0 {
		return "", &ValidationError{Reason: fmt.Sprintf("listener URI %q has no namespace separator", listenerURI)}
	}
	local := listenerURI[idx+1:]
	if local == "" {
		return "", &ValidationError{Reason: fmt.Sprintf("listener URI %q has an empty local component", listenerURI)}
	}

	sanitized := sanitizePattern.ReplaceAllString(local, "_")
	if strings.Trim(sanitized, "_") == "" {
		return "", &ValidationError{Reason: fmt.Sprintf("listener URI %q sanitizes to an unusable name", listenerURI)}
	}

	table := streamTablePrefix + sanitized + streamTableSuffix
	if !streamTableAllowList.MatchString(table) {
		return "", &ValidationError{Reason: fmt.Sprintf("derived stream name %q contains illegal characters", table)}
	}
	return table, nil
}

// execer is the subset of *sql.DB and *sql.Tx the stream helpers need, so
// provisioning can run standalone or inside an ingestion transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// lookupStream returns the registered stream table for a listener, or
// ok=false when no registry entry exists.
func lookupStream(q execer, listenerURI string) (table string, ok bool, err error) {
	err = q.QueryRow(
		`SELECT stream_table FROM stream_registry WHERE listener_uri = ?`, listenerURI,
	).Scan(&table)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up stream for %s: %w", listenerURI, err)
	}
	return table, true, nil
}

// provisionStream creates the backing table plus its timestamp index and
// inserts the registry entry. Callers run it inside a transaction so a
// registry entry without a backing table can only arise from out-of-band
// corruption.
func provisionStream(q execer, listenerURI, table string) error {
	for _, stmt := range streamDDL(table) {
		if _, err := q.Exec(stmt); err != nil {
			return fmt.Errorf("failed to provision stream %s: %w", table, err)
		}
	}
	_, err := q.Exec(
		`INSERT INTO stream_registry (listener_uri, stream_table, created_at) VALUES (?, ?, ?)`,
		listenerURI, table, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to register stream %s: %w", table, err)
	}
	return nil
}

// resolveOrCreateStream returns the listener's stream table, provisioning it
// when absent. created reports whether a new stream was provisioned.
func resolveOrCreateStream(q execer, listenerURI string) (table string, created bool, err error) {
	table, ok, err := lookupStream(q, listenerURI)
	if err != nil {
		return "", false, err
	}
	if ok {
		return table, false, nil
	}

	table, err = streamTableName(listenerURI)
	if err != nil {
		return "", false, err
	}
	if err := provisionStream(q, listenerURI, table); err != nil {
		return "", false, err
	}
	return table, true, nil
}

// GetOrCreateStream returns the stream table handle for a listener,
// provisioning the backing structure and registry entry in one transaction on
// first sighting. Idempotent: an existing registry entry is returned without
// touching storage structure. Goes through the write-retry layer because
// stream creation is exposed to concurrent ingestion.
func (s *Store) GetOrCreateStream(ctx context.Context, listenerURI string) (string, error) {
	// Fail fast on underivable names before opening a transaction.
	if _, err := streamTableName(listenerURI); err != nil {
		return "", err
	}

	var table string
	err := s.withWriteRetry(ctx, "get_or_create_stream", func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		t, created, err := resolveOrCreateStream(tx, listenerURI)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit stream creation: %w", err)
		}

		table = t
		if created {
			metrics.StreamsCreated.Inc()
			logging.Ctx(ctx).Info().
				Str("listener_uri", listenerURI).
				Str("stream_table", t).
				Msg("Provisioned new listener stream")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return table, nil
}
