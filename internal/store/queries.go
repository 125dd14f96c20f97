// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/earshot/earshot/internal/metrics"
	"github.com/earshot/earshot/internal/models"
)

// historySelect is the denormalized projection shared by the history
// queries: stream rows joined with their listener and track dimension rows.
const historySelect = `
	SELECT u.listener_uri,
	       l.name,
	       u.timestamp,
	       u.track_uri,
	       t.name,
	       COALESCE(t.artist_name, ''),
	       COALESCE(t.album_name, ''),
	       COALESCE(u.context_name, '')
	FROM (%s) u
	JOIN listeners l ON l.uri = u.listener_uri
	JOIN tracks t ON t.uri = u.track_uri`

// registryEntry is one stream directory row.
type registryEntry struct {
	ListenerURI string
	Table       string
}

// registryEntries returns the full stream directory.
func registryEntries(ctx context.Context, db *sql.DB) ([]registryEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT listener_uri, stream_table FROM stream_registry`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate stream registry: %w", err)
	}
	defer closeQuietly(rows)

	var entries []registryEntry
	for rows.Next() {
		var e registryEntry
		if err := rows.Scan(&e.ListenerURI, &e.Table); err != nil {
			return nil, fmt.Errorf("failed to scan registry entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// unionAllStreams builds a UNION ALL subquery spanning the given streams.
// Table names come from the registry and were validated at derivation time;
// listener URIs are bound as parameters, never interpolated.
func unionAllStreams(entries []registryEntry) (query string, args []any) {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf(
			`SELECT ? AS listener_uri, seq, timestamp, track_uri, context_name FROM %q`, e.Table))
		args = append(args, e.ListenerURI)
	}
	return strings.Join(parts, " UNION ALL "), args
}

// GetListenerHistory returns one listener's events newest first, optionally
// bounded by [from, to]. A listener with no stream yet has an empty history.
func (s *Store) GetListenerHistory(ctx context.Context, listenerURI string, from, to *time.Time) ([]models.HistoryEntry, error) {
	start := time.Now()
	db, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	table, ok, err := lookupStream(db, listenerURI)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.HistoryEntry{}, nil
	}

	sub := fmt.Sprintf(`SELECT ? AS listener_uri, seq, timestamp, track_uri, context_name FROM %q`, table)
	args := []any{listenerURI}

	query := fmt.Sprintf(historySelect, sub)
	var conds []string
	if from != nil {
		conds = append(conds, "u.timestamp >= ?")
		args = append(args, from.UnixMilli())
	}
	if to != nil {
		conds = append(conds, "u.timestamp <= ?")
		args = append(args, to.UnixMilli())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY u.timestamp DESC, u.seq DESC"

	entries, err := scanHistory(ctx, db, query, args)
	metrics.RecordDBQuery("SELECT", "stream", time.Since(start), err)
	return entries, err
}

// GetAllHistory returns events across all listeners newest first, optionally
// bounded below by from.
func (s *Store) GetAllHistory(ctx context.Context, from *time.Time) ([]models.HistoryEntry, error) {
	start := time.Now()
	db, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	regs, err := registryEntries(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return []models.HistoryEntry{}, nil
	}

	sub, args := unionAllStreams(regs)
	query := fmt.Sprintf(historySelect, sub)
	if from != nil {
		query += " WHERE u.timestamp >= ?"
		args = append(args, from.UnixMilli())
	}
	query += " ORDER BY u.timestamp DESC, u.listener_uri, u.seq DESC"

	entries, err := scanHistory(ctx, db, query, args)
	metrics.RecordDBQuery("SELECT", "all_streams", time.Since(start), err)
	return entries, err
}

// GetHourlyCounts returns listening event counts by listener and hour of day
// (0-23, UTC).
func (s *Store) GetHourlyCounts(ctx context.Context) ([]models.HourlyCount, error) {
	start := time.Now()
	db, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	regs, err := registryEntries(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return []models.HourlyCount{}, nil
	}

	sub, args := unionAllStreams(regs)
	query := fmt.Sprintf(`
		SELECT l.name,
		       CAST(strftime('%%H', u.timestamp/1000, 'unixepoch') AS INTEGER) AS hour,
		       COUNT(*)
		FROM (%s) u
		JOIN listeners l ON l.uri = u.listener_uri
		GROUP BY l.name, hour
		ORDER BY l.name, hour`, sub)

	rows, err := db.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "hourly_counts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly counts: %w", err)
	}
	defer closeQuietly(rows)

	var counts []models.HourlyCount
	for rows.Next() {
		var c models.HourlyCount
		if err := rows.Scan(&c.ListenerName, &c.Hour, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan hourly count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GetAllTimeHistory returns the full denormalized export across all
// listeners, newest first, with derived calendar fields (UTC) for offline
// analysis.
func (s *Store) GetAllTimeHistory(ctx context.Context) ([]models.AllTimeEntry, error) {
	start := time.Now()
	db, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	regs, err := registryEntries(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return []models.AllTimeEntry{}, nil
	}

	sub, args := unionAllStreams(regs)
	query := fmt.Sprintf(`
		SELECT u.listener_uri,
		       l.name,
		       u.timestamp,
		       u.track_uri,
		       t.name,
		       COALESCE(t.artist_name, ''),
		       COALESCE(t.album_name, ''),
		       COALESCE(u.context_name, ''),
		       strftime('%%Y-%%m-%%d', u.timestamp/1000, 'unixepoch'),
		       CAST(strftime('%%H', u.timestamp/1000, 'unixepoch') AS INTEGER),
		       CAST(strftime('%%w', u.timestamp/1000, 'unixepoch') AS INTEGER)
		FROM (%s) u
		JOIN listeners l ON l.uri = u.listener_uri
		JOIN tracks t ON t.uri = u.track_uri
		ORDER BY u.timestamp DESC, u.listener_uri, u.seq DESC`, sub)

	rows, err := db.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "all_time_history", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query all-time history: %w", err)
	}
	defer closeQuietly(rows)

	var entries []models.AllTimeEntry
	for rows.Next() {
		var e models.AllTimeEntry
		if err := rows.Scan(
			&e.ListenerURI, &e.ListenerName, &e.Timestamp, &e.TrackURI, &e.TrackName,
			&e.ArtistName, &e.AlbumName, &e.ContextName,
			&e.Date, &e.HourOfDay, &e.DayOfWeek,
		); err != nil {
			return nil, fmt.Errorf("failed to scan all-time entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanHistory runs a history query and scans its rows.
func scanHistory(ctx context.Context, db *sql.DB, query string, args []any) ([]models.HistoryEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer closeQuietly(rows)

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(
			&e.ListenerURI, &e.ListenerName, &e.Timestamp, &e.TrackURI, &e.TrackName,
			&e.ArtistName, &e.AlbumName, &e.ContextName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
