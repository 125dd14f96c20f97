// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
	"github.com/earshot/earshot/internal/models"
	"github.com/earshot/earshot/internal/validation"
)

// validateCandidate checks the shape of a candidate event and fills sentinel
// defaults for missing optional names. Returns a ValidationError for
// malformed events; the caller drops them without mutation.
func validateCandidate(c *models.CandidateEvent) error {
	if !validation.IsNamespacedURI(c.Listener.URI) {
		return &ValidationError{Reason: fmt.Sprintf("listener URI %q is not a namespaced identifier", c.Listener.URI)}
	}
	if c.Track.URI == "" {
		return &ValidationError{Reason: "track URI is empty"}
	}

	if c.Listener.Name == "" {
		c.Listener.Name = models.UnknownName
	}
	if c.Track.Name == "" {
		c.Track.Name = models.UnknownName
	}
	return nil
}

// StoreActivity validates and persists one candidate event: upsert the
// listener and track dimension rows, resolve or provision the listener's
// stream, and append one event to it. All four sub-steps run inside a single
// transaction per call, through the write-retry layer, so a partially
// ingested event can never be observed. Validation failures are non-fatal
// and perform no mutation.
func (s *Store) StoreActivity(ctx context.Context, candidate models.CandidateEvent) error {
	start := time.Now()

	if err := validateCandidate(&candidate); err != nil {
		metrics.EventsDropped.WithLabelValues("validation").Inc()
		logging.Ctx(ctx).Warn().
			Str("listener_uri", candidate.Listener.URI).
			Str("track_uri", candidate.Track.URI).
			Err(err).
			Msg("Dropping malformed candidate event")
		return err
	}

	err := s.withWriteRetry(ctx, "store_activity", func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := upsertListener(tx, candidate.Listener); err != nil {
			return err
		}
		if err := upsertTrack(tx, candidate.Track); err != nil {
			return err
		}

		table, created, err := resolveOrCreateStream(tx, candidate.Listener.URI)
		if err != nil {
			return err
		}

		if err := appendEvent(tx, table, candidate); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit ingestion: %w", err)
		}

		if created {
			metrics.StreamsCreated.Inc()
			logging.Ctx(ctx).Info().
				Str("listener_uri", candidate.Listener.URI).
				Str("stream_table", table).
				Msg("Provisioned new listener stream")
		}
		return nil
	})

	metrics.RecordDBQuery("INSERT", "stream", time.Since(start), err)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("storage").Inc()
		return err
	}

	metrics.EventsIngested.Inc()
	logging.Ctx(ctx).Debug().
		Str("listener_uri", candidate.Listener.URI).
		Str("track", candidate.Track.Name).
		Int64("timestamp", candidate.Timestamp).
		Msg("Stored listening event")
	return nil
}

// upsertListener writes the listener dimension row, last-write-wins.
func upsertListener(q execer, l models.Listener) error {
	_, err := q.Exec(
		`INSERT INTO listeners (uri, name, image_url, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (uri) DO UPDATE SET
		   name = excluded.name,
		   image_url = excluded.image_url,
		   updated_at = excluded.updated_at`,
		l.URI, l.Name, nullable(l.ImageURL), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listener %s: %w", l.URI, err)
	}
	return nil
}

// upsertTrack writes the track dimension row, last-write-wins.
func upsertTrack(q execer, t models.Track) error {
	_, err := q.Exec(
		`INSERT INTO tracks (uri, name, image_url, album_uri, album_name, artist_uri, artist_name, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (uri) DO UPDATE SET
		   name = excluded.name,
		   image_url = excluded.image_url,
		   album_uri = excluded.album_uri,
		   album_name = excluded.album_name,
		   artist_uri = excluded.artist_uri,
		   artist_name = excluded.artist_name,
		   updated_at = excluded.updated_at`,
		t.URI, t.Name, nullable(t.ImageURL),
		nullable(t.AlbumURI), nullable(t.AlbumName),
		nullable(t.ArtistURI), nullable(t.ArtistName),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert track %s: %w", t.URI, err)
	}
	return nil
}

// appendEvent appends one listening event to the given stream table.
func appendEvent(q execer, table string, c models.CandidateEvent) error {
	var ctxURI, ctxName any
	var ctxIndex any
	if c.Context != nil {
		ctxURI = c.Context.URI
		ctxName = c.Context.Name
		ctxIndex = c.Context.Index
	}

	_, err := q.Exec(
		fmt.Sprintf(`INSERT INTO %q (timestamp, track_uri, context_uri, context_name, context_index)
		 VALUES (?, ?, ?, ?, ?)`, table),
		c.Timestamp, c.Track.URI, ctxURI, ctxName, ctxIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to append event to %s: %w", table, err)
	}
	return nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
