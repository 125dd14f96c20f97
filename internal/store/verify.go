// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"
	"fmt"

	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
)

// VerifyAndRepair runs the structural consistency pass: confirm the baseline
// structures exist (reinitializing them if missing) and confirm every
// registry entry has a backing stream table, re-provisioning missing streams
// as empty tables under their recorded handles. Recreation is logged as a
// warning because the original events are gone — the data loss is explicit,
// not hidden. Any unexpected storage error propagates; callers running this
// at startup must treat that as fatal.
//
// Safe to re-run at any time.
func (s *Store) VerifyAndRepair(ctx context.Context) error {
	db, err := s.sessions.Acquire(ctx)
	if err != nil {
		return err
	}

	// Step 1: baseline structures.
	for _, name := range baselineTables {
		ok, err := tableExists(db, name)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if !ok {
			logging.Ctx(ctx).Warn().Str("table", name).Msg("Baseline structure missing, reinitializing schema")
			if err := applyBaselineSchema(db); err != nil {
				return fmt.Errorf("verification failed to reinitialize schema: %w", err)
			}
			break
		}
	}

	// Step 2: every registry entry must have its backing stream.
	rows, err := db.QueryContext(ctx, `SELECT listener_uri, stream_table FROM stream_registry`)
	if err != nil {
		return fmt.Errorf("verification failed to enumerate registry: %w", err)
	}
	defer closeQuietly(rows)

	type entry struct{ listenerURI, table string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.listenerURI, &e.table); err != nil {
			return fmt.Errorf("verification failed to scan registry entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("verification failed reading registry: %w", err)
	}

	repaired := 0
	for _, e := range entries {
		ok, err := tableExists(db, e.table)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if ok {
			continue
		}
		if !streamTableAllowList.MatchString(e.table) {
			return fmt.Errorf("verification found illegal stream handle %q for %s", e.table, e.listenerURI)
		}

		// Registry entry with no backing stream: out-of-band corruption.
		// Recreate an empty stream under the recorded handle; the handle
		// in the registry stays unchanged.
		logging.Ctx(ctx).Warn().
			Str("listener_uri", e.listenerURI).
			Str("stream_table", e.table).
			Msg("Registry entry has no backing stream, recreating empty stream (recorded events for this listener are lost)")

		for _, stmt := range streamDDL(e.table) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("verification failed to recreate stream %s: %w", e.table, err)
			}
		}
		metrics.StreamsRepaired.Inc()
		repaired++
	}

	logging.Ctx(ctx).Info().
		Int("registry_entries", len(entries)).
		Int("streams_repaired", repaired).
		Msg("Structural verification complete")
	return nil
}
