// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"database/sql"
	"fmt"
)

// baselineSchema holds the three fixed structures. All statements are
// create-if-absent so reapplying the schema is always safe.
var baselineSchema = []string{
	`CREATE TABLE IF NOT EXISTS listeners (
		uri        TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		image_url  TEXT,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tracks (
		uri         TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		image_url   TEXT,
		album_uri   TEXT,
		album_name  TEXT,
		artist_uri  TEXT,
		artist_name TEXT,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stream_registry (
		listener_uri TEXT PRIMARY KEY,
		stream_table TEXT NOT NULL,
		created_at   TEXT NOT NULL
	)`,
}

// baselineTables lists the structures the verifier must find.
var baselineTables = []string{"listeners", "tracks", "stream_registry"}

// applyBaselineSchema creates the fixed structures if absent. Idempotent.
func applyBaselineSchema(db *sql.DB) error {
	for _, stmt := range baselineSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create baseline structure: %w", err)
		}
	}
	return nil
}

// streamDDL returns the statements that provision one listener's event
// stream: the append-only log plus its secondary timestamp index. table must
// already be validated by streamTableName.
func streamDDL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     INTEGER NOT NULL,
			track_uri     TEXT NOT NULL,
			context_uri   TEXT,
			context_name  TEXT,
			context_index INTEGER
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (timestamp)`, "idx_"+table+"_timestamp", table),
	}
}

// tableExists reports whether a table with the given name exists.
func tableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}
