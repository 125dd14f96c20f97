// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

/*
Package store implements the activity store: durable, per-listener recording
of listening events backed by SQLite.

# Layout

Three fixed structures hold dimension data and the stream directory:

  - listeners: one row per sighted friend, upserted on every sighting
  - tracks: one row per sighted track, upserted on every sighting
  - stream_registry: maps a listener URI to its dedicated event table

Each listener additionally owns a dynamically named event table (the
"stream"), an append-only log with an auto-incrementing sequence number and a
secondary index on timestamp. Streams are provisioned lazily on first
sighting; table creation and registry insertion happen in one transaction.

# Sessions

Every worker context owns at most one SQLite connection, acquired lazily
through the SessionManager and keyed by a worker ID carried on the
context.Context. Sessions are never shared between workers. SQLite is
configured with WAL mode and a conservative busy timeout so brief contention
resolves inside the engine before the retry layer engages.

# Write retries

All mutating operations run through a bounded retry wrapper. A busy/locked
error from the engine triggers exponential backoff, a forced session recycle
(close and reopen, clearing engine-side lock state tied to the stale
connection), and another attempt, up to a configured total attempt count.
Exhaustion surfaces a ContentionError; any other error class propagates
immediately.

# Verification

VerifyAndRepair confirms the baseline structures exist and that every
registry entry has a backing stream table, recreating missing streams as
empty tables. It runs at startup and is safe to re-run anytime.
*/
package store
