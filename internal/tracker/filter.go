// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

// Package tracker drives the poll-filter-ingest pipeline: fetch a friend
// activity snapshot, select events inside the recency window, and hand each
// survivor to the activity store.
package tracker

import (
	"time"

	"github.com/earshot/earshot/internal/models"
)

// SelectActive returns the candidate events whose last update falls within
// the recency window: now - timestamp/1000 <= window (seconds granularity, as
// feed timestamps are epoch milliseconds). Records without a timestamp count
// as timestamp zero and are necessarily stale. Output preserves input order;
// no dedup happens here — repeated sightings are intentional, each poll tick
// that sees a friend playing produces one event.
func SelectActive(snapshot *models.BuddySnapshot, window time.Duration, now time.Time) []models.CandidateEvent {
	if snapshot == nil {
		return nil
	}

	var selected []models.CandidateEvent
	windowSecs := int64(window.Seconds())
	nowSecs := now.Unix()
	for i := range snapshot.Friends {
		f := &snapshot.Friends[i]
		age := nowSecs - f.Timestamp/1000
		if age > windowSecs {
			continue
		}
		selected = append(selected, f.CandidateEvent())
	}
	return selected
}
