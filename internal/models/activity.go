// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package models

import "time"

// UnknownName is the sentinel stored when a feed record omits a display name.
const UnknownName = "Unknown"

// Listener is a tracked friend. URI is the stable identity; Name and
// ImageURL are overwritten on every sighting (last-write-wins upsert).
type Listener struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// Track is a dimension row for a sighted track. URI is the stable identity;
// all other attributes are overwritten on every sighting. Album and artist
// references are optional and empty when the feed omits them.
type Track struct {
	URI        string `json:"uri"`
	Name       string `json:"name"`
	ImageURL   string `json:"image_url,omitempty"`
	AlbumURI   string `json:"album_uri,omitempty"`
	AlbumName  string `json:"album_name,omitempty"`
	ArtistURI  string `json:"artist_uri,omitempty"`
	ArtistName string `json:"artist_name,omitempty"`
}

// PlaybackContext records what a track was played from.
type PlaybackContext struct {
	URI   string `json:"uri"`
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// CandidateEvent is a filtered but not-yet-validated listening event awaiting
// ingestion. Timestamp is epoch milliseconds from the feed.
type CandidateEvent struct {
	Timestamp int64            `json:"timestamp"`
	Listener  Listener         `json:"listener"`
	Track     Track            `json:"track"`
	Context   *PlaybackContext `json:"context,omitempty"`
}

// ListeningEvent is one persisted stream entry. Seq is a synthetic
// auto-incrementing sequence number that totally orders events within a
// listener's stream even when timestamps tie.
type ListeningEvent struct {
	Seq          int64  `json:"seq"`
	Timestamp    int64  `json:"timestamp"`
	TrackURI     string `json:"track_uri"`
	ContextURI   string `json:"context_uri,omitempty"`
	ContextName  string `json:"context_name,omitempty"`
	ContextIndex int    `json:"context_index,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e ListeningEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// HistoryEntry is a denormalized listening event joined with its track and
// listener dimension rows, as returned by the query surface.
type HistoryEntry struct {
	ListenerURI  string `json:"listener_uri"`
	ListenerName string `json:"listener_name"`
	Timestamp    int64  `json:"timestamp"`
	TrackURI     string `json:"track_uri"`
	TrackName    string `json:"track_name"`
	ArtistName   string `json:"artist_name,omitempty"`
	AlbumName    string `json:"album_name,omitempty"`
	ContextName  string `json:"context_name,omitempty"`
}

// HourlyCount is an aggregate of listening events by listener and hour of day
// (0-23, in UTC).
type HourlyCount struct {
	ListenerName string `json:"listener_name"`
	Hour         int    `json:"hour"`
	Count        int64  `json:"count"`
}

// AllTimeEntry is a fully denormalized export row with derived calendar
// fields for offline analysis.
type AllTimeEntry struct {
	HistoryEntry
	Date      string `json:"date"`        // YYYY-MM-DD (UTC)
	HourOfDay int    `json:"hour_of_day"` // 0-23 (UTC)
	DayOfWeek int    `json:"day_of_week"` // 0=Sunday .. 6=Saturday (UTC)
}
