// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

// Package models defines data structures used throughout the Earshot
// application: raw feed payloads, candidate events awaiting ingestion, and
// query results returned by the activity store.
package models

// BuddySnapshot is the raw payload returned by the friend activity feed.
// Each entry describes one friend and what they were last seen playing.
type BuddySnapshot struct {
	Friends []FriendActivity `json:"friends"`
}

// FriendActivity is one friend's most recent listening state as reported by
// the feed. Timestamp is epoch milliseconds of the last update; a zero or
// missing timestamp means the feed has no recent data for this friend.
type FriendActivity struct {
	Timestamp int64     `json:"timestamp"`
	User      FeedUser  `json:"user"`
	Track     FeedTrack `json:"track"`
}

// FeedUser identifies the friend. URI is the stable identifier
// (e.g. "spotify:user:alice"); Name and ImageURL are mutable attributes.
type FeedUser struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// FeedTrack describes the track a friend is playing, with optional album,
// artist, and playback-context references.
type FeedTrack struct {
	URI      string       `json:"uri"`
	Name     string       `json:"name"`
	ImageURL string       `json:"imageUrl,omitempty"`
	Album    *FeedRef     `json:"album,omitempty"`
	Artist   *FeedRef     `json:"artist,omitempty"`
	Context  *FeedContext `json:"context,omitempty"`
}

// FeedRef is a named reference to an album or artist.
type FeedRef struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// FeedContext describes what the track was played from (playlist, album...).
type FeedContext struct {
	URI   string `json:"uri"`
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// CandidateEvent converts a feed record into an in-memory event candidate
// ready for validation and ingestion.
func (f *FriendActivity) CandidateEvent() CandidateEvent {
	c := CandidateEvent{
		Timestamp: f.Timestamp,
		Listener: Listener{
			URI:      f.User.URI,
			Name:     f.User.Name,
			ImageURL: f.User.ImageURL,
		},
		Track: Track{
			URI:      f.Track.URI,
			Name:     f.Track.Name,
			ImageURL: f.Track.ImageURL,
		},
	}
	if f.Track.Album != nil {
		c.Track.AlbumURI = f.Track.Album.URI
		c.Track.AlbumName = f.Track.Album.Name
	}
	if f.Track.Artist != nil {
		c.Track.ArtistURI = f.Track.Artist.URI
		c.Track.ArtistName = f.Track.Artist.Name
	}
	if f.Track.Context != nil {
		c.Context = &PlaybackContext{
			URI:   f.Track.Context.URI,
			Name:  f.Track.Context.Name,
			Index: f.Track.Context.Index,
		}
	}
	return c
}
