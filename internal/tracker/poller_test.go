// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/earshot/earshot/internal/models"
)

// fakeFetcher returns canned snapshots or errors, counting calls.
type fakeFetcher struct {
	mu       sync.Mutex
	snapshot *models.BuddySnapshot
	err      error
	calls    int
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context) (*models.BuddySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore records ingested events and can fail selectively.
type fakeStore struct {
	mu       sync.Mutex
	stored   []models.CandidateEvent
	failURIs map[string]error
}

func (s *fakeStore) StoreActivity(ctx context.Context, c models.CandidateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failURIs[c.Listener.URI]; ok {
		return err
	}
	s.stored = append(s.stored, c)
	return nil
}

func (s *fakeStore) ReleaseSession(ctx context.Context) {}

func (s *fakeStore) storedEvents() []models.CandidateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CandidateEvent(nil), s.stored...)
}

func recentSnapshot(uris ...string) *models.BuddySnapshot {
	snap := &models.BuddySnapshot{}
	ts := time.Now().Add(-10 * time.Second).UnixMilli()
	for _, uri := range uris {
		snap.Friends = append(snap.Friends, models.FriendActivity{
			Timestamp: ts,
			User:      models.FeedUser{URI: uri, Name: "Friend"},
			Track:     models.FeedTrack{URI: "spotify:track:t1", Name: "Song"},
		})
	}
	return snap
}

func testConfig() Config {
	return Config{
		Interval:      10 * time.Millisecond,
		RecencyWindow: 5 * time.Minute,
	}
}

func TestPollerIngestsActiveEvents(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: recentSnapshot("spotify:user:alice", "spotify:user:bob")}
	st := &fakeStore{}
	p := NewActivityPoller(fetcher, st, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for len(st.storedEvents()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for ingestion, stored %d", len(st.storedEvents()))
		case <-time.After(5 * time.Millisecond):
		}
	}

	events := st.storedEvents()
	if events[0].Listener.URI != "spotify:user:alice" {
		t.Errorf("expected input order preserved, first was %s", events[0].Listener.URI)
	}
}

func TestPollerSurvivesFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream unavailable")}
	st := &fakeStore{}
	p := NewActivityPoller(fetcher, st, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	// The loop must keep ticking through failures.
	deadline := time.After(2 * time.Second)
	for fetcher.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("loop stalled after fetch failure, %d calls", fetcher.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !p.IsRunning() {
		t.Error("poller must stay running through fetch failures")
	}

	// Recovery: swap in a good snapshot and confirm ingestion resumes.
	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.snapshot = recentSnapshot("spotify:user:alice")
	fetcher.mu.Unlock()

	deadline = time.After(2 * time.Second)
	for len(st.storedEvents()) == 0 {
		select {
		case <-deadline:
			t.Fatal("ingestion did not resume after upstream recovery")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPollerIsolatesPerEventFailures(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: recentSnapshot("spotify:user:bad", "spotify:user:good")}
	st := &fakeStore{failURIs: map[string]error{
		"spotify:user:bad": errors.New("storage rejected event"),
	}}
	p := NewActivityPoller(fetcher, st, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for len(st.storedEvents()) == 0 {
		select {
		case <-deadline:
			t.Fatal("good event never ingested despite bad sibling")
		case <-time.After(5 * time.Millisecond):
		}
	}
	for _, e := range st.storedEvents() {
		if e.Listener.URI != "spotify:user:good" {
			t.Errorf("failed event leaked into store: %s", e.Listener.URI)
		}
	}
}

func TestPollerStopIsCooperative(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: recentSnapshot("spotify:user:alice")}
	st := &fakeStore{}
	p := NewActivityPoller(fetcher, st, testConfig())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; loop is not cooperative")
	}
	if p.IsRunning() {
		t.Error("poller reports running after Stop")
	}

	// Stop again is a no-op.
	p.Stop()
}

func TestPollerServeStopsOnContextCancel(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: recentSnapshot("spotify:user:alice")}
	st := &fakeStore{}
	p := NewActivityPoller(fetcher, st, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled from Serve, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestPollerStartIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: recentSnapshot()}
	st := &fakeStore{}
	p := NewActivityPoller(fetcher, st, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	p.Stop()
}
