// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/earshot/earshot/internal/config"
	"github.com/earshot/earshot/internal/models"
)

const buddylistBody = `{
  "friends": [
    {
      "timestamp": 1756400000000,
      "user": {"uri": "spotify:user:alice", "name": "Alice"},
      "track": {"uri": "spotify:track:t1", "name": "Song A"}
    }
  ]
}`

// newTestClient builds a client pointed at test servers with fast retry timing.
func newTestClient(t *testing.T, buddylistURL, tokenURL string, cfg config.SpotifyConfig) *Client {
	t.Helper()
	c := NewClient(cfg)
	c.buddylistURL = buddylistURL
	c.tokenURL = tokenURL
	c.retryBaseDelay = time.Millisecond
	return c
}

func TestFetchSnapshotWithBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(buddylistBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", config.SpotifyConfig{BearerToken: "BQtest"})

	snap, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if gotAuth != "Bearer BQtest" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if len(snap.Friends) != 1 || snap.Friends[0].User.URI != "spotify:user:alice" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestFetchSnapshotExchangesSpDC(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("sp_dc")
		if err != nil || cookie.Value != "cookie-value" {
			t.Errorf("expected sp_dc cookie, got %v", cookie)
		}
		_, _ = w.Write([]byte(`{"accessToken": "BQexchanged", "accessTokenExpirationTimestampMs": 9999999999999}`))
	}))
	defer tokenSrv.Close()

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer BQexchanged" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(buddylistBody))
	}))
	defer feedSrv.Close()

	c := newTestClient(t, feedSrv.URL, tokenSrv.URL, config.SpotifyConfig{SpDC: "cookie-value"})

	snap, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if len(snap.Friends) != 1 {
		t.Errorf("expected 1 friend, got %d", len(snap.Friends))
	}
}

func TestFetchSnapshotRefreshesOn401(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := tokenCalls.Add(1)
		token := "stale"
		if n > 1 {
			token = "fresh"
		}
		_, _ = w.Write([]byte(`{"accessToken": "` + token + `", "accessTokenExpirationTimestampMs": 9999999999999}`))
	}))
	defer tokenSrv.Close()

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(buddylistBody))
	}))
	defer feedSrv.Close()

	c := newTestClient(t, feedSrv.URL, tokenSrv.URL, config.SpotifyConfig{SpDC: "cookie-value"})

	snap, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("expected transparent refresh on 401, got %v", err)
	}
	if len(snap.Friends) != 1 {
		t.Errorf("expected snapshot after refresh, got %+v", snap)
	}
	if tokenCalls.Load() != 2 {
		t.Errorf("expected 2 token exchanges (initial + refresh), got %d", tokenCalls.Load())
	}
}

func TestFetchSnapshot401WithStaticTokenIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", config.SpotifyConfig{BearerToken: "expired"})

	_, err := c.FetchSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error for 401 with static token")
	}
	if !IsAuth(err) {
		t.Errorf("expected AuthError, got %T: %v", err, err)
	}
}

func TestFetchSnapshotRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(buddylistBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", config.SpotifyConfig{BearerToken: "BQtest"})

	snap, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("expected success after 429 backoff, got %v", err)
	}
	if len(snap.Friends) != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 requests (2 rate-limited + 1 success), got %d", calls.Load())
	}
}

func TestFetchSnapshot429Exhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", config.SpotifyConfig{BearerToken: "BQtest"})

	_, err := c.FetchSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting 429 retries")
	}
	if IsAuth(err) {
		t.Errorf("rate limiting must not be classified as auth failure: %v", err)
	}
}

func TestFetchSnapshotServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", config.SpotifyConfig{BearerToken: "BQtest"})

	_, err := c.FetchSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error for HTTP 502")
	}
	if IsAuth(err) {
		t.Errorf("server error must not be classified as auth failure: %v", err)
	}
}

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	var calls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"accessToken": "BQcached", "accessTokenExpirationTimestampMs": 9999999999999}`))
	}))
	defer tokenSrv.Close()

	ts := newTokenSource("cookie", "", tokenSrv.Client())

	for i := 0; i < 5; i++ {
		token, err := ts.Token(context.Background(), tokenSrv.URL)
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if token != "BQcached" {
			t.Errorf("unexpected token %q", token)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 exchange for 5 Token calls, got %d", calls.Load())
	}
}

func TestTokenSourceRejectsEmptyToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken": ""}`))
	}))
	defer tokenSrv.Close()

	ts := newTokenSource("expired-cookie", "", tokenSrv.Client())
	if err := ts.Refresh(context.Background(), tokenSrv.URL); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

// failingFetcher always errors; used to trip the breaker.
type failingFetcher struct {
	calls atomic.Int32
}

func (f *failingFetcher) FetchSnapshot(ctx context.Context) (*models.BuddySnapshot, error) {
	f.calls.Add(1)
	return nil, errors.New("upstream down")
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := &failingFetcher{}
	b := NewBreakerClient(inner)
	ctx := context.Background()

	// Feed failures until the breaker opens (needs >= 5 requests at >= 60%
	// failure rate), then verify rejected calls stop reaching the upstream.
	for i := 0; i < 10; i++ {
		_, _ = b.FetchSnapshot(ctx)
	}

	reached := inner.calls.Load()
	if reached >= 10 {
		t.Fatalf("breaker never opened: all %d calls reached the upstream", reached)
	}

	_, err := b.FetchSnapshot(ctx)
	if err == nil {
		t.Fatal("expected rejection while circuit is open")
	}
	if inner.calls.Load() != reached {
		t.Error("open circuit must not forward requests to the upstream")
	}
}
