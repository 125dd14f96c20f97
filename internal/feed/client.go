// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

// Package feed implements the upstream friend activity client: access token
// exchange from an sp_dc cookie, the buddylist fetch, rate limiting, and a
// circuit breaker wrapper for poll-loop resilience.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/earshot/earshot/internal/config"
	"github.com/earshot/earshot/internal/metrics"
	"github.com/earshot/earshot/internal/models"
)

const (
	defaultBuddylistURL = "https://guc-spclient.spotify.com/presence-view/v1/buddylist"
	defaultTokenURL     = "https://open.spotify.com/get_access_token?reason=transport&productType=web_player"

	// The presence endpoint tolerates modest request rates; one request
	// per second with a small burst stays far below the poll interval.
	requestsPerSecond = 1
	requestBurst      = 3
)

// AuthError reports a failed or expired authentication with the upstream
// feed. The poll loop treats it as a skipped tick, not a fatal condition.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "feed authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// SnapshotFetcher is the capability the poll loop consumes.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) (*models.BuddySnapshot, error)
}

// Client fetches friend activity snapshots from the upstream feed.
//
// Authentication: if an sp_dc cookie is configured, short-lived access
// tokens are exchanged automatically and refreshed on expiry or on a 401
// response. A pre-obtained bearer token can be supplied instead, in which
// case no refresh is possible and a 401 surfaces as an AuthError.
type Client struct {
	buddylistURL string
	tokenURL     string

	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration

	auth *tokenSource
}

// NewClient creates a feed client from configuration.
func NewClient(cfg config.SpotifyConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	return &Client{
		buddylistURL:   defaultBuddylistURL,
		tokenURL:       defaultTokenURL,
		httpClient:     httpClient,
		limiter:        rate.NewLimiter(requestsPerSecond, requestBurst),
		maxRetries:     3,
		retryBaseDelay: time.Second,
		auth:           newTokenSource(cfg.SpDC, cfg.BearerToken, httpClient),
	}
}

// FetchSnapshot fetches the current buddylist. Rate limited, with
// exponential backoff on 429 responses and one transparent token refresh on
// a 401 when an sp_dc cookie is available.
func (c *Client) FetchSnapshot(ctx context.Context) (*models.BuddySnapshot, error) {
	start := time.Now()
	snap, status, err := c.fetchOnce(ctx)

	if err == nil && status == http.StatusUnauthorized {
		// Token expired mid-flight: refresh once and retry.
		if refreshErr := c.auth.Refresh(ctx, c.tokenURL); refreshErr != nil {
			metrics.RecordFeedRequest("buddylist", "401", time.Since(start))
			return nil, &AuthError{Err: refreshErr}
		}
		snap, status, err = c.fetchOnce(ctx)
	}

	metrics.RecordFeedRequest("buddylist", strconv.Itoa(status), time.Since(start))
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK:
		return snap, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &AuthError{Err: fmt.Errorf("feed returned HTTP %d", status)}
	default:
		return nil, fmt.Errorf("feed returned unexpected HTTP %d", status)
	}
}

// fetchOnce performs one authenticated buddylist request, absorbing 429
// responses with exponential backoff. Returns the decoded snapshot and final
// HTTP status; a non-200 status is not an error here so the caller can
// decide how to classify it.
func (c *Client) fetchOnce(ctx context.Context) (*models.BuddySnapshot, int, error) {
	token, err := c.auth.Token(ctx, c.tokenURL)
	if err != nil {
		return nil, 0, &AuthError{Err: err}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buddylistURL, http.NoBody)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create feed request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("feed request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := resp.Header.Get("Retry-After")
			_ = resp.Body.Close()

			if attempt == c.maxRetries {
				return nil, resp.StatusCode, fmt.Errorf("feed rate limit exceeded after %d retries", c.maxRetries)
			}

			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			if retryAfter != "" {
				if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil {
					delay = time.Duration(seconds) * time.Second
				}
			}
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, resp.StatusCode, nil
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("failed to read feed response: %w", err)
		}

		var snap models.BuddySnapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("failed to decode feed response: %w", err)
		}
		return &snap, resp.StatusCode, nil
	}
}
