// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
)

// tokenExpirySlack refreshes tokens slightly before their reported expiry so
// an in-flight request never carries a token that expires mid-request.
const tokenExpirySlack = 30 * time.Second

// tokenResponse is the web-player token exchange payload.
type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAtMs int64  `json:"accessTokenExpirationTimestampMs"`
}

// tokenSource manages the current access token. With an sp_dc cookie it
// exchanges and refreshes tokens automatically; with a static bearer token
// it hands that out unchanged. Safe for concurrent use.
type tokenSource struct {
	spDC       string
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	static    bool
}

func newTokenSource(spDC, bearerToken string, httpClient *http.Client) *tokenSource {
	return &tokenSource{
		spDC:       spDC,
		httpClient: httpClient,
		token:      bearerToken,
		static:     spDC == "" && bearerToken != "",
	}
}

// Token returns a valid access token, exchanging the sp_dc cookie when the
// cached token is missing or near expiry.
func (ts *tokenSource) Token(ctx context.Context, tokenURL string) (string, error) {
	ts.mu.Lock()
	token := ts.token
	valid := ts.static || (token != "" && time.Now().Before(ts.expiresAt.Add(-tokenExpirySlack)))
	ts.mu.Unlock()

	if valid {
		return token, nil
	}
	if err := ts.Refresh(ctx, tokenURL); err != nil {
		return "", err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.token, nil
}

// Refresh exchanges the sp_dc cookie for a fresh access token. Fails when
// only a static bearer token is configured, since there is nothing to
// exchange.
func (ts *tokenSource) Refresh(ctx context.Context, tokenURL string) error {
	if ts.spDC == "" {
		return fmt.Errorf("cannot refresh access token: no sp_dc cookie configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: "sp_dc", Value: ts.spDC})

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return fmt.Errorf("token exchange returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return fmt.Errorf("token exchange returned an empty token (sp_dc cookie may be expired)")
	}

	ts.mu.Lock()
	ts.token = tr.AccessToken
	ts.expiresAt = time.UnixMilli(tr.ExpiresAtMs)
	ts.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logging.Debug().Time("expires_at", time.UnixMilli(tr.ExpiresAtMs)).Msg("Refreshed feed access token")
	return nil
}
