// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/earshot/earshot/internal/config"
	"github.com/earshot/earshot/internal/models"
)

// fakeReader serves canned query results.
type fakeReader struct {
	history []models.HistoryEntry
	hourly  []models.HourlyCount
	allTime []models.AllTimeEntry
	err     error

	gotListenerURI string
	gotFrom, gotTo *time.Time
	released       int
}

func (f *fakeReader) GetListenerHistory(ctx context.Context, uri string, from, to *time.Time) ([]models.HistoryEntry, error) {
	f.gotListenerURI = uri
	f.gotFrom, f.gotTo = from, to
	return f.history, f.err
}

func (f *fakeReader) GetAllHistory(ctx context.Context, from *time.Time) ([]models.HistoryEntry, error) {
	f.gotFrom = from
	return f.history, f.err
}

func (f *fakeReader) GetHourlyCounts(ctx context.Context) ([]models.HourlyCount, error) {
	return f.hourly, f.err
}

func (f *fakeReader) GetAllTimeHistory(ctx context.Context) ([]models.AllTimeEntry, error) {
	return f.allTime, f.err
}

func (f *fakeReader) ReleaseSession(ctx context.Context) {
	f.released++
}

func newTestServer(reader *fakeReader) *Server {
	return NewServer(reader,
		config.ServerConfig{Host: "127.0.0.1", Port: 0, Timeout: 5 * time.Second},
		config.APIConfig{DefaultPageSize: 50, MaxPageSize: 100},
	)
}

func doRequest(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, *APIResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
	return rec, &resp
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeReader{})
	rec, resp := doRequest(t, s, "/health")
	if rec.Code != http.StatusOK || resp.Status != "ok" {
		t.Errorf("expected healthy response, got code=%d status=%q", rec.Code, resp.Status)
	}
}

func TestListenerHistoryEndpoint(t *testing.T) {
	reader := &fakeReader{history: []models.HistoryEntry{
		{ListenerURI: "spotify:user:alice", ListenerName: "Alice", TrackName: "Song A", Timestamp: 1000},
	}}
	s := newTestServer(reader)

	path := "/api/v1/listeners/" + url.PathEscape("spotify:user:alice") + "/history"
	rec, resp := doRequest(t, s, path)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reader.gotListenerURI != "spotify:user:alice" {
		t.Errorf("listener URI not unescaped: %q", reader.gotListenerURI)
	}
	if resp.Count != 1 {
		t.Errorf("expected count 1, got %d", resp.Count)
	}
	if reader.released != 1 {
		t.Errorf("expected session released once, got %d", reader.released)
	}
}

func TestListenerHistoryRejectsBadURI(t *testing.T) {
	s := newTestServer(&fakeReader{})
	rec, resp := doRequest(t, s, "/api/v1/listeners/not-a-uri/history")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "INVALID_LISTENER_URI" {
		t.Errorf("expected INVALID_LISTENER_URI error, got %+v", resp.Error)
	}
}

func TestHistoryTimeBounds(t *testing.T) {
	reader := &fakeReader{}
	s := newTestServer(reader)

	path := "/api/v1/listeners/" + url.PathEscape("spotify:user:alice") +
		"/history?from=2026-08-01T00:00:00Z&to=2026-08-02T00:00:00Z"
	rec, _ := doRequest(t, s, path)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if reader.gotFrom == nil || reader.gotFrom.UTC() != time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("from bound not parsed: %v", reader.gotFrom)
	}
	if reader.gotTo == nil || reader.gotTo.UTC() != time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC) {
		t.Errorf("to bound not parsed: %v", reader.gotTo)
	}
}

func TestHistoryRejectsBadTimeFormat(t *testing.T) {
	s := newTestServer(&fakeReader{})
	rec, resp := doRequest(t, s, "/api/v1/history?from=yesterday")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "INVALID_PARAMS" {
		t.Errorf("expected INVALID_PARAMS, got %+v", resp.Error)
	}
}

func TestHistoryLimitApplied(t *testing.T) {
	var history []models.HistoryEntry
	for i := 0; i < 80; i++ {
		history = append(history, models.HistoryEntry{Timestamp: int64(i)})
	}
	s := newTestServer(&fakeReader{history: history})

	// Default page size caps the response.
	_, resp := doRequest(t, s, "/api/v1/history")
	if resp.Count != 50 {
		t.Errorf("expected default page size 50, got %d", resp.Count)
	}

	// Explicit limit below default.
	_, resp = doRequest(t, s, "/api/v1/history?limit=10")
	if resp.Count != 10 {
		t.Errorf("expected limit 10, got %d", resp.Count)
	}

	// Limit above maximum is capped, not rejected.
	_, resp = doRequest(t, s, "/api/v1/history?limit=5000")
	if resp.Count != 80 {
		t.Errorf("expected max cap to allow all 80 rows, got %d", resp.Count)
	}

	// Non-positive limit is rejected.
	rec, _ := doRequest(t, s, "/api/v1/history?limit=0")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for limit=0, got %d", rec.Code)
	}

	// Trailing garbage after the digits is rejected, not silently truncated.
	rec, resp = doRequest(t, s, "/api/v1/history?limit=12abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for limit=12abc, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "INVALID_PARAMS" {
		t.Errorf("expected INVALID_PARAMS for limit=12abc, got %+v", resp.Error)
	}
}

func TestHourlyCountsEndpoint(t *testing.T) {
	s := newTestServer(&fakeReader{hourly: []models.HourlyCount{
		{ListenerName: "Alice", Hour: 9, Count: 2},
	}})

	rec, resp := doRequest(t, s, "/api/v1/stats/hourly")
	if rec.Code != http.StatusOK || resp.Count != 1 {
		t.Errorf("expected 1 hourly row, got code=%d count=%d", rec.Code, resp.Count)
	}
}

func TestAllTimeExportEndpoint(t *testing.T) {
	s := newTestServer(&fakeReader{allTime: []models.AllTimeEntry{
		{Date: "2026-08-01", HourOfDay: 14, DayOfWeek: 6},
	}})

	rec, resp := doRequest(t, s, "/api/v1/export/all-time")
	if rec.Code != http.StatusOK || resp.Count != 1 {
		t.Errorf("expected 1 export row, got code=%d count=%d", rec.Code, resp.Count)
	}
}

func TestQueryFailureMapsToStatus(t *testing.T) {
	s := newTestServer(&fakeReader{err: errors.New("disk on fire")})

	rec, resp := doRequest(t, s, "/api/v1/history")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "QUERY_FAILED" {
		t.Errorf("expected QUERY_FAILED, got %+v", resp.Error)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	s := newTestServer(&fakeReader{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", rec.Code)
	}
}
