// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/validation"
)

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Count  int       `json:"count,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable code and human-readable message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, response *APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &APIResponse{
		Status: "error",
		Error:  &APIError{Code: code, Message: message},
	})
}

func respondData(w http.ResponseWriter, data any, count int) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "ok",
		Data:   data,
		Count:  count,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{Status: "ok"})
}

// historyParams are the validated query parameters shared by the history
// endpoints.
type historyParams struct {
	From  *time.Time
	To    *time.Time
	Limit int `validate:"min=1"`
}

// parseHistoryParams validates from/to/limit query parameters. Limit
// defaults to the configured page size and is capped at the maximum.
func (s *Server) parseHistoryParams(q url.Values) (historyParams, error) {
	p := historyParams{Limit: s.api.DefaultPageSize}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("limit must be an integer")
		}
		p.Limit = n
	}
	if p.Limit > s.api.MaxPageSize {
		p.Limit = s.api.MaxPageSize
	}

	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &p.From},
		{"to", &p.To},
	} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, fmt.Errorf("%s must be RFC3339, got %q", bound.name, v)
		}
		*bound.dst = &t
	}

	if err := validation.ValidateStruct(&p); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Server) handleListenerHistory(w http.ResponseWriter, r *http.Request) {
	listenerURI, err := url.PathUnescape(chi.URLParam(r, "listenerURI"))
	if err != nil || !validation.IsNamespacedURI(listenerURI) {
		respondError(w, http.StatusBadRequest, "INVALID_LISTENER_URI",
			"listener URI must be a namespaced identifier like spotify:user:name")
		return
	}

	params, err := s.parseHistoryParams(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMS", err.Error())
		return
	}

	ctx := queryCtx(r)
	defer s.reader.ReleaseSession(ctx)

	history, err := s.reader.GetListenerHistory(ctx, listenerURI, params.From, params.To)
	if err != nil {
		logging.Ctx(ctx).Error().Str("listener_uri", listenerURI).Err(err).Msg("Listener history query failed")
		respondError(w, httpStatusForError(err), "QUERY_FAILED", "failed to query listener history")
		return
	}

	if len(history) > params.Limit {
		history = history[:params.Limit]
	}
	respondData(w, history, len(history))
}

func (s *Server) handleAllHistory(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseHistoryParams(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMS", err.Error())
		return
	}

	ctx := queryCtx(r)
	defer s.reader.ReleaseSession(ctx)

	history, err := s.reader.GetAllHistory(ctx, params.From)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("All-history query failed")
		respondError(w, httpStatusForError(err), "QUERY_FAILED", "failed to query history")
		return
	}

	if len(history) > params.Limit {
		history = history[:params.Limit]
	}
	respondData(w, history, len(history))
}

func (s *Server) handleHourlyCounts(w http.ResponseWriter, r *http.Request) {
	ctx := queryCtx(r)
	defer s.reader.ReleaseSession(ctx)

	counts, err := s.reader.GetHourlyCounts(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Hourly counts query failed")
		respondError(w, httpStatusForError(err), "QUERY_FAILED", "failed to query hourly counts")
		return
	}
	respondData(w, counts, len(counts))
}

func (s *Server) handleAllTimeExport(w http.ResponseWriter, r *http.Request) {
	ctx := queryCtx(r)
	defer s.reader.ReleaseSession(ctx)

	entries, err := s.reader.GetAllTimeHistory(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("All-time export query failed")
		respondError(w, httpStatusForError(err), "QUERY_FAILED", "failed to export history")
		return
	}
	respondData(w, entries, len(entries))
}
