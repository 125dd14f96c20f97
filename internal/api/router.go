// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

// Package api exposes the read-only query surface over HTTP: per-listener
// history, global history, hourly aggregates, the all-time export, health,
// and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earshot/earshot/internal/config"
	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
	"github.com/earshot/earshot/internal/models"
	"github.com/earshot/earshot/internal/store"
)

// ActivityReader is the read-only store capability the API serves. Reads use
// their own sessions and tolerate concurrent poll-loop writes.
type ActivityReader interface {
	GetListenerHistory(ctx context.Context, listenerURI string, from, to *time.Time) ([]models.HistoryEntry, error)
	GetAllHistory(ctx context.Context, from *time.Time) ([]models.HistoryEntry, error)
	GetHourlyCounts(ctx context.Context) ([]models.HourlyCount, error)
	GetAllTimeHistory(ctx context.Context) ([]models.AllTimeEntry, error)
	ReleaseSession(ctx context.Context)
}

// Server is the HTTP query server.
type Server struct {
	reader ActivityReader
	cfg    config.ServerConfig
	api    config.APIConfig
	router chi.Router
}

// NewServer builds the server and its routes.
func NewServer(reader ActivityReader, cfg config.ServerConfig, apiCfg config.APIConfig) *Server {
	s := &Server{
		reader: reader,
		cfg:    cfg,
		api:    apiCfg,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Timeout))
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/history", s.handleAllHistory)
		r.Get("/listeners/{listenerURI}/history", s.handleListenerHistory)
		r.Get("/stats/hourly", s.handleHourlyCounts)
		r.Get("/export/all-time", s.handleAllTimeExport)
	})

	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve implements suture.Service: it runs the HTTP server until ctx is
// cancelled, then shuts down gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("Query API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Query API shutdown error")
		}
		return ctx.Err()
	}
}

// metricsMiddleware records request counts and latency per route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// queryCtx stamps a request context with a per-request worker identity so
// read sessions never collide with the poll loop's writer session, plus a
// correlation ID for log tracing.
func queryCtx(r *http.Request) context.Context {
	ctx := store.WithWorkerID(r.Context(), store.NewWorkerID("api"))
	return logging.ContextWithNewCorrelationID(ctx)
}

// httpStatusForError maps store errors onto HTTP statuses.
func httpStatusForError(err error) int {
	switch {
	case store.IsValidation(err):
		return http.StatusBadRequest
	case store.IsContention(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
