// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

// Package metrics provides Prometheus metrics for observability.
//
// Instrumented areas:
//   - SQLite query performance and write contention
//   - Poll loop ticks and ingestion outcomes
//   - Feed requests and circuit breaker state
//   - API endpoint latency and throughput
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlite_query_duration_seconds",
			Help:    "Duration of SQLite queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlite_query_errors_total",
			Help: "Total number of SQLite query errors",
		},
		[]string{"operation", "table"},
	)

	DBSessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlite_sessions_open",
			Help: "Current number of open per-worker database sessions",
		},
	)

	DBWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlite_write_retries_total",
			Help: "Total number of write retries caused by lock contention",
		},
	)

	DBContentionExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlite_contention_exhausted_total",
			Help: "Total number of writes that failed after exhausting all retry attempts",
		},
	)

	// Ingestion Metrics
	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Total number of listening events appended to streams",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of candidate events dropped before ingestion",
		},
		[]string{"reason"}, // "validation", "storage"
	)

	StreamsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streams_created_total",
			Help: "Total number of per-listener event streams provisioned",
		},
	)

	StreamsRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streams_repaired_total",
			Help: "Total number of missing streams recreated by the structural verifier",
		},
	)

	// Poll Loop Metrics
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poll_tick_duration_seconds",
			Help:    "Duration of poll loop ticks in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_errors_total",
			Help: "Total number of poll tick failures",
		},
		[]string{"error_type"}, // "auth", "network", "decode"
	)

	PollLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_last_success_timestamp",
			Help: "Unix timestamp of the last successful poll tick",
		},
	)

	PollActiveFriends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_active_friends",
			Help: "Number of friends with activity inside the recency window at the last tick",
		},
	)

	// Feed Client Metrics
	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_request_duration_seconds",
			Help:    "Duration of upstream feed requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	FeedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Total number of upstream feed requests",
		},
		[]string{"endpoint", "status_code"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_token_refreshes_total",
			Help: "Total number of access token refreshes",
		},
		[]string{"result"}, // "success", "failure"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPollTick records the outcome of one poll loop tick
func RecordPollTick(duration time.Duration, activeFriends int, err error) {
	PollDuration.Observe(duration.Seconds())
	if err == nil {
		PollLastSuccess.Set(float64(time.Now().Unix()))
		PollActiveFriends.Set(float64(activeFriends))
	}
}

// RecordFeedRequest records an upstream feed request metric
func RecordFeedRequest(endpoint, statusCode string, duration time.Duration) {
	FeedRequestsTotal.WithLabelValues(endpoint, statusCode).Inc()
	FeedRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
