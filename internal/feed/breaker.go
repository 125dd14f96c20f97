// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package feed

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
	"github.com/earshot/earshot/internal/models"
)

// BreakerClient wraps a SnapshotFetcher with a circuit breaker so a dead or
// misbehaving upstream stops consuming poll ticks with doomed requests.
//
// The breaker uses real time for its interval and timeout windows; tests
// should exercise the wrapped fetcher directly rather than mocking time.
type BreakerClient struct {
	inner SnapshotFetcher
	cb    *gobreaker.CircuitBreaker[*models.BuddySnapshot]
	name  string
}

// NewBreakerClient wraps fetcher with circuit breaker protection:
//   - opens after a 60% failure rate over at least 5 requests
//   - 1 minute measurement window in the closed state
//   - 2 minutes before an open circuit admits a trial request
//   - 1 trial request allowed in the half-open state
func NewBreakerClient(fetcher SnapshotFetcher) *BreakerClient {
	cbName := "spotify-feed"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*models.BuddySnapshot](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("Feed circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerClient{inner: fetcher, cb: cb, name: cbName}
}

// FetchSnapshot fetches through the circuit breaker. While the circuit is
// open, requests fail immediately without touching the upstream.
func (b *BreakerClient) FetchSnapshot(ctx context.Context) (*models.BuddySnapshot, error) {
	snap, err := b.cb.Execute(func() (*models.BuddySnapshot, error) {
		return b.inner.FetchSnapshot(ctx)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return snap, nil
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
