// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/earshot/earshot/internal/feed"
	"github.com/earshot/earshot/internal/logging"
	"github.com/earshot/earshot/internal/metrics"
	"github.com/earshot/earshot/internal/models"
	"github.com/earshot/earshot/internal/store"
)

// ActivityStore is the ingestion capability the poller needs.
type ActivityStore interface {
	StoreActivity(ctx context.Context, candidate models.CandidateEvent) error
	ReleaseSession(ctx context.Context)
}

// Config configures poller behavior.
type Config struct {
	// Interval is the fixed sleep between ticks, regardless of how long a
	// tick took.
	Interval time.Duration

	// RecencyWindow is the maximum event age admitted by the filter.
	RecencyWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		RecencyWindow: 5 * time.Minute,
	}
}

// ActivityPoller periodically fetches the friend activity snapshot, filters
// it to recent events, and ingests each survivor. Failures never escape the
// loop: a fetch error skips the tick, a single-event ingestion error skips
// that event.
type ActivityPoller struct {
	fetcher feed.SnapshotFetcher
	store   ActivityStore
	config  Config

	// clock is real time in production, overridden in tests.
	clock func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewActivityPoller creates a poller over the given feed and store.
func NewActivityPoller(fetcher feed.SnapshotFetcher, activityStore ActivityStore, config Config) *ActivityPoller {
	return &ActivityPoller{
		fetcher:  fetcher,
		store:    activityStore,
		config:   config,
		clock:    time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop. Idempotent while running.
func (p *ActivityPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	logging.Info().
		Dur("interval", p.config.Interval).
		Dur("recency_window", p.config.RecencyWindow).
		Msg("Starting activity poller")

	p.wg.Add(1)
	go p.pollLoop(ctx)

	return nil
}

// Serve implements suture.Service for supervisor integration.
func (p *ActivityPoller) Serve(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

// Stop gracefully stops the polling loop, waiting for an in-flight tick to
// finish so no partially ingested event is abandoned mid-write.
func (p *ActivityPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Msg("Activity poller stopped")
}

// IsRunning returns whether the poller is active.
func (p *ActivityPoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// pollLoop runs ticks forever until stopped. The sleep between ticks is the
// fixed configured interval; tick duration does not shrink it.
func (p *ActivityPoller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	// The loop owns one session for all its writes, identified once here.
	ctx = store.WithWorkerID(ctx, store.NewWorkerID("poller"))
	defer p.store.ReleaseSession(ctx)

	// Initial tick immediately, then on the interval.
	p.poll(ctx)

	for {
		timer := time.NewTimer(p.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Info().Msg("Activity poller context canceled")
			return
		case <-p.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			p.poll(ctx)
		}
	}
}

// poll runs one fetch-filter-ingest tick. Never panics the loop: upstream
// failures skip the tick, per-event failures skip the event.
func (p *ActivityPoller) poll(ctx context.Context) {
	start := time.Now()
	tickCtx := logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(tickCtx)

	snapshot, err := p.fetcher.FetchSnapshot(tickCtx)
	if err != nil {
		errType := "network"
		if feed.IsAuth(err) {
			errType = "auth"
		}
		metrics.PollErrors.WithLabelValues(errType).Inc()
		metrics.RecordPollTick(time.Since(start), 0, err)
		log.Warn().Err(err).Msg("Snapshot fetch failed, skipping tick")
		return
	}

	candidates := SelectActive(snapshot, p.config.RecencyWindow, p.clock())

	stored := 0
	for _, candidate := range candidates {
		if err := p.store.StoreActivity(tickCtx, candidate); err != nil {
			// Single-event failure: logged and skipped, the batch
			// continues. StoreActivity already logged the details.
			log.Warn().
				Str("listener_uri", candidate.Listener.URI).
				Err(err).
				Msg("Failed to ingest candidate event, continuing with batch")
			continue
		}
		stored++
	}

	metrics.RecordPollTick(time.Since(start), len(candidates), nil)
	log.Debug().
		Int("friends", len(snapshot.Friends)).
		Int("active", len(candidates)).
		Int("stored", stored).
		Msg("Poll tick complete")
}
