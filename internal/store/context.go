// Earshot - Spotify Friend Activity Tracker
// Copyright 2026 Earshot Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/earshot/earshot

package store

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const workerIDKey contextKey = "worker_id"

// defaultWorkerID is the session key used when a context carries no worker
// identity. Callers sharing the default key share one session, so concurrent
// workers should always stamp their contexts via WithWorkerID.
const defaultWorkerID = "main"

// NewWorkerID generates a unique worker identity for session ownership.
func NewWorkerID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

// WithWorkerID returns a context that identifies the calling worker. Each
// worker ID owns at most one open session in the SessionManager.
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerIDKey, id)
}

// WorkerIDFromContext returns the worker ID carried by ctx, or
// defaultWorkerID when none is set.
func WorkerIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(workerIDKey).(string); ok && id != "" {
		return id
	}
	return defaultWorkerID
}
