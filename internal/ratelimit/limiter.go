// Package ratelimit implements the per-client admission-control policies.
// Each policy partitions its state by client address; requests over the
// policy's capacity may wait in a bounded FIFO queue before being served,
// and are rejected once the queue is full.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a single request for a client key may proceed.
// Allow blocks while the request is queued; it returns false when the request
// is rejected (queue full or context cancelled while queued).
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Pruner is implemented by limiters that accumulate per-client state and can
// drop entries idle since the given time. The background sweeper calls this.
type Pruner interface {
	PruneIdle(olderThan time.Time)
}
