package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_BurstUpToCapacity(t *testing.T) {
	tb := NewTokenBucket(10, 30*time.Second, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.True(t, tb.Allow(ctx, "client"))
	}
	assert.False(t, tb.Allow(ctx, "client"))
}

func TestTokenBucket_RefillCreditsWholeIntervals(t *testing.T) {
	tb := NewTokenBucket(10, 30*time.Second, 0)
	base := time.Now()
	tb.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.True(t, tb.Allow(ctx, "client"))
	}
	require.False(t, tb.Allow(ctx, "client"))

	// 65s grants two tokens, not three
	tb.now = func() time.Time { return base.Add(65 * time.Second) }
	assert.True(t, tb.Allow(ctx, "client"))
	assert.True(t, tb.Allow(ctx, "client"))
	assert.False(t, tb.Allow(ctx, "client"))
}

func TestTokenBucket_RefillCapsAtCapacity(t *testing.T) {
	tb := NewTokenBucket(2, time.Second, 0)
	base := time.Now()
	tb.now = func() time.Time { return base }
	ctx := context.Background()

	require.True(t, tb.Allow(ctx, "client"))

	// A long idle stretch must not accumulate beyond capacity
	tb.now = func() time.Time { return base.Add(time.Hour) }
	assert.True(t, tb.Allow(ctx, "client"))
	assert.True(t, tb.Allow(ctx, "client"))
	assert.False(t, tb.Allow(ctx, "client"))
}

func TestTokenBucket_WaiterServedOnRefill(t *testing.T) {
	tb := NewTokenBucket(1, 100*time.Millisecond, 1)
	ctx := context.Background()

	require.True(t, tb.Allow(ctx, "client"))

	start := time.Now()
	admitted := tb.Allow(ctx, "client")
	elapsed := time.Since(start)

	assert.True(t, admitted)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestTokenBucket_QueueDepthBoundsWaiters(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour, 1)
	ctx := context.Background()

	require.True(t, tb.Allow(ctx, "client"))

	waiterCtx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan bool)
	go func() {
		waiterDone <- tb.Allow(waiterCtx, "client")
	}()

	require.Eventually(t, func() bool {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		return tb.clients["client"].waiting == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, tb.Allow(ctx, "client"))

	cancel()
	assert.False(t, <-waiterDone)
}

func TestTokenBucket_PruneIdleRemovesQuietClients(t *testing.T) {
	tb := NewTokenBucket(1, time.Second, 0)
	tb.Allow(context.Background(), "client")

	tb.PruneIdle(time.Now().Add(time.Second))

	tb.mu.Lock()
	defer tb.mu.Unlock()
	assert.Empty(t, tb.clients)
}
