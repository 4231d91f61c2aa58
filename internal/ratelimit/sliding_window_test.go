package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_AdmitsUpToLimit(t *testing.T) {
	sw := NewSlidingWindow(5, time.Minute, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, sw.Allow(ctx, "client"))
	}
	assert.False(t, sw.Allow(ctx, "client"))
}

func TestSlidingWindow_PreviousSegmentStillCounts(t *testing.T) {
	sw := NewSlidingWindow(5, time.Minute, 0)
	base := time.Now()
	sw.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, sw.Allow(ctx, "client"))
	}

	// One segment later the five admissions moved to the previous slot and
	// still saturate the window
	sw.now = func() time.Time { return base.Add(31 * time.Second) }
	assert.False(t, sw.Allow(ctx, "client"))
}

func TestSlidingWindow_CountsExpireAfterTwoSegments(t *testing.T) {
	sw := NewSlidingWindow(5, time.Minute, 0)
	base := time.Now()
	sw.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, sw.Allow(ctx, "client"))
	}

	sw.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.True(t, sw.Allow(ctx, "client"))
}

func TestSlidingWindow_GradualDrainAcrossSegments(t *testing.T) {
	sw := NewSlidingWindow(4, time.Minute, 0)
	base := time.Now()
	sw.now = func() time.Time { return base }
	ctx := context.Background()

	// Two in the first segment, two in the second: saturated
	require.True(t, sw.Allow(ctx, "client"))
	require.True(t, sw.Allow(ctx, "client"))
	sw.now = func() time.Time { return base.Add(31 * time.Second) }
	require.True(t, sw.Allow(ctx, "client"))
	require.True(t, sw.Allow(ctx, "client"))
	require.False(t, sw.Allow(ctx, "client"))

	// Another segment on, the first pair has aged out
	sw.now = func() time.Time { return base.Add(62 * time.Second) }
	assert.True(t, sw.Allow(ctx, "client"))
	assert.True(t, sw.Allow(ctx, "client"))
	assert.False(t, sw.Allow(ctx, "client"))
}

func TestSlidingWindow_WaiterServedAtSegmentBoundary(t *testing.T) {
	sw := NewSlidingWindow(1, 100*time.Millisecond, 1)
	ctx := context.Background()

	require.True(t, sw.Allow(ctx, "client"))

	start := time.Now()
	admitted := sw.Allow(ctx, "client")
	elapsed := time.Since(start)

	assert.True(t, admitted)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestSlidingWindow_QueueDepthBoundsWaiters(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour, 1)
	ctx := context.Background()

	require.True(t, sw.Allow(ctx, "client"))

	waiterCtx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan bool)
	go func() {
		waiterDone <- sw.Allow(waiterCtx, "client")
	}()

	require.Eventually(t, func() bool {
		sw.mu.Lock()
		defer sw.mu.Unlock()
		return sw.clients["client"].waiting == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, sw.Allow(ctx, "client"))

	cancel()
	assert.False(t, <-waiterDone)
}

func TestSlidingWindow_PruneIdleRemovesQuietClients(t *testing.T) {
	sw := NewSlidingWindow(1, time.Minute, 0)
	sw.Allow(context.Background(), "client")

	sw.PruneIdle(time.Now().Add(time.Second))

	sw.mu.Lock()
	defer sw.mu.Unlock()
	assert.Empty(t, sw.clients)
}
