package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow tracks request counts in two half-window segments; a request
// is admitted while the combined count of both segments is under the limit.
// One request may wait for the older segment to expire.
type SlidingWindow struct {
	limit      int
	segment    time.Duration // half the window
	queueDepth int

	mu      sync.Mutex
	clients map[string]*swClient
	now     func() time.Time
}

type swClient struct {
	segStart time.Time
	curr     int
	prev     int
	waiting  int
	lastSeen time.Time
}

// NewSlidingWindow divides window into two segments of window/2.
func NewSlidingWindow(limit int, window time.Duration, queueDepth int) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		segment:    window / 2,
		queueDepth: queueDepth,
		clients:    make(map[string]*swClient),
		now:        time.Now,
	}
}

func (sw *SlidingWindow) Allow(ctx context.Context, key string) bool {
	sw.mu.Lock()

	now := sw.now()
	c, ok := sw.clients[key]
	if !ok {
		c = &swClient{segStart: now}
		sw.clients[key] = c
	}
	c.lastSeen = now
	sw.rotate(c, now)

	if c.prev+c.curr < sw.limit {
		c.curr++
		sw.mu.Unlock()
		return true
	}

	if c.waiting >= sw.queueDepth {
		sw.mu.Unlock()
		return false
	}
	c.waiting++
	wait := c.segStart.Add(sw.segment).Sub(now)
	sw.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			sw.mu.Lock()
			now = sw.now()
			sw.rotate(c, now)
			if c.prev+c.curr < sw.limit {
				c.curr++
				c.waiting--
				sw.mu.Unlock()
				return true
			}
			wait = c.segStart.Add(sw.segment).Sub(now)
			sw.mu.Unlock()
			timer.Reset(wait)
		case <-ctx.Done():
			sw.mu.Lock()
			c.waiting--
			sw.mu.Unlock()
			return false
		}
	}
}

// rotate shifts the current segment into the previous slot for each elapsed
// segment boundary; counts older than two segments fall out of the window.
func (sw *SlidingWindow) rotate(c *swClient, now time.Time) {
	elapsed := now.Sub(c.segStart)
	if elapsed >= 2*sw.segment {
		n := elapsed / sw.segment
		c.prev = 0
		c.curr = 0
		c.segStart = c.segStart.Add(n * sw.segment)
		return
	}
	for !now.Before(c.segStart.Add(sw.segment)) {
		c.prev = c.curr
		c.curr = 0
		c.segStart = c.segStart.Add(sw.segment)
	}
}

func (sw *SlidingWindow) PruneIdle(olderThan time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for key, c := range sw.clients {
		if c.lastSeen.Before(olderThan) && c.waiting == 0 {
			delete(sw.clients, key)
		}
	}
}
