package ratelimit

import (
	"context"
	"sync"
	"time"
)

// FixedWindow permits a fixed number of requests per window per client and
// queues a bounded number of requests beyond the limit. Queued requests are
// served oldest-first when the window rolls over.
type FixedWindow struct {
	limit      int
	window     time.Duration
	queueDepth int

	mu      sync.Mutex
	clients map[string]*fwClient
	now     func() time.Time
}

type fwClient struct {
	windowStart time.Time
	count       int
	waiters     []chan struct{}
	timer       *time.Timer
	lastSeen    time.Time
}

func NewFixedWindow(limit int, window time.Duration, queueDepth int) *FixedWindow {
	return &FixedWindow{
		limit:      limit,
		window:     window,
		queueDepth: queueDepth,
		clients:    make(map[string]*fwClient),
		now:        time.Now,
	}
}

func (fw *FixedWindow) Allow(ctx context.Context, key string) bool {
	fw.mu.Lock()

	now := fw.now()
	c, ok := fw.clients[key]
	if !ok {
		c = &fwClient{windowStart: now}
		fw.clients[key] = c
	}
	c.lastSeen = now
	fw.roll(c, now)

	if c.count < fw.limit {
		c.count++
		fw.mu.Unlock()
		return true
	}

	if len(c.waiters) >= fw.queueDepth {
		fw.mu.Unlock()
		return false
	}

	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	if c.timer == nil {
		wait := c.windowStart.Add(fw.window).Sub(now)
		c.timer = time.AfterFunc(wait, func() { fw.release(key) })
	}
	fw.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		fw.abandon(key, ch)
		return false
	}
}

// roll advances the window so that now falls inside it, resetting the count.
// Queued waiters are promoted by the release timer, not here.
func (fw *FixedWindow) roll(c *fwClient, now time.Time) {
	if elapsed := now.Sub(c.windowStart); elapsed >= fw.window {
		n := elapsed / fw.window
		c.windowStart = c.windowStart.Add(n * fw.window)
		c.count = 0
	}
}

// release runs at the window boundary: it rolls the window and serves queued
// waiters in FIFO order against the new window's budget.
func (fw *FixedWindow) release(key string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	c, ok := fw.clients[key]
	if !ok {
		return
	}
	c.timer = nil
	fw.roll(c, fw.now())

	n := fw.limit - c.count
	if n > len(c.waiters) {
		n = len(c.waiters)
	}
	for i := 0; i < n; i++ {
		c.count++
		close(c.waiters[i])
	}
	c.waiters = c.waiters[n:]

	if len(c.waiters) > 0 {
		wait := c.windowStart.Add(fw.window).Sub(fw.now())
		c.timer = time.AfterFunc(wait, func() { fw.release(key) })
	}
}

// abandon removes a cancelled waiter from the queue if it was not yet served.
func (fw *FixedWindow) abandon(key string, ch chan struct{}) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	c, ok := fw.clients[key]
	if !ok {
		return
	}
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (fw *FixedWindow) PruneIdle(olderThan time.Time) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	for key, c := range fw.clients {
		if c.lastSeen.Before(olderThan) && len(c.waiters) == 0 {
			if c.timer != nil {
				c.timer.Stop()
			}
			delete(fw.clients, key)
		}
	}
}
