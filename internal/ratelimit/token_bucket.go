package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket grants each client a bucket of tokens replenished at a fixed
// interval. A request consumes one token; with the bucket empty, a bounded
// number of requests may wait for the next replenish.
type TokenBucket struct {
	capacity       int
	refillInterval time.Duration
	queueDepth     int

	mu      sync.Mutex
	clients map[string]*tbClient
	now     func() time.Time
}

type tbClient struct {
	tokens     int
	lastRefill time.Time
	waiting    int
	lastSeen   time.Time
}

func NewTokenBucket(capacity int, refillInterval time.Duration, queueDepth int) *TokenBucket {
	return &TokenBucket{
		capacity:       capacity,
		refillInterval: refillInterval,
		queueDepth:     queueDepth,
		clients:        make(map[string]*tbClient),
		now:            time.Now,
	}
}

func (tb *TokenBucket) Allow(ctx context.Context, key string) bool {
	tb.mu.Lock()

	now := tb.now()
	c, ok := tb.clients[key]
	if !ok {
		c = &tbClient{tokens: tb.capacity, lastRefill: now}
		tb.clients[key] = c
	}
	c.lastSeen = now
	tb.refill(c, now)

	if c.tokens > 0 {
		c.tokens--
		tb.mu.Unlock()
		return true
	}

	if c.waiting >= tb.queueDepth {
		tb.mu.Unlock()
		return false
	}
	c.waiting++
	wait := c.lastRefill.Add(tb.refillInterval).Sub(now)
	tb.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			tb.mu.Lock()
			now = tb.now()
			tb.refill(c, now)
			if c.tokens > 0 {
				c.tokens--
				c.waiting--
				tb.mu.Unlock()
				return true
			}
			// Another request consumed the replenished token; wait for
			// the next one.
			wait = c.lastRefill.Add(tb.refillInterval).Sub(now)
			tb.mu.Unlock()
			timer.Reset(wait)
		case <-ctx.Done():
			tb.mu.Lock()
			c.waiting--
			tb.mu.Unlock()
			return false
		}
	}
}

// refill credits whole elapsed intervals since the last refill, capped at
// capacity.
func (tb *TokenBucket) refill(c *tbClient, now time.Time) {
	elapsed := now.Sub(c.lastRefill)
	if elapsed < tb.refillInterval {
		return
	}
	n := int(elapsed / tb.refillInterval)
	c.tokens += n
	if c.tokens > tb.capacity {
		c.tokens = tb.capacity
	}
	c.lastRefill = c.lastRefill.Add(time.Duration(n) * tb.refillInterval)
}

func (tb *TokenBucket) PruneIdle(olderThan time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	for key, c := range tb.clients {
		if c.lastSeen.Before(olderThan) && c.waiting == 0 {
			delete(tb.clients, key)
		}
	}
}
