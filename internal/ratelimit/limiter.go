// Package ratelimit implements fixed-window request limits keyed by caller.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"grimm.is/foldwatch/internal/clock"
)

// Limiter manages rate limiting for multiple keys. Every key gets the same
// budget of limit requests per window.
type Limiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// bucket holds the remaining budget of one key for its current window
type bucket struct {
	tokens   int
	lastFill time.Time
	mu       sync.Mutex
}

// NewLimiter creates a limiter allowing limit requests per window for each
// key. A nil clock means the real one.
func NewLimiter(limit int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		clock:   clk,
		buckets: make(map[string]*bucket),
	}
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: l.limit, lastFill: l.clock.Now()}
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether one more request for key fits in its window, and
// consumes it if so.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN is Allow for n requests at once. Nothing is consumed when the
// budget cannot cover all n.
func (l *Limiter) AllowN(key string, n int) bool {
	b := l.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	l.refill(b)
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// RetryAfter returns how long until key's budget is restored. Zero means a
// request would be allowed now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	b := l.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	l.refill(b)
	if b.tokens > 0 {
		return 0
	}
	return b.lastFill.Add(l.window).Sub(l.clock.Now())
}

// refill resets the budget once the window has passed. b.mu must be held.
func (l *Limiter) refill(b *bucket) {
	now := l.clock.Now()
	if now.Sub(b.lastFill) >= l.window {
		b.tokens = l.limit
		b.lastFill = now
	}
}

// Window returns the length of one budget window.
func (l *Limiter) Window() time.Duration { return l.window }

// Reset clears rate limit for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// CleanupExpired removes buckets whose window started more than maxAge ago.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for key, b := range l.buckets {
		b.mu.Lock()
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
		}
		b.mu.Unlock()
	}
}

// RunCleanup calls CleanupExpired every interval until ctx is cancelled.
func (l *Limiter) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.clock.After(interval):
			l.CleanupExpired(maxAge)
		}
	}
}
