package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const waitStep = 10 * time.Millisecond

var _ RateLimiter = (*MemoryRateLimiter)(nil)

type windowCount struct {
	window int64
	count  int
}

// MemoryRateLimiter is a process-local fixed window limiter used when no
// Redis is configured and in tests.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	counts map[string]windowCount
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return newMemoryRateLimiter(limit, window, time.Now)
}

func newMemoryRateLimiter(limit int, window time.Duration, now func() time.Time) *MemoryRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryRateLimiter{
		limit:  limit,
		window: window,
		now:    now,
		counts: make(map[string]windowCount),
	}
}

func (l *MemoryRateLimiter) CheckAndIncrement(_ context.Context, key string) (bool, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	window := l.now().UnixNano() / int64(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counts[key]
	if c.window != window {
		c = windowCount{window: window}
	}
	c.count++
	l.counts[key] = c

	return c.count <= l.limit, nil
}

func (l *MemoryRateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := l.CheckAndIncrement(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitStep):
		}
	}
}
