// Package ratelimit bounds how often a key may perform an operation within a
// fixed window.
package ratelimit

import "context"

// RateLimiter counts operations per key. Keys are a username for mutations
// and an interface name for resubmissions.
type RateLimiter interface {
	// CheckAndIncrement records one operation for key and reports whether it
	// is still within the limit of the current window.
	CheckAndIncrement(ctx context.Context, key string) (bool, error)
	// Wait blocks until key may perform one more operation or ctx is done.
	Wait(ctx context.Context, key string) error
}
