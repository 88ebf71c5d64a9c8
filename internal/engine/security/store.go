package security

import (
	"context"
	"time"
)

// Key namespaces in the security store.
const (
	prefixBlocked         = "blocked:"
	prefixReplay          = "replay:"
	prefixRate            = "rate:"
	prefixViolations      = "violations:"
	prefixViolationWindow = "violation_window:"
)

// Store is the shared key-value state behind every security decision.
// Implementations must make Incr, Hit and SetNX atomic.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value; a zero ttl never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr increments key and applies ttl when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Hit appends now to the request log at key, drops entries at or before
	// now-window and returns the remaining count with the oldest entry.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error)
	// TTL returns the remaining lifetime, or zero when the key is missing or
	// has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	// PurgeExpired removes lapsed keys that were not reaped yet.
	PurgeExpired(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}
