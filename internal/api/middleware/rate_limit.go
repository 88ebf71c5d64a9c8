package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	apiContext "hookgate/internal/api/context"
	"hookgate/internal/pkg/errors"
)

// idleBucketTTL is how long an untouched bucket survives a sweep.
const idleBucketTTL = 10 * time.Minute

// RateLimiter is a per-key token bucket for the admin surface. Webhook
// deliveries are limited by the gatekeeper against the shared store.
type RateLimiter struct {
	store     sync.Map // map[string]*Bucket
	limit     int
	period    time.Duration
	now       func() time.Time
	mu        sync.Mutex
	lastSweep time.Time
}

type Bucket struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

// NewRateLimiter allows limit requests per period for each key.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{limit: limit, period: period, now: time.Now, lastSweep: time.Now()}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	if now.Sub(rl.lastSweep) < idleBucketTTL {
		rl.mu.Unlock()
		return
	}
	rl.lastSweep = now
	rl.mu.Unlock()

	rl.store.Range(func(key, value interface{}) bool {
		bucket := value.(*Bucket)
		bucket.mu.Lock()
		if now.Sub(bucket.lastAccess) > idleBucketTTL {
			rl.store.Delete(key)
		}
		bucket.mu.Unlock()
		return true
	})
}

func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()
	rl.sweep(now)

	val, _ := rl.store.LoadOrStore(key, &Bucket{
		tokens:     rl.limit,
		lastRefill: now,
		lastAccess: now,
	})

	bucket := val.(*Bucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastAccess = now

	refillRate := float64(rl.limit) / rl.period.Seconds()
	refillTokens := int(now.Sub(bucket.lastRefill).Seconds() * refillRate)
	if refillTokens > 0 {
		bucket.tokens = min(bucket.tokens+refillTokens, rl.limit)
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// Handle limits by client IP, so it must run after ClientIP.
func (rl *RateLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := apiContext.ClientIPFrom(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.period.Seconds())))
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
			return
		}
		next(w, r)
	}
}
