package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the per-account request budget per minute.
	DefaultRateLimit = 100
	// DefaultBurstSize caps how many of those requests may arrive at once.
	DefaultBurstSize = 10

	// sweepEvery is how often idle buckets are evicted.
	sweepEvery = 5 * time.Minute
	// idleEviction is how long an account must stay quiet before its
	// bucket is dropped.
	idleEviction = 10 * time.Minute
)

// RateLimiter hands each authenticated account its own token bucket.
// Buckets are created on first use and evicted after idleEviction so the
// map tracks only recently active accounts.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[uuid.UUID]*bucket
	limit     rate.Limit
	burst     int
	perMinute int
	done      chan struct{}
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter with the default budget.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(DefaultRateLimit, DefaultBurstSize)
}

// NewRateLimiterWithConfig creates a RateLimiter allowing requestsPerMinute
// sustained with bursts up to burstSize, and starts its eviction sweep.
func NewRateLimiterWithConfig(requestsPerMinute, burstSize int) *RateLimiter {
	r := &RateLimiter{
		buckets:   make(map[uuid.UUID]*bucket),
		limit:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burstSize,
		perMinute: requestsPerMinute,
		done:      make(chan struct{}),
	}
	go r.sweep()
	return r
}

// bucketFor returns the account's bucket, creating it on first use and
// stamping lastSeen either way.
func (r *RateLimiter) bucketFor(accountID uuid.UUID) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[accountID]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[accountID] = b
	}
	b.lastSeen = time.Now()
	return b
}

// Allow reports whether the account may make a request right now.
func (r *RateLimiter) Allow(accountID uuid.UUID) bool {
	return r.bucketFor(accountID).tokens.Allow()
}

// Remaining reports how many requests the account has left in its burst
// and, when it has none, how long until the next token drips back in.
func (r *RateLimiter) Remaining(accountID uuid.UUID) (remaining int, retryAfter time.Duration) {
	b := r.bucketFor(accountID)
	if tokens := int(b.tokens.Tokens()); tokens > 0 {
		return tokens, 0
	}
	return 0, time.Duration(float64(time.Second) / float64(r.limit))
}

// sweep evicts buckets whose accounts have gone quiet, until Stop.
func (r *RateLimiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idleEviction)
			r.mu.Lock()
			for accountID, b := range r.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(r.buckets, accountID)
				}
			}
			r.mu.Unlock()
		}
	}
}

// Stop ends the eviction sweep.
func (r *RateLimiter) Stop() {
	close(r.done)
}

// RateLimitMiddleware limits authenticated requests per account, keyed by
// the ID Authenticate injected into the context. Requests with no
// authenticated account (e.g. login) pass through unlimited here.
func RateLimitMiddleware(rl *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			accountID := GetAccountID(c)
			if accountID == uuid.Nil {
				return next(c)
			}

			allowed := rl.Allow(accountID)
			remaining, retryAfter := rl.Remaining(accountID)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.perMinute))
			h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(retryAfter).Unix()))

			if !allowed {
				retrySeconds := int(retryAfter.Seconds())
				if retrySeconds < 1 {
					retrySeconds = 1
				}
				h.Set("Retry-After", fmt.Sprintf("%d", retrySeconds))

				log.Warn().
					Str("account_id", accountID.String()).
					Int("retry_after", retrySeconds).
					Msg("rate limit exceeded")

				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"success": false,
					"message": fmt.Sprintf("too many requests, retry after %d seconds", retrySeconds),
				})
			}

			return next(c)
		}
	}
}
