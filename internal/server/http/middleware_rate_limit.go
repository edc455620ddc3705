package http

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"chatgem/internal/observability"
)

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// MaxClients caps tracked callers; the least recently seen are evicted.
	MaxClients int
	EntryTTL   time.Duration
}

func (c RateLimitConfig) enabled() bool {
	return c.RequestsPerMinute > 0 && c.Burst > 0
}

// callerBuckets holds one token bucket per caller key.
type callerBuckets struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
}

func newCallerBuckets(cfg RateLimitConfig) *callerBuckets {
	ttl := cfg.EntryTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	capacity := cfg.MaxClients
	if capacity <= 0 {
		capacity = 10000
	}
	return &callerBuckets{
		every:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:   cfg.Burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](capacity, nil, ttl),
	}
}

func (c *callerBuckets) bucket(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limiter, ok := c.buckets.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(c.every, c.burst)
	c.buckets.Add(key, limiter)
	return limiter
}

// take spends one token for key. When none is left it reports how long the
// caller should wait before the next one.
func (c *callerBuckets) take(key string, now time.Time) (bool, time.Duration) {
	reservation := c.bucket(key).ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	wait := reservation.DelayFrom(now)
	if wait == 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, wait
}

// RateLimitMiddleware throttles per caller: the authenticated user when
// known, otherwise the client IP.
func RateLimitMiddleware(cfg RateLimitConfig, metrics *observability.HTTPMetrics) func(http.Handler) http.Handler {
	if !cfg.enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	buckets := newCallerBuckets(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := buckets.take(rateLimitKey(r), time.Now())
			if !ok {
				metrics.RecordRateLimited(routeFromContext(r.Context()))
				w.Header().Set("Retry-After", retryAfterSeconds(wait))
				writeJSONError(w, r, http.StatusTooManyRequests, "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(wait time.Duration) string {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func rateLimitKey(r *http.Request) string {
	if identity, ok := CurrentIdentity(r.Context()); ok {
		if id := strings.TrimSpace(identity.UserID); id != "" {
			return "user:" + id
		}
	}
	if ip := clientIP(r); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}
