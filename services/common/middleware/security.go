package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SecurityHeaders sets the headers every JSON API response carries.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller key. Buckets idle for longer
// than ttl are swept on a later call.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[string]*limiterEntry),
		rate:      r,
		burst:     burst,
		ttl:       ttl,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Reserve takes a token for key. It returns false and the wait until the
// next token when the bucket is empty.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.ttl {
		for k, e := range rl.buckets {
			if now.Sub(e.lastSeen) > rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	entry, ok := rl.buckets[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = entry
	}
	entry.lastSeen = now

	res := entry.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Len reports how many buckets are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimitMiddleware allows perMinute requests per caller with the given
// burst. Callers are keyed by verified identity, then X-User-ID, then client
// IP. Rejections carry Retry-After.
func RateLimitMiddleware(perMinute, burst int) gin.HandlerFunc {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := NewRateLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst, 5*time.Minute)

	return func(c *gin.Context) {
		key := callerID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if ok, wait := limiter.Reserve(key); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
