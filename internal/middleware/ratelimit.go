package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
)

// RateLimiterConfig configures the rate limiter
type RateLimiterConfig struct {
	// RequestsPerSecond is the rate of token refill
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests allowed in a burst
	BurstSize int

	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration

	// KeyFunc extracts the rate limit key from the request
	// Default: client IP address
	KeyFunc func(r *http.Request) string
}

// DefaultRateLimiterConfig returns sensible defaults
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
		KeyFunc:           ClientKey,
	}
}

// PerMinuteRateLimiterConfig converts the configured requests-per-minute
// budget into a token bucket config.
func PerMinuteRateLimiterConfig(requestsPerMinute, burst int) RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	if requestsPerMinute > 0 {
		cfg.RequestsPerSecond = float64(requestsPerMinute) / 60
	}
	if burst > 0 {
		cfg.BurstSize = burst
	}
	return cfg
}

// CheckoutRateLimiterConfig returns stricter limits for order placement
func CheckoutRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
		KeyFunc:           ClientKey,
	}
}

// tokenBucket implements a token bucket rate limiter
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiter is an in-memory rate limiter
type RateLimiter struct {
	config  RateLimiterConfig
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	stop    chan struct{}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientKey
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{
			tokens:     float64(rl.config.BurstSize),
			lastRefill: time.Now(),
		}
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	// Refill tokens based on time elapsed
	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * rl.config.RequestsPerSecond
	if bucket.tokens > float64(rl.config.BurstSize) {
		bucket.tokens = float64(rl.config.BurstSize)
	}
	bucket.lastRefill = now

	// Check if we have tokens available
	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}

	return false
}

// cleanup removes stale entries periodically
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, bucket := range rl.buckets {
				bucket.mu.Lock()
				// Remove if bucket is full and hasn't been used recently
				if bucket.tokens >= float64(rl.config.BurstSize) &&
					now.Sub(bucket.lastRefill) > rl.config.CleanupInterval {
					delete(rl.buckets, key)
				}
				bucket.mu.Unlock()
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// Middleware returns an HTTP middleware that applies rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.config.KeyFunc(r)

		if !rl.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
			respondTooManyRequests(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	if rl.config.RequestsPerSecond <= 0 {
		return 60
	}
	secs := int(1/rl.config.RequestsPerSecond + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// RateLimit creates a rate limiting middleware with the given config
func RateLimit(config RateLimiterConfig) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(config)
	return limiter.Middleware
}

// ClientKey keys buckets by authenticated customer when there is one, and
// by the client address resolved by WithClientIP otherwise.
func ClientKey(r *http.Request) string {
	if customerID, ok := domain.CustomerIDFromContext(r.Context()); ok {
		return "customer:" + strconv.FormatInt(customerID, 10)
	}
	if ip := domain.ClientAddrFromContext(r.Context()); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + ClientIP(r, false)
}
