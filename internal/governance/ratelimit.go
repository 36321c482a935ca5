package governance

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/polisai/ogis/pkg/domain"
)

const (
	defaultMaxClients = 10000
	defaultIdleTTL    = 10 * time.Minute
)

// RateLimiterConfig defines the per-client token bucket.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// MaxClients bounds the number of tracked buckets. Least recently seen
	// clients are evicted first.
	MaxClients int
	// IdleTTL drops buckets for clients that have not been seen for this long.
	IdleTTL time.Duration
}

// Enabled reports whether the configuration limits anything.
func (c RateLimiterConfig) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithLogger sets the logger used for rejections.
func WithLogger(logger *slog.Logger) Option {
	return func(rl *RateLimiter) {
		if logger != nil {
			rl.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) {
		if now != nil {
			rl.now = now
		}
	}
}

// RateLimiter implements token bucket rate limiting per client.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimiterConfig
	buckets *expirable.LRU[string, *tokenBucket]
	logger  *slog.Logger
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the provided configuration.
func NewRateLimiter(config RateLimiterConfig, opts ...Option) *RateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = int(math.Max(1, math.Ceil(config.RequestsPerSecond)))
	}
	if config.MaxClients <= 0 {
		config.MaxClients = defaultMaxClients
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaultIdleTTL
	}

	rl := &RateLimiter{
		config:  config,
		buckets: expirable.NewLRU[string, *tokenBucket](config.MaxClients, nil, config.IdleTTL),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow checks if a request from client should be allowed and returns the
// tokens left in its bucket.
func (rl *RateLimiter) Allow(client string) (bool, float64) {
	if !rl.config.Enabled() {
		return true, math.Inf(1)
	}

	rl.mu.Lock()
	bucket, ok := rl.buckets.Get(client)
	if !ok {
		bucket = newTokenBucket(rl.config.RequestsPerSecond, rl.config.BurstSize, rl.now())
	}
	// Re-adding refreshes the idle TTL.
	rl.buckets.Add(client, bucket)
	rl.mu.Unlock()

	return bucket.take(rl.now())
}

// Clients returns the number of tracked client buckets.
func (rl *RateLimiter) Clients() int {
	return rl.buckets.Len()
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !rl.config.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ClientKey(r)
		allowed, remaining := rl.Allow(client)

		WriteRateLimitHeaders(w, rl.config.BurstSize, int(remaining))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(math.Ceil(1 / rl.config.RequestsPerSecond))
		w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(domain.ErrorResponse{
			Code:    "RATE_LIMITED",
			Message: "rate limit exceeded",
		})

		rl.logger.Warn("governance: rate limit exceeded", "client", client, "path", r.URL.Path)
	})
}

// ClientKey identifies the caller by remote IP.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, limit, remaining int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

// tokenBucket implements a token bucket algorithm for rate limiting.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64   // tokens per second
	capacity   float64   // maximum burst size
	tokens     float64   // current available tokens
	lastRefill time.Time // last time tokens were refilled
}

func newTokenBucket(rps float64, burstSize int, now time.Time) *tokenBucket {
	return &tokenBucket{
		rate:       rps,
		capacity:   float64(burstSize),
		tokens:     float64(burstSize),
		lastRefill: now,
	}
}

// take attempts to consume one token from the bucket.
func (tb *tokenBucket) take(now time.Time) (bool, float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, tb.tokens
	}

	return false, tb.tokens
}

// refill adds tokens to the bucket based on elapsed time.
func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.rate)
	tb.lastRefill = now
}
