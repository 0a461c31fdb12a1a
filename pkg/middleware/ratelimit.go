package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/assetguard/pkg/httputil"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns the anonymous rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig returns per-user rate limit settings
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// Limiter decides whether one more request for key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Remaining(ctx context.Context, key string) (int, error)
	Config() *RateLimitConfig
}

// RateLimiter is an in-process token bucket limiter
type RateLimiter struct {
	config  *RateLimitConfig
	now     func() time.Time
	buckets map[string]*bucket
	mu      sync.RWMutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Config returns the limiter settings
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

func (rl *RateLimiter) capacity() int {
	return rl.config.RequestsPerWindow + rl.config.BurstSize
}

// Allow takes one token for key
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity(), lastUpdate: rl.now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(b.lastUpdate)

	refill := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if refill > 0 {
		b.tokens += refill
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of tokens left for key
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.capacity(), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens, nil
}

// Cleanup removes buckets idle for two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware limits authenticated callers by user id and anonymous
// callers by client IP
type RateLimitMiddleware struct {
	userLimiter      Limiter
	anonymousLimiter Limiter
	failOpen         bool
}

// NewRateLimitMiddleware creates a rate limit middleware
func NewRateLimitMiddleware(user, anonymous Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter:      user,
		anonymousLimiter: anonymous,
		failOpen:         true,
	}
}

// SetFailOpen controls whether limiter errors let requests through
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var (
			key     string
			limiter Limiter
		)
		if ac := GetAuthContext(r); ac != nil {
			key = fmt.Sprintf("user:%d", ac.UserID)
			limiter = m.userLimiter
		} else {
			key = "ip:" + getClientIP(r)
			limiter = m.anonymousLimiter
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorCode(w, http.StatusServiceUnavailable, httputil.CodeInternal, "Service temporarily unavailable")
			return
		}

		cfg := limiter.Config()
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))

		if !allowed {
			retryAfter := cfg.WindowDuration.Seconds()
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
			w.Header().Set("X-RateLimit-Remaining", "0")
			httputil.WriteErrorCode(w, http.StatusTooManyRequests, httputil.CodeRateLimited, "Rate limit exceeded")
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}
		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
