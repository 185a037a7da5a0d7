// Package utils provides utility functions used throughout the application.
package utils

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/pkg/limitedhttp"
)

// RateLimiter is a keyed, in-memory sliding-window limiter for inbound
// API traffic.
type RateLimiter struct {
	// windows holds one sliding window per key
	windows map[string]*limitedhttp.Window

	// window defines the time period for limiting
	window time.Duration

	// limit is the maximum number of requests allowed in the window
	limit int

	mu  sync.Mutex
	now func() time.Time
}

// NewRateLimiter creates a new rate limiter with the specified window and limit.
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*limitedhttp.Window),
		window:  window,
		limit:   limit,
		now:     time.Now,
	}
}

func (rl *RateLimiter) get(key string) *limitedhttp.Window {
	w, ok := rl.windows[key]
	if !ok {
		w = limitedhttp.NewWindow(rl.limit, rl.window)
		rl.windows[key] = w
	}
	return w
}

// Allow records a request for key and reports whether it was within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.get(key).Allow(rl.now())
}

// GetRemainingRequests returns the number of remaining requests for the given key.
func (rl *RateLimiter) GetRemainingRequests(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.get(key).Remaining(rl.now())
}

// GetResetTime returns when the oldest request for key leaves the window.
func (rl *RateLimiter) GetResetTime(key string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.get(key).Reset(rl.now())
}

// CleanupLoop periodically drops idle keys until ctx ends.
func (rl *RateLimiter) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if w.Empty(now) {
			delete(rl.windows, key)
		}
	}
}

// RateLimitMiddleware is an HTTP middleware that applies rate limiting.
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed := limiter.Allow(key)
			remaining := limiter.GetRemainingRequests(key)
			resetTime := limiter.GetResetTime(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				retry := max(int(time.Until(resetTime).Seconds()), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				RespondWithError(w, models.ErrTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyFunc creates a rate limit key based on the client's IP address.
func DefaultKeyFunc(r *http.Request) string {
	return GetRequestIP(r)
}
