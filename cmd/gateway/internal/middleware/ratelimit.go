package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter provides fixed-window rate limiting per caller
type RateLimiter struct {
	redis             *redis.Client
	logger            *zap.Logger
	requestsPerMinute int
}

// NewRateLimiter creates a new rate limiter; requestsPerMinute <= 0 selects 60
func NewRateLimiter(redis *redis.Client, requestsPerMinute int, logger *zap.Logger) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RateLimiter{
		redis:             redis,
		logger:            logger,
		requestsPerMinute: requestsPerMinute,
	}
}

// Middleware returns the HTTP middleware function
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerKey(r)
		allowed, remaining, resetAt := rl.checkRateLimit(r.Context(), "ratelimit:"+caller)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.requestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("caller", caller),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(resetAt).Seconds())+1))
			rl.sendRateLimitError(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkRateLimit counts the request in the current one-minute window
func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string) (allowed bool, remaining int, resetAt time.Time) {
	window := time.Now().Truncate(time.Minute)
	windowKey := fmt.Sprintf("%s:%d", key, window.Unix())
	resetAt = window.Add(time.Minute)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, time.Minute+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		return true, rl.requestsPerMinute, resetAt
	}

	count := incr.Val()
	remaining = rl.requestsPerMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.requestsPerMinute), remaining, resetAt
}

func (rl *RateLimiter) sendRateLimitError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "Rate limit exceeded",
		"message": "Too many requests. Please retry after the rate limit window resets.",
	})
}
