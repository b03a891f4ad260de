package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper wraps Redis client with circuit breaker
type RedisWrapper struct {
	client *redis.Client
	guard  *Guard
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker for service
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	cfg := GetRedisConfig().ToConfig()
	// Cache misses and lost optimistic races are not backend failures
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, redis.Nil) && !errors.Is(err, redis.TxFailedErr) && !errors.Is(err, context.Canceled)
	}

	return &RedisWrapper{
		client: client,
		guard:  NewGuard("redis", service, cfg, logger),
		logger: logger,
	}
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.guard.Do(ctx, func() error {
		return rw.client.Ping(ctx).Err()
	})
}

// Get wraps Redis Get with circuit breaker; a missing key yields redis.Nil
func (rw *RedisWrapper) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := rw.guard.Do(ctx, func() error {
		var err error
		data, err = rw.client.Get(ctx, key).Bytes()
		return err
	})
	return data, err
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return rw.guard.Do(ctx, func() error {
		return rw.client.Set(ctx, key, value, expiration).Err()
	})
}

// Del wraps Redis Del with circuit breaker
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) error {
	return rw.guard.Do(ctx, func() error {
		return rw.client.Del(ctx, keys...).Err()
	})
}

// SAdd wraps Redis SAdd with circuit breaker
func (rw *RedisWrapper) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return rw.guard.Do(ctx, func() error {
		return rw.client.SAdd(ctx, key, members...).Err()
	})
}

// SMembers wraps Redis SMembers with circuit breaker
func (rw *RedisWrapper) SMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := rw.guard.Do(ctx, func() error {
		var err error
		members, err = rw.client.SMembers(ctx, key).Result()
		return err
	})
	return members, err
}

// Watch runs an optimistic transaction over keys with circuit breaker.
// redis.TxFailedErr is returned when a watched key changed underneath fn.
func (rw *RedisWrapper) Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	return rw.guard.Do(ctx, func() error {
		return rw.client.Watch(ctx, fn, keys...)
	})
}

// Close wraps Redis Close
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the underlying Redis client for operations not covered by wrapper
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.guard.IsOpen()
}
