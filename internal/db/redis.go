package db

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
)

// RedisConfig holds the Redis connection settings shared by the stores
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis dials Redis and returns a circuit breaker wrapped client for service
func NewRedis(cfg RedisConfig, service string, logger *zap.Logger) (*circuitbreaker.RedisWrapper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	wrapper := circuitbreaker.NewRedisWrapper(client, service, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wrapper.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return wrapper, nil
}
