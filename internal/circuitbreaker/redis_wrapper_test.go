package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func newMiniRedisWrapper(t *testing.T) (*RedisWrapper, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	wrapper := NewRedisWrapper(client, "test", zaptest.NewLogger(t))
	t.Cleanup(func() { _ = wrapper.Close() })
	return wrapper, s
}

func TestRedisWrapper_NormalOperations(t *testing.T) {
	wrapper, _ := newMiniRedisWrapper(t)
	ctx := context.Background()

	if err := wrapper.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if err := wrapper.Set(ctx, "test:key", "test:value", time.Minute); err != nil {
		t.Errorf("Set failed: %v", err)
	}

	data, err := wrapper.Get(ctx, "test:key")
	if err != nil {
		t.Errorf("Get failed: %v", err)
	}
	if string(data) != "test:value" {
		t.Errorf("Expected 'test:value', got '%s'", data)
	}

	if err := wrapper.SAdd(ctx, "test:set", "a", "b"); err != nil {
		t.Errorf("SAdd failed: %v", err)
	}
	members, err := wrapper.SMembers(ctx, "test:set")
	if err != nil || len(members) != 2 {
		t.Errorf("SMembers returned %v, %v", members, err)
	}

	if err := wrapper.Del(ctx, "test:key"); err != nil {
		t.Errorf("Del failed: %v", err)
	}
}

func TestRedisWrapper_MissesDoNotTripBreaker(t *testing.T) {
	wrapper, _ := newMiniRedisWrapper(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := wrapper.Get(ctx, "nonexistent:key"); !errors.Is(err, redis.Nil) {
			t.Fatalf("Expected redis.Nil for non-existent key, got %v", err)
		}
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed for redis.Nil")
	}
}

func TestRedisWrapper_WatchConflictIsNotAFailure(t *testing.T) {
	wrapper, _ := newMiniRedisWrapper(t)
	ctx := context.Background()
	client := wrapper.GetClient()

	for i := 0; i < 5; i++ {
		err := wrapper.Watch(ctx, func(tx *redis.Tx) error {
			// A concurrent write between WATCH and EXEC aborts the transaction
			if err := client.Set(ctx, "watched", i, 0).Err(); err != nil {
				return err
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, "watched", "mine", 0)
				return nil
			})
			return err
		}, "watched")
		if !errors.Is(err, redis.TxFailedErr) {
			t.Fatalf("Expected TxFailedErr, got %v", err)
		}
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Optimistic conflicts should not open the breaker")
	}
}

func TestRedisWrapper_OpensWhenServerDown(t *testing.T) {
	wrapper, s := newMiniRedisWrapper(t)
	ctx := context.Background()
	s.Close()

	for i := 0; i < 5; i++ {
		_ = wrapper.Ping(ctx)
	}
	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("Expected breaker to open after repeated connection failures")
	}
	if err := wrapper.Set(ctx, "k", "v", time.Minute); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected open breaker error, got %v", err)
	}
}
