// Package lock serializes turns per conversation with a Redis lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/metrics"
)

// ErrBusy is returned when the lock is still held after the wait budget
var ErrBusy = errors.New("conversation is busy")

// Deletes the key only while it still carries our token, so an expired
// lease re-acquired by another turn is left alone
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ConversationLock hands out leases on lock:conversation:<id>
type ConversationLock struct {
	redis  *redis.Client
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// Lease is a held lock
type Lease struct {
	key   string
	token string
}

// New creates a lock manager; ttl bounds how long a crashed holder blocks the conversation
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ConversationLock {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &ConversationLock{redis: client, ttl: ttl, poll: 50 * time.Millisecond, logger: logger}
}

// Key returns the Redis key guarding conversationID
func Key(conversationID string) string {
	return "lock:conversation:" + conversationID
}

// Acquire waits up to wait for the lease. wait <= 0 tries once.
func (l *ConversationLock) Acquire(ctx context.Context, conversationID string, wait time.Duration) (*Lease, error) {
	lease := &Lease{key: Key(conversationID), token: uuid.New().String()}
	deadline := time.Now().Add(wait)
	waited := false

	for {
		ok, err := l.redis.SetNX(ctx, lease.key, lease.token, l.ttl).Result()
		if err != nil {
			metrics.TurnLockWaits.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("acquire %s: %w", lease.key, err)
		}
		if ok {
			result := "immediate"
			if waited {
				result = "acquired"
			}
			metrics.TurnLockWaits.WithLabelValues(result).Inc()
			return lease, nil
		}
		if !time.Now().Before(deadline) {
			metrics.TurnLockWaits.WithLabelValues("busy").Inc()
			return nil, ErrBusy
		}

		waited = true
		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.TurnLockWaits.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release drops the lease if it is still ours
func (l *ConversationLock) Release(ctx context.Context, lease *Lease) {
	if lease == nil {
		return
	}
	n, err := releaseScript.Run(ctx, l.redis, []string{lease.key}, lease.token).Int()
	if err != nil {
		l.logger.Warn("Failed to release conversation lock", zap.String("key", lease.key), zap.Error(err))
		return
	}
	if n == 0 {
		l.logger.Warn("Conversation lock expired before release", zap.String("key", lease.key))
	}
}
