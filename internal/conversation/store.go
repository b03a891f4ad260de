package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
	"github.com/propadvisor/orchestrator/internal/metrics"
)

const (
	defaultTTL       = 7 * 24 * time.Hour
	defaultMaxCached = 5000
)

type cacheEntry struct {
	state    *State
	loadedAt time.Time
	access   time.Time
}

// Store persists conversation state in Redis.
// A turn loads a snapshot, works on a private copy and commits it once;
// an abandoned turn simply never commits.
type Store struct {
	client    *circuitbreaker.RedisWrapper
	logger    *zap.Logger
	ttl       time.Duration
	now       func() time.Time
	mu        sync.Mutex
	cache     map[string]*cacheEntry
	maxCached int
}

// NewStore creates a conversation store over a wrapped Redis client.
// ttl <= 0 selects the default retention.
func NewStore(client *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		client:    client,
		logger:    logger,
		ttl:       ttl,
		now:       time.Now,
		cache:     make(map[string]*cacheEntry),
		maxCached: defaultMaxCached,
	}
}

// Load returns the authoritative state for a turn, or a fresh unsaved state
// (Version 0) when the conversation does not exist yet.
func (s *Store) Load(ctx context.Context, conversationID, userID string) (*State, error) {
	state, err := s.fetch(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return NewState(conversationID, userID, s.now()), nil
	}
	if err != nil {
		return nil, err
	}
	if state.UserID != "" && userID != "" && state.UserID != userID {
		s.logger.Warn("Conversation requested by non-owner",
			zap.String("conversation_id", conversationID),
			zap.String("requesting_user", userID),
		)
		return nil, ErrNotOwner
	}
	return state, nil
}

// Get returns a committed conversation for read-only use (history views).
// Redis is always read first; the last copy this process saw is served
// only when Redis cannot be reached.
func (s *Store) Get(ctx context.Context, conversationID string) (*State, error) {
	state, err := s.fetch(ctx, conversationID)
	if err == nil || errors.Is(err, ErrNotFound) {
		return state, err
	}

	s.mu.Lock()
	e, ok := s.cache[conversationID]
	if ok {
		e.access = s.now()
	}
	s.mu.Unlock()
	if !ok {
		metrics.ConversationCacheMisses.Inc()
		return nil, err
	}

	metrics.ConversationCacheHits.Inc()
	s.logger.Warn("Serving last known conversation",
		zap.String("conversation_id", conversationID),
		zap.Int64("version", e.state.Version),
		zap.Error(err),
	)
	return e.state.Clone()
}

// Commit writes state if the stored version still equals state.Version and
// bumps the version. ErrVersionConflict means another turn committed first.
func (s *Store) Commit(ctx context.Context, state *State) (*State, error) {
	if state == nil || state.ID == "" {
		return nil, fmt.Errorf("conversation state is missing an id")
	}

	next, err := state.Clone()
	if err != nil {
		return nil, err
	}
	next.Version = state.Version + 1
	next.UpdatedAt = s.now()

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}

	key := conversationKey(state.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != state.Version {
			return redis.TxFailedErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if next.UserID != "" {
				pipe.SAdd(ctx, userIndexKey(next.UserID), next.ID)
				pipe.Expire(ctx, userIndexKey(next.UserID), s.ttl)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		metrics.ConversationCommitConflicts.Inc()
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}

	if next.Version == 1 {
		metrics.ConversationsCreated.Inc()
	}
	s.remember(next)

	s.logger.Debug("Committed conversation",
		zap.String("conversation_id", next.ID),
		zap.Int64("version", next.Version),
		zap.Int("turns", len(next.Transcript)),
	)
	return next, nil
}

// UserConversations lists conversation ids owned by userID, newest first
func (s *Store) UserConversations(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, userIndexKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	type entry struct {
		id      string
		updated time.Time
	}
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		st, err := s.fetch(ctx, id)
		if err != nil {
			// Index entries can outlive expired conversations
			continue
		}
		entries = append(entries, entry{id: id, updated: st.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].updated.Equal(entries[j].updated) {
			return entries[i].id < entries[j].id
		}
		return entries[i].updated.After(entries[j].updated)
	})

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.id)
	}
	return out, nil
}

// Close closes the underlying Redis client
func (s *Store) Close() error {
	return s.client.Close()
}

// RedisWrapper returns the underlying wrapper for health checks
func (s *Store) RedisWrapper() *circuitbreaker.RedisWrapper {
	return s.client
}

func (s *Store) fetch(ctx context.Context, conversationID string) (*State, error) {
	data, err := s.client.Get(ctx, conversationKey(conversationID))
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	s.remember(&state)
	return &state, nil
}

func (s *Store) remember(state *State) {
	copied, err := state.Clone()
	if err != nil {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[state.ID] = &cacheEntry{state: copied, loadedAt: now, access: now}
	s.evictLocked()
	metrics.ConversationCacheSize.Set(float64(len(s.cache)))
}

// evictLocked drops the least recently used half once the cache is full
func (s *Store) evictLocked() {
	if len(s.cache) <= s.maxCached {
		return
	}
	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.cache[ids[i]].access.Before(s.cache[ids[j]].access)
	})
	for _, id := range ids[:len(ids)-s.maxCached/2] {
		delete(s.cache, id)
		metrics.ConversationCacheEvictions.Inc()
	}
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("failed to decode stored version: %w", err)
	}
	return head.Version, nil
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("user:%s:conversations", userID)
}
