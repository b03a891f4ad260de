package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
)

// Cache is a vector cache keyed by MakeKey
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// LocalLRU is an in-process LRU with per-entry TTL
type LocalLRU struct {
	mu    sync.Mutex
	cap   int
	order *list.List // front = most recent
	items map[string]*list.Element
	now   func() time.Time
}

type lruEntry struct {
	key     string
	vec     []float32
	expires time.Time
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
		now:   time.Now,
	}
}

func (l *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*lruEntry)
	if !ent.expires.After(l.now()) {
		l.order.Remove(el)
		delete(l.items, key)
		return nil, false
	}
	l.order.MoveToFront(el)
	return ent.vec, true
}

func (l *LocalLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expires := l.now().Add(ttl)
	if el, ok := l.items[key]; ok {
		ent := el.Value.(*lruEntry)
		ent.vec, ent.expires = v, expires
		l.order.MoveToFront(el)
		return
	}
	l.items[key] = l.order.PushFront(&lruEntry{key: key, vec: v, expires: expires})
	for l.order.Len() > l.cap {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(*lruEntry).key)
	}
}

// Len returns the number of live and expired entries held
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// RedisCache stores vectors as little-endian float32 blobs
type RedisCache struct {
	cli *circuitbreaker.RedisWrapper
}

func NewRedisCache(cli *circuitbreaker.RedisWrapper) *RedisCache {
	return &RedisCache{cli: cli}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.cli.Get(ctx, key)
	if err != nil || len(b)%4 != 0 {
		return nil, false
	}
	return decodeVector(b), true
}

func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	_ = r.cli.Set(ctx, key, encodeVector(v), ttl)
}

func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// MakeKey derives the cache key; dimensions are part of the key so a
// resized index never sees stale vectors
func MakeKey(model string, dims int, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", model, dims, text)))
	return "emb:" + hex.EncodeToString(h[:16])
}
