package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func TestCallerKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "ip:10.0.0.7", CallerKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.9", CallerKey(r))

	r.Header.Set(HeaderUserID, "u1")
	assert.Equal(t, "user:u1", CallerKey(r))
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	rl := NewRateLimiter(newRedis(t), 2, zaptest.NewLogger(t))
	h := rl.Middleware(http.HandlerFunc(ok))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c1/history", nil)
		req.Header.Set(HeaderUserID, "u1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if i == 2 {
			assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// a different caller has its own window
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "u2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotencyReplaysSuccessfulPost(t *testing.T) {
	var calls int32
	h := NewIdempotencyMiddleware(newRedis(t), zaptest.NewLogger(t)).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"call":%d}`, n)
	}))

	send := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/turn", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("k1", `{"utterance":"2 bhk"}`)
	second := send("k1", `{"utterance":"2 bhk"}`)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Cached"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// same key, different body runs again
	third := send("k1", `{"utterance":"3 bhk"}`)
	assert.Empty(t, third.Header().Get("X-Idempotency-Cached"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestValidationRejectsBadInput(t *testing.T) {
	mux := http.NewServeMux()
	vm := NewValidationMiddleware(zaptest.NewLogger(t))
	mux.Handle("GET /api/v1/conversations/{id}/history", vm.Middleware(http.HandlerFunc(ok)))
	mux.Handle("POST /api/v1/conversations/turn", vm.Middleware(http.HandlerFunc(ok)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/bad%20id/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c-1/history", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/turn", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestTracingUsesTraceparent(t *testing.T) {
	var seen string
	h := NewTracingMiddleware(zaptest.NewLogger(t)).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", seen)
	assert.Equal(t, seen, rec.Header().Get("X-Trace-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Len(t, seen, 32)
	assert.NotEqual(t, "garbage", seen)
}
