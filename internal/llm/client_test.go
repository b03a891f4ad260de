package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

type capturedRequest struct {
	Model          string   `json:"model"`
	Temperature    *float32 `json:"temperature"`
	ResponseFormat *struct {
		Type       string `json:"type"`
		JSONSchema struct {
			Name   string `json:"name"`
			Strict bool   `json:"strict"`
		} `json:"json_schema"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeProvider(t *testing.T, content string, status int, seen *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		resp := map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *OpenAIClient {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL + "/v1"
	cfg.APIKey = "test"
	cfg.ChatModel = "test-model"
	cfg.RequestsPerSecond = 0
	return NewOpenAIClient(cfg, zaptest.NewLogger(t))
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	var seen capturedRequest
	srv := fakeProvider(t, "valid", http.StatusOK, &seen)
	client := newTestClient(t, srv.URL)

	out, err := client.Complete(context.Background(), Request{
		Call: "classify_input",
		Messages: []Message{
			{Role: RoleSystem, Content: "You are an input evaluator"},
			{Role: RoleUser, Content: "2 bhk in pune"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "valid", out)
	assert.Equal(t, "test-model", seen.Model)
	assert.Nil(t, seen.ResponseFormat)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
}

func TestCompleteStructuredDecodes(t *testing.T) {
	var seen capturedRequest
	srv := fakeProvider(t, `{"evaluation":"more"}`, http.StatusOK, &seen)
	client := newTestClient(t, srv.URL)

	var out struct {
		Evaluation string `json:"evaluation"`
	}
	err := client.CompleteStructured(context.Background(),
		Request{Call: "classify_intent", Messages: []Message{{Role: RoleUser, Content: "show me more"}}},
		LabelSchema("intent", "evaluation", []string{"recommendation", "discussion", "more"}),
		&out,
	)

	require.NoError(t, err)
	assert.Equal(t, "more", out.Evaluation)
	require.NotNil(t, seen.ResponseFormat)
	assert.Equal(t, "json_schema", seen.ResponseFormat.Type)
	assert.Equal(t, "intent", seen.ResponseFormat.JSONSchema.Name)
	assert.True(t, seen.ResponseFormat.JSONSchema.Strict)
}

func TestCompleteStructuredMalformed(t *testing.T) {
	srv := fakeProvider(t, "definitely not json", http.StatusOK, nil)
	client := newTestClient(t, srv.URL)

	var out map[string]interface{}
	err := client.CompleteStructured(context.Background(), Request{Call: "enhance"}, RawSchema("x", `{"type":"object"}`), &out)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestCompleteProviderError(t *testing.T) {
	srv := fakeProvider(t, "", http.StatusInternalServerError, nil)
	client := newTestClient(t, srv.URL)

	_, err := client.Complete(context.Background(), Request{Call: "summary"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM summary failed")
}

func TestCompleteHonoursCancelledContext(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, Request{Call: "summary"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSetRequestsPerSecond(t *testing.T) {
	client := newTestClient(t, "http://unused")
	assert.Equal(t, rate.Inf, client.limiter.Limit())

	client.SetRequestsPerSecond(2.5)
	assert.Equal(t, rate.Limit(2.5), client.limiter.Limit())

	client.SetRequestsPerSecond(0)
	assert.Equal(t, rate.Inf, client.limiter.Limit())
}

func TestDecodeJSONAcceptsFences(t *testing.T) {
	var out struct {
		City string `json:"city"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"city\":\"Pune\"}\n```", &out))
	assert.Equal(t, "Pune", out.City)
}

func TestTemperatureIsAlwaysSent(t *testing.T) {
	zero, warm := float32(0), float32(0.5)
	for _, tt := range []struct {
		name string
		in   *float32
		want float32
	}{
		{"zero is sent as the smallest positive value", &zero, math.SmallestNonzeroFloat32},
		{"explicit value", &warm, 0.5},
		{"client default", nil, 0.2},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var seen capturedRequest
			srv := fakeProvider(t, "valid", http.StatusOK, &seen)
			client := newTestClient(t, srv.URL)

			_, err := client.Complete(context.Background(), Request{
				Call:        "classify_input",
				Messages:    []Message{{Role: RoleUser, Content: "2 bhk in pune"}},
				Temperature: tt.in,
			})
			require.NoError(t, err)
			require.NotNil(t, seen.Temperature)
			assert.Equal(t, tt.want, *seen.Temperature)
			assert.Greater(t, *seen.Temperature, float32(0))
		})
	}
}
