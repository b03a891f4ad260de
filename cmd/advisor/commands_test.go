package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []string
	turns    []map[string]string
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/api/v1/conversations/turn":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.turns = append(f.turns, body)
		f.mu.Unlock()
		id := body["conversation_id"]
		if id == "" {
			id = "c-new"
		}
		_, _ = w.Write([]byte(`{"conversation_id":"` + id + `","answer":"answer to ` + body["utterance"] + `",
			"answered_by":"recommendation_agent","recommended_properties":[{"id":"p1","name":"Lake View","price":8500000}]}`))
	case strings.HasSuffix(r.URL.Path, "/history"):
		_, _ = w.Write([]byte(`{"conversation_id":"c1","user_id":"u1","transcript":[{"question":"hi","answered_by":"discussion_agent","answer":"hello"}]}`))
	case strings.HasSuffix(r.URL.Path, "/seed"):
		_, _ = w.Write([]byte(`{"conversation_id":"c-seed","answer":"seeded","answered_by":"recommendation_agent"}`))
	case strings.HasSuffix(r.URL.Path, "/preferences") && r.Method == http.MethodGet:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Not Found","message":"No preferences stored"}`))
	case strings.HasSuffix(r.URL.Path, "/preferences"):
		_, _ = w.Write([]byte(`{"min_price":5000000,"max_price":9000000,"min_area":800,"max_area":1200,"preferred_cities":["Pune"]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func run(t *testing.T, gw *fakeGateway, stdin string, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--gateway", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestQueryPrintsAnswerAndProperties(t *testing.T) {
	out, err := run(t, &fakeGateway{}, "", "--user", "u1", "query", "2", "bhk", "in", "pune")
	require.NoError(t, err)
	assert.Contains(t, out, "[c-new] answer to 2 bhk in pune")
	assert.Contains(t, out, "1. Lake View | Rs 8500000")
}

func TestQueryRequiresUser(t *testing.T) {
	_, err := run(t, &fakeGateway{}, "", "query", "hello")
	assert.ErrorContains(t, err, "user id is required")
}

func TestChatKeepsConversation(t *testing.T) {
	gw := &fakeGateway{}
	out, err := run(t, gw, "2 bhk in pune\n\nmore\nexit\nignored\n", "--user", "u1", "chat")
	require.NoError(t, err)

	require.Len(t, gw.turns, 2)
	assert.Equal(t, "", gw.turns[0]["conversation_id"])
	assert.Equal(t, "c-new", gw.turns[1]["conversation_id"])
	assert.Equal(t, "more", gw.turns[1]["utterance"])
	assert.Contains(t, out, "answer to more")
}

func TestHistoryAsYAML(t *testing.T) {
	out, err := run(t, &fakeGateway{}, "", "-o", "yaml", "history", "c1")
	require.NoError(t, err)

	var h map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &h))
	assert.Equal(t, "c1", h["conversation_id"])
}

func TestSeedWithoutPreferences(t *testing.T) {
	gw := &fakeGateway{}
	out, err := run(t, gw, "", "-o", "json", "seed", "u9")
	require.NoError(t, err)

	var res map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotContains(t, res, "preferences")
	assert.Contains(t, string(res["turn"]), "c-seed")
	assert.ElementsMatch(t, []string{"GET /api/v1/users/u9/preferences", "POST /api/v1/users/u9/seed"}, gw.requests)
}

func TestPreferencesSet(t *testing.T) {
	out, err := run(t, &fakeGateway{}, "", "--user", "u1", "preferences", "set",
		"--min-price", "5000000", "--max-price", "9000000", "--min-area", "800", "--max-area", "1200", "--city", "pune")
	require.NoError(t, err)
	assert.Contains(t, out, "cities: Pune")
}

func TestRejectsUnknownOutput(t *testing.T) {
	_, err := run(t, &fakeGateway{}, "", "-o", "xml", "history", "c1")
	assert.ErrorContains(t, err, "--output")
}
