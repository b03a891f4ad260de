package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/llm"
	"github.com/propadvisor/orchestrator/internal/normalize"
	"github.com/propadvisor/orchestrator/internal/preferences"
)

// scriptedClient answers by call label
type scriptedClient struct {
	replies map[string]string
	err     error
	calls   []llm.Request
	schemas []string
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.calls = append(c.calls, req)
	if c.err != nil {
		return "", c.err
	}
	return c.replies[req.Call], nil
}

func (c *scriptedClient) CompleteStructured(ctx context.Context, req llm.Request, schema llm.Schema, out interface{}) error {
	c.schemas = append(c.schemas, schema.Name)
	content, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return llm.DecodeJSON(content, out)
}

func userPrompt(req llm.Request) string {
	return req.Messages[len(req.Messages)-1].Content
}

func TestClassifyInput(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{CallClassifyInput: `{"validity":"invalid"}`}}

	v, err := ClassifyInput(context.Background(), c, "tell me a joke", []string{"2 bhk in pune"})
	require.NoError(t, err)
	assert.Equal(t, conversation.Invalid, v)
	assert.Equal(t, []string{"input_validity"}, c.schemas)
	assert.Contains(t, userPrompt(c.calls[0]), "Latest message: tell me a joke")
	assert.Contains(t, userPrompt(c.calls[0]), "1. 2 bhk in pune")
}

func TestClassifyInputRejectsUnknownLabel(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{CallClassifyInput: `{"validity":"maybe"}`}}
	_, err := ClassifyInput(context.Background(), c, "hello", nil)
	assert.Error(t, err)

	c = &scriptedClient{err: errors.New("timeout")}
	_, err = ClassifyInput(context.Background(), c, "hello", nil)
	assert.Error(t, err)
}

func TestClassifyIntent(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{CallClassifyIntent: `{"intent":"more"}`}}
	transcript := []conversation.TurnRecord{{
		Question:   "2 bhk in pune",
		AnsweredBy: conversation.AnsweredByRecommendation,
		Answer:     "1. Lakeview",
	}}

	i, err := ClassifyIntent(context.Background(), c, "show me more", transcript)
	require.NoError(t, err)
	assert.Equal(t, conversation.IntentMore, i)
	assert.Contains(t, userPrompt(c.calls[0]), `"answered_by":"recommendation_agent"`)
}

func TestRewriteForGraphCarriesHints(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{CallGraphRewrite: `"2 BHK Flats in New Delhi priced under 10000000"`}}
	hints := normalize.Extract("show me 2 bhk in south delhi under 1 cr")

	text, err := RewriteForGraph(context.Background(), c, "show me 2 bhk in south delhi under 1 cr", nil, hints)
	require.NoError(t, err)
	assert.Equal(t, "2 BHK Flats in New Delhi priced under 10000000", text)

	prompt := userPrompt(c.calls[0])
	assert.Contains(t, prompt, "city: New Delhi")
	assert.Contains(t, prompt, "maximum price: 10000000")
	assert.Contains(t, prompt, "IN_NEIGHBORHOOD")
}

func TestRewriteForGraphEmpty(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{CallGraphRewrite: "  "}}
	_, err := RewriteForGraph(context.Background(), c, "villa", nil, normalize.Hints{})
	assert.ErrorIs(t, err, llm.ErrMalformedOutput)
}

func TestEnhanceReconcilesWithHints(t *testing.T) {
	// The model misses the budget and invents a city spelling
	c := &scriptedClient{replies: map[string]string{CallEnhance: `{
		"enhanced_user_query": "2 BHK flats in Delhi",
		"city": "delhi",
		"has_balcony": null,
		"min_beds": 2,
		"max_price": null,
		"min_baths": null,
		"min_area": null,
		"property_type": "Apartment",
		"room_type": "bhk"
	}`}}
	utterance := "show me 2 bhk in south delhi under 1 cr"

	q, err := Enhance(context.Background(), c, utterance, nil, normalize.Extract(utterance), nil)
	require.NoError(t, err)
	require.NotNil(t, q.City)
	assert.Equal(t, "New Delhi", *q.City)
	require.NotNil(t, q.RoomType)
	assert.Equal(t, "BHK", *q.RoomType)
	require.NotNil(t, q.MinBeds)
	assert.Equal(t, 2, *q.MinBeds)
	require.NotNil(t, q.MaxPrice)
	assert.Equal(t, float64(10_000_000), *q.MaxPrice)
	require.NotNil(t, q.PropertyType)
	assert.Equal(t, "Flat", *q.PropertyType)
	assert.Equal(t, []string{"enhanced_query"}, c.schemas)
}

func TestEnhanceIncludesPreferences(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{CallEnhance: `{"enhanced_user_query":"","city":null,"has_balcony":null,"min_beds":null,"max_price":null,"min_baths":null,"min_area":null,"property_type":null,"room_type":null}`}}
	prefs := &preferences.Preferences{MinPrice: 5_000_000, MaxPrice: 9_000_000, MinArea: 700, MaxArea: 1200, PreferredCities: []string{"Pune"}}

	q, err := Enhance(context.Background(), c, "something nice", nil, normalize.Hints{}, prefs)
	require.NoError(t, err)
	assert.Equal(t, "something nice", q.EnhancedUserQuery, "empty rewrite falls back to the utterance")
	assert.Contains(t, userPrompt(c.calls[0]), "- Preferred cities: Pune")
}

func TestEnhancedQuerySchemaIsStrictCompatible(t *testing.T) {
	data, err := EnhancedQuerySchema.Definition.MarshalJSON()
	require.NoError(t, err)

	var doc struct {
		Properties           map[string]json.RawMessage `json:"properties"`
		Required             []string                   `json:"required"`
		AdditionalProperties bool                       `json:"additionalProperties"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.False(t, doc.AdditionalProperties)
	assert.Len(t, doc.Required, len(doc.Properties), "strict mode requires every property")
	assert.Contains(t, string(doc.Properties["city"]), `"New Delhi"`)
	assert.Contains(t, string(doc.Properties["city"]), "null")
}

func TestSummarizeScrubsReply(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{
		CallSummary: "1. Skyline Residency (id: p12) in Pune, sourced from Neo4j.",
	}}
	records := []conversation.Property{{"name": "Skyline Residency", "cityName": "Pune"}}

	text, err := Summarize(context.Background(), c, "2 BHK in Pune", []string{"2 bhk pune"}, records)
	require.NoError(t, err)
	assert.Equal(t, "1. Skyline Residency in Pune, sourced from our listings.", text)
	assert.Contains(t, userPrompt(c.calls[0]), `"name": "Skyline Residency"`)
}

func TestSummarizeFailures(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{CallSummary: "   "}}
	_, err := Summarize(context.Background(), c, "q", nil, nil)
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)

	c = &scriptedClient{err: fmt.Errorf("provider down")}
	_, err = Summarize(context.Background(), c, "q", nil, nil)
	assert.Error(t, err)
}

func TestDiscussUsesShownProperties(t *testing.T) {
	c := &scriptedClient{replies: map[string]string{CallDiscussion: "The second one has 3 baths."}}
	transcript := []conversation.TurnRecord{{
		Question:              "villas in pune",
		AnsweredBy:            conversation.AnsweredByRecommendation,
		RecommendedProperties: []conversation.Property{{"name": "Hill Villa", "baths": 3}},
	}}

	text, err := Discuss(context.Background(), c, "how many baths in the second one?", transcript)
	require.NoError(t, err)
	assert.Equal(t, "The second one has 3 baths.", text)
	assert.Contains(t, userPrompt(c.calls[0]), "Hill Villa")
}

func TestTranscriptContextKeepsTail(t *testing.T) {
	var records []conversation.TurnRecord
	for i := 0; i < MaxContextTurns+3; i++ {
		records = append(records, conversation.TurnRecord{Question: fmt.Sprintf("q%d", i)})
	}
	out := TranscriptContext(records, false)
	assert.Len(t, strings.Split(out, "\n"), MaxContextTurns)
	assert.NotContains(t, out, `"q0"`)
	assert.Contains(t, out, fmt.Sprintf(`"q%d"`, MaxContextTurns+2))
}

func TestInvalidReply(t *testing.T) {
	reply := InvalidReply("who won the match?")
	assert.True(t, strings.HasPrefix(reply, "Sorry, I can only help"))
	for _, city := range normalize.Cities {
		assert.Contains(t, reply, city)
	}
	assert.Contains(t, reply, "Independent House")

	rent := InvalidReply("any 1 bhk on rent in pune?")
	assert.Contains(t, rent, "for rent")
	assert.Contains(t, rent, "for sale")
	assert.Equal(t, rent, InvalidReply("any 1 bhk on rent in pune?"), "reply is deterministic")
}

func TestScrub(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Lakeview (id: p12) has a pool", "Lakeview has a pool"},
		{"Ranked with score=0.37 overall", "Ranked with overall"},
		{"Results from pgvector and Postgres", "Results from our listings and our listings"},
		{"A fine idea near the scoreboard", "A fine idea near the scoreboard"},
		{"Price 1.2 Cr.\n", "Price 1.2 Cr."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Scrub(tt.in), tt.in)
	}
}

func TestKinds(t *testing.T) {
	assert.False(t, BackendRetrievalFailure.Fatal())
	assert.True(t, ClassificationFailure.Fatal())
	assert.True(t, EmbeddingDimensionMismatch.Fatal())
	assert.True(t, SynthesisFailure.Fatal())

	k, ok := ParseKind("SynthesisFailure")
	assert.True(t, ok)
	assert.Equal(t, SynthesisFailure, k)
	_, ok = ParseKind("Other")
	assert.False(t, ok)

	cause := errors.New("boom")
	err := fmt.Errorf("activity: %w", NewTurnError(ClassificationFailure, "input_check", cause))
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ClassificationFailure, kind)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "input_check failed: ClassificationFailure: boom", errors.Unwrap(err).Error())
}
