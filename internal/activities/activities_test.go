package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/propadvisor/orchestrator/internal/agents"
	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/embeddings"
	"github.com/propadvisor/orchestrator/internal/graphstore"
	"github.com/propadvisor/orchestrator/internal/llm"
	"github.com/propadvisor/orchestrator/internal/preferences"
	"github.com/propadvisor/orchestrator/internal/propertystore"
)

type fakeLLM struct {
	replies map[string]string
	err     error
	calls   []string
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.calls = append(f.calls, req.Call)
	if f.err != nil {
		return "", f.err
	}
	return f.replies[req.Call], nil
}

func (f *fakeLLM) CompleteStructured(ctx context.Context, req llm.Request, _ llm.Schema, out interface{}) error {
	content, err := f.Complete(ctx, req)
	if err != nil {
		return err
	}
	return llm.DecodeJSON(content, out)
}

type fakeGraph struct {
	batch    *graphstore.Batch
	err      error
	cypher   string
	previous string
	exclude  []string
}

func (f *fakeGraph) Limit() int { return 10 }

func (f *fakeGraph) Retrieve(_ context.Context, cypher string) (*graphstore.Batch, error) {
	f.cypher = cypher
	return f.batch, f.err
}

func (f *fakeGraph) RetrieveExcluding(_ context.Context, previous string, exclude []string) (*graphstore.Batch, error) {
	f.previous, f.exclude = previous, exclude
	return f.batch, f.err
}

type fakeVector struct {
	batch   *propertystore.Batch
	err     error
	query   conversation.EnhancedQuery
	exclude []string
}

func (f *fakeVector) Search(_ context.Context, q conversation.EnhancedQuery, _ string) (*propertystore.Batch, error) {
	f.query = q
	return f.batch, f.err
}

func (f *fakeVector) SearchExcluding(_ context.Context, q conversation.EnhancedQuery, _ string, exclude []string) (*propertystore.Batch, error) {
	f.query, f.exclude = q, exclude
	return f.batch, f.err
}

type fakePrefs struct {
	prefs *preferences.Preferences
	err   error
}

func (f fakePrefs) Lookup(context.Context, string) (*preferences.Preferences, error) {
	return f.prefs, f.err
}

func newConversationStore(t *testing.T) *conversation.Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zaptest.NewLogger(t)
	return conversation.NewStore(circuitbreaker.NewRedisWrapper(client, "conversation-store", logger), 0, logger)
}

func typeOf(t *testing.T, err error) (string, bool) {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected an application error, got %v", err)
	return appErr.Type(), appErr.NonRetryable()
}

func TestLoadAndCommitConversation(t *testing.T) {
	acts := NewActivities(Deps{Conversations: newConversationStore(t), Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	loaded, err := acts.LoadConversation(ctx, LoadConversationInput{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.State.Version)

	loaded.State.AppendUtterance("2 bhk in pune")
	committed, err := acts.CommitConversation(ctx, CommitConversationInput{State: loaded.State})
	require.NoError(t, err)
	assert.Equal(t, int64(1), committed.State.Version)

	// A second commit from the same stale snapshot loses the race
	_, err = acts.CommitConversation(ctx, CommitConversationInput{State: loaded.State})
	typ, nonRetryable := typeOf(t, err)
	assert.Equal(t, ErrTypeVersionConflict, typ)
	assert.True(t, nonRetryable)

	_, err = acts.LoadConversation(ctx, LoadConversationInput{ConversationID: "c1", UserID: "intruder"})
	typ, _ = typeOf(t, err)
	assert.Equal(t, ErrTypeNotOwner, typ)
}

func TestClassifyFailuresAreTyped(t *testing.T) {
	acts := NewActivities(Deps{LLM: &fakeLLM{replies: map[string]string{agents.CallClassifyInput: `{"validity":"sometimes"}`}}})

	_, err := acts.ClassifyInput(context.Background(), ClassifyInputInput{Latest: "hello"})
	typ, nonRetryable := typeOf(t, err)
	assert.Equal(t, string(agents.ClassificationFailure), typ)
	assert.True(t, nonRetryable, "malformed output is not retried")

	kind, ok := ErrorKind(err)
	assert.True(t, ok)
	assert.Equal(t, agents.ClassificationFailure, kind)

	acts = NewActivities(Deps{LLM: &fakeLLM{err: errors.New("connection reset")}})
	_, err = acts.ClassifyIntent(context.Background(), ClassifyIntentInput{Latest: "more"})
	typ, nonRetryable = typeOf(t, err)
	assert.Equal(t, string(agents.ClassificationFailure), typ)
	assert.False(t, nonRetryable, "transport errors are retried")
}

func TestEnhanceQueryUsesPreferencesAndHints(t *testing.T) {
	f := &fakeLLM{replies: map[string]string{agents.CallEnhance: `{"enhanced_user_query":"2 BHK in New Delhi","city":null,"has_balcony":null,"min_beds":null,"max_price":null,"min_baths":null,"min_area":null,"property_type":null,"room_type":null}`}}
	acts := NewActivities(Deps{
		LLM:         f,
		Preferences: fakePrefs{err: errors.New("redis down")},
	})

	res, err := acts.EnhanceQuery(context.Background(), RewriteInput{Latest: "show me 2 bhk in south delhi under 1 cr", UserID: "u1"})
	require.NoError(t, err, "preference lookup failures do not fail the step")
	require.NotNil(t, res.Enhanced.City)
	assert.Equal(t, "New Delhi", *res.Enhanced.City)
	assert.Equal(t, float64(10_000_000), *res.Enhanced.MaxPrice)
	assert.Equal(t, 2, *res.Enhanced.MinBeds)
}

func TestRetrieveGraphDegradesOnFailure(t *testing.T) {
	g := &fakeGraph{err: errors.New("neo4j unavailable")}
	acts := NewActivities(Deps{
		LLM:   &fakeLLM{replies: map[string]string{agents.CallCypher: "MATCH (p:Property) RETURN p"}},
		Graph: g,
	})

	res, err := acts.RetrieveGraph(context.Background(), RetrieveGraphInput{Query: "villas in pune"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Properties)
	assert.NotNil(t, res.IDs)
	assert.Contains(t, res.Error, "BackendRetrievalFailure")
	assert.Equal(t, "MATCH (p:Property) RETURN p", g.cypher)
}

func TestRetrieveGraph(t *testing.T) {
	g := &fakeGraph{batch: &graphstore.Batch{
		Properties: []conversation.Property{{"id": "g1", "name": "Hill Villa"}},
		Query:      "MATCH (p:Property) RETURN p\nLIMIT 10",
		IDs:        []string{"g1"},
	}}
	acts := NewActivities(Deps{LLM: &fakeLLM{replies: map[string]string{agents.CallCypher: "MATCH (p:Property) RETURN p"}}, Graph: g})

	res, err := acts.RetrieveGraph(context.Background(), RetrieveGraphInput{Query: "villas"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, []string{"g1"}, res.IDs)
	assert.Equal(t, "MATCH (p:Property) RETURN p\nLIMIT 10", res.Query)
}

func TestRetrieveMorePassesExclusion(t *testing.T) {
	g := &fakeGraph{batch: &graphstore.Batch{Properties: []conversation.Property{{"id": "g9"}}, IDs: []string{"g9"}}}
	v := &fakeVector{batch: &propertystore.Batch{Properties: []conversation.Property{{"id": "v9"}}, IDs: []string{"v9"}}}
	acts := NewActivities(Deps{Graph: g, Vector: v})
	shown := []string{"v1", "g1", "g2"}

	gr, err := acts.RetrieveGraphMore(context.Background(), RetrieveGraphMoreInput{PreviousCypher: "MATCH (p) RETURN p", Exclude: shown})
	require.NoError(t, err)
	vr, err := acts.RetrieveVectorMore(context.Background(), RetrieveVectorInput{Enhanced: conversation.EnhancedQuery{EnhancedUserQuery: "flats"}, Exclude: shown})
	require.NoError(t, err)

	assert.Equal(t, shown, g.exclude)
	assert.Equal(t, "MATCH (p) RETURN p", g.previous)
	assert.Equal(t, shown, v.exclude)
	assert.Equal(t, []string{"g9"}, gr.IDs)
	assert.Equal(t, []string{"v9"}, vr.IDs)
}

func TestRetrieveVectorDimensionMismatchIsFatal(t *testing.T) {
	v := &fakeVector{err: &embeddings.DimensionError{Want: 1536, Got: 768}}
	acts := NewActivities(Deps{Vector: v})

	_, err := acts.RetrieveVector(context.Background(), RetrieveVectorInput{Fallback: "flats"})
	typ, nonRetryable := typeOf(t, err)
	assert.Equal(t, string(agents.EmbeddingDimensionMismatch), typ)
	assert.True(t, nonRetryable)

	v.err = errors.New("connection refused")
	res, err := acts.RetrieveVector(context.Background(), RetrieveVectorInput{Fallback: "flats"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestSynthesizeRecommendationSanitizes(t *testing.T) {
	f := &fakeLLM{replies: map[string]string{agents.CallSummary: "1. Hill Villa in Pune"}}
	acts := NewActivities(Deps{LLM: f})

	res, err := acts.SynthesizeRecommendation(context.Background(), SynthesizeInput{
		QueryUsed:  "villas in pune",
		Properties: []conversation.Property{{"id": "g1", "score": 0.1, "name": "Hill Villa"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1. Hill Villa in Pune", res.Answer)

	f.err = errors.New("provider 500")
	_, err = acts.SynthesizeRecommendation(context.Background(), SynthesizeInput{})
	typ, _ := typeOf(t, err)
	assert.Equal(t, string(agents.SynthesisFailure), typ)
}

func TestReplyInvalidInActivityEnvironment(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()
	acts := NewActivities(Deps{})
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.ReplyInvalid, ReplyInvalidInput{Latest: "flat for rent"})
	require.NoError(t, err)
	var res ReplyResult
	require.NoError(t, val.Get(&res))
	assert.Contains(t, res.Answer, "for rent")
}
