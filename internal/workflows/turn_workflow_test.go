package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/propadvisor/orchestrator/internal/activities"
	"github.com/propadvisor/orchestrator/internal/agents"
	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
	"github.com/propadvisor/orchestrator/internal/constants"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/embeddings"
	"github.com/propadvisor/orchestrator/internal/graphstore"
	"github.com/propadvisor/orchestrator/internal/llm"
	"github.com/propadvisor/orchestrator/internal/propertystore"
)

type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[req.Call]; err != nil {
		return "", err
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

func (f *fakeLLM) set(call, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[call] = reply
}

type fakeGraph struct {
	mu       sync.Mutex
	fresh    []conversation.Property
	more     []conversation.Property
	err      error
	previous string
	exclude  []string
}

func (f *fakeGraph) Limit() int { return graphstore.DefaultLimit }

func (f *fakeGraph) Retrieve(_ context.Context, cypher string) (*graphstore.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &graphstore.Batch{Properties: f.fresh, Query: cypher, IDs: conversation.IDs(f.fresh)}, nil
}

func (f *fakeGraph) RetrieveExcluding(_ context.Context, previous string, exclude []string) (*graphstore.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previous, f.exclude = previous, exclude
	return &graphstore.Batch{Properties: f.more, Query: "CALL { ... }", IDs: conversation.IDs(f.more)}, nil
}

type fakeVector struct {
	mu      sync.Mutex
	fresh   []conversation.Property
	more    []conversation.Property
	err     error
	query   conversation.EnhancedQuery
	exclude []string
}

func (f *fakeVector) Search(_ context.Context, q conversation.EnhancedQuery, _ string) (*propertystore.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return &propertystore.Batch{Properties: f.fresh, Query: "SELECT ...", IDs: conversation.IDs(f.fresh)}, nil
}

func (f *fakeVector) SearchExcluding(_ context.Context, q conversation.EnhancedQuery, _ string, exclude []string) (*propertystore.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query, f.exclude = q, exclude
	return &propertystore.Batch{Properties: f.more, Query: "SELECT ... NOT", IDs: conversation.IDs(f.more)}, nil
}

const enhancedJSON = `{"enhanced_user_query":"2 BHK Flats in New Delhi priced under 1 crore","city":"New Delhi","has_balcony":null,"min_beds":2,"max_price":10000000,"min_baths":null,"min_area":null,"property_type":null,"room_type":"BHK"}`

type harness struct {
	t      *testing.T
	store  *conversation.Store
	llm    *fakeLLM
	graph  *fakeGraph
	vector *fakeVector
	acts   *activities.Activities
}

func newHarness(t *testing.T) *harness {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zaptest.NewLogger(t)
	h := &harness{
		t:     t,
		store: conversation.NewStore(circuitbreaker.NewRedisWrapper(client, "conversation-store", logger), 0, logger),
		llm: &fakeLLM{
			replies: map[string]string{
				agents.CallClassifyInput:  `{"validity":"valid"}`,
				agents.CallClassifyIntent: `{"intent":"recommendation"}`,
				agents.CallGraphRewrite:   "2 BHK Flats in New Delhi priced under 10000000",
				agents.CallCypher:         "MATCH (p:Property) RETURN p",
				agents.CallEnhance:        enhancedJSON,
				agents.CallSummary:        "Here are four homes.",
				agents.CallDiscussion:     "The first one is larger.",
			},
			errs: map[string]error{},
		},
		graph: &fakeGraph{fresh: []conversation.Property{
			{"id": "2", "name": "g2"}, {"id": "3", "name": "g3"}, {"id": "4", "name": "g4"},
		}},
		vector: &fakeVector{fresh: []conversation.Property{
			{"id": "1", "name": "v1", "score": 0.1}, {"id": "2", "name": "v2", "score": 0.2}, {"id": "3", "name": "v3", "score": 0.3},
		}},
	}
	h.acts = activities.NewActivities(activities.Deps{
		Conversations: h.store,
		LLM:           h.llm,
		Graph:         h.graph,
		Vector:        h.vector,
		Logger:        logger,
	})
	return h
}

// run executes one turn and returns its result and the activity names started
func (h *harness) run(utterance string) (TurnResult, []string, error) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(TurnWorkflow)
	env.RegisterActivity(h.acts)

	var mu sync.Mutex
	var started []string
	env.SetOnActivityStartedListener(func(info *activity.Info, _ context.Context, _ converter.EncodedValues) {
		mu.Lock()
		defer mu.Unlock()
		started = append(started, info.ActivityType.Name)
	})

	env.ExecuteWorkflow(TurnWorkflow, TurnInput{ConversationID: "c1", UserID: "u1", Utterance: utterance})
	require.True(h.t, env.IsWorkflowCompleted())

	var res TurnResult
	if err := env.GetWorkflowError(); err != nil {
		return res, started, err
	}
	require.NoError(h.t, env.GetWorkflowResult(&res))
	return res, started, nil
}

func names(props []conversation.Property) []string {
	out := make([]string, 0, len(props))
	for _, p := range props {
		out = append(out, p["name"].(string))
	}
	return out
}

func TestInvalidTurnSkipsRetrieval(t *testing.T) {
	h := newHarness(t)
	h.llm.set(agents.CallClassifyInput, `{"validity":"invalid"}`)

	res, started, err := h.run("who won the cricket match?")
	require.NoError(t, err)

	assert.Equal(t, conversation.AnsweredByInvalid, res.AnsweredBy)
	assert.Equal(t, agents.InvalidReply("who won the cricket match?"), res.Answer)
	assert.Equal(t, []string{
		constants.LoadConversationActivity,
		constants.ClassifyInputActivity,
		constants.ReplyInvalidActivity,
		constants.CommitConversationActivity,
	}, started)
	assert.Empty(t, h.vector.query.EnhancedUserQuery, "no retrieval ran")

	require.Len(t, res.State.Transcript, 1)
	assert.Equal(t, conversation.AnsweredByInvalid, res.State.Transcript[0].AnsweredBy)
	assert.Equal(t, conversation.Invalid, res.State.Validity)
	assert.Equal(t, int64(1), res.State.Version)
}

func TestRecommendationTurnUnifiesBothBackends(t *testing.T) {
	h := newHarness(t)

	res, started, err := h.run("show me 2 bhk in south delhi under 1 cr")
	require.NoError(t, err)

	assert.Equal(t, conversation.AnsweredByRecommendation, res.AnsweredBy)
	assert.Equal(t, "Here are four homes.", res.Answer)
	assert.Equal(t, []string{"v2", "v3", "v1", "g4"}, names(res.Properties), "overlap first, vector records win")
	for _, p := range res.Properties {
		assert.NotContains(t, p, "id")
		assert.NotContains(t, p, "score")
	}
	assert.Contains(t, started, constants.RetrieveGraphActivity)
	assert.Contains(t, started, constants.RetrieveVectorActivity)

	st := res.State
	assert.Equal(t, []string{"2", "3", "4"}, st.GraphShownIDs)
	assert.Equal(t, []string{"1", "2", "3"}, st.VectorShownIDs)
	assert.Equal(t, "MATCH (p:Property) RETURN p", st.GraphCypher)
	assert.Equal(t, "2 BHK Flats in New Delhi priced under 10000000", st.GraphQuery)
	require.NotNil(t, st.Enhanced)
	assert.Equal(t, "New Delhi", *st.Enhanced.City)
	assert.Equal(t, "Here are four homes.", st.Summary)
	require.Len(t, st.Transcript, 1)
	assert.Equal(t, "2 BHK Flats in New Delhi priced under 10000000", st.Transcript[0].QueryUsed)

	stored, err := h.store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

func TestMoreTurnExcludesEverythingShown(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("show me 2 bhk in south delhi under 1 cr")
	require.NoError(t, err)

	h.llm.set(agents.CallClassifyIntent, `{"intent":"more"}`)
	h.graph.more = []conversation.Property{{"id": "5", "name": "g5"}}
	h.vector.more = []conversation.Property{{"id": "6", "name": "v6"}}

	res, started, err := h.run("show me more")
	require.NoError(t, err)

	shown := []string{"1", "2", "3", "4"}
	assert.ElementsMatch(t, shown, h.graph.exclude)
	assert.ElementsMatch(t, shown, h.vector.exclude)
	assert.Equal(t, "MATCH (p:Property) RETURN p", h.graph.previous)
	assert.Equal(t, "2 BHK Flats in New Delhi priced under 1 crore", h.vector.query.EnhancedUserQuery)
	assert.Contains(t, started, constants.RetrieveGraphMoreActivity)
	assert.Contains(t, started, constants.RetrieveVectorMoreActivity)
	assert.NotContains(t, started, constants.RewriteGraphQueryActivity)

	// vector-only records precede graph-only ones
	assert.Equal(t, []string{"v6", "g5"}, names(res.Properties))
	assert.Equal(t, []string{"2", "3", "4", "5"}, res.State.GraphShownIDs)
	assert.Equal(t, []string{"1", "2", "3", "6"}, res.State.VectorShownIDs)
	assert.Len(t, res.State.GraphResults, 2)
	assert.Len(t, res.State.Transcript, 2)
	assert.Equal(t, int64(2), res.State.Version)
}

func TestMoreWithNothingShownRunsRecommendation(t *testing.T) {
	h := newHarness(t)
	h.llm.set(agents.CallClassifyIntent, `{"intent":"more"}`)

	_, started, err := h.run("show me more")
	require.NoError(t, err)
	assert.Contains(t, started, constants.RetrieveGraphActivity)
	assert.NotContains(t, started, constants.RetrieveGraphMoreActivity)
}

func TestDiscussionTurn(t *testing.T) {
	h := newHarness(t)
	h.llm.set(agents.CallClassifyIntent, `{"intent":"discussion"}`)

	res, started, err := h.run("which one is larger?")
	require.NoError(t, err)

	assert.Equal(t, conversation.AnsweredByDiscussion, res.AnsweredBy)
	assert.Equal(t, []string{"The first one is larger."}, res.State.Discussion)
	assert.Equal(t, QueryUsedDiscussion, res.State.Transcript[0].QueryUsed)
	assert.NotContains(t, started, constants.RetrieveVectorActivity)
}

func TestBackendFailureDegradesOneBranch(t *testing.T) {
	h := newHarness(t)
	h.graph.err = errors.New("neo4j unavailable")

	res, _, err := h.run("show me 2 bhk in south delhi under 1 cr")
	require.NoError(t, err)

	assert.Equal(t, []string{"graph"}, res.Degraded)
	assert.Equal(t, []string{"v1", "v2", "v3"}, names(res.Properties))
	assert.Empty(t, res.State.GraphShownIDs)
	assert.Len(t, res.State.GraphResults, 1, "an empty batch is still recorded")
}

func TestBothBackendsEmptySkipsSynthesis(t *testing.T) {
	h := newHarness(t)
	h.graph.fresh = nil
	h.vector.err = errors.New("timeout")

	res, started, err := h.run("villas on the moon")
	require.NoError(t, err)

	assert.Equal(t, agents.NoResultsReply, res.Answer)
	assert.Empty(t, res.Properties)
	assert.NotContains(t, started, constants.SynthesizeRecommendationActivity)
}

func TestFatalFailureCommitsNothing(t *testing.T) {
	h := newHarness(t)
	h.vector.err = &embeddings.DimensionError{Want: 1536, Got: 768}

	_, started, err := h.run("show me 2 bhk in south delhi under 1 cr")
	require.Error(t, err)

	kind, ok := activities.ErrorKind(err)
	assert.True(t, ok)
	assert.Equal(t, agents.EmbeddingDimensionMismatch, kind)
	assert.NotContains(t, started, constants.CommitConversationActivity)

	_, err = h.store.Get(context.Background(), "c1")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestSynthesisFailureRollsBackTurn(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("show me 2 bhk in south delhi under 1 cr")
	require.NoError(t, err)

	h.llm.mu.Lock()
	h.llm.replies[agents.CallSummary] = ""
	h.llm.mu.Unlock()

	_, _, err = h.run("now with a balcony")
	require.Error(t, err)
	kind, _ := activities.ErrorKind(err)
	assert.Equal(t, agents.SynthesisFailure, kind)

	stored, err := h.store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Len(t, stored.Utterances, 1)
	assert.Len(t, stored.Transcript, 1)
}
