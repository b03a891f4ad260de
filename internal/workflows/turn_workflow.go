package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/propadvisor/orchestrator/internal/activities"
	"github.com/propadvisor/orchestrator/internal/agents"
	"github.com/propadvisor/orchestrator/internal/constants"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/unify"
	"github.com/propadvisor/orchestrator/internal/workflows/opts"
)

// QueryUsedDiscussion is recorded for discussion turns, which reuse the question
const QueryUsedDiscussion = "Similar to question"

// TurnWorkflow runs one conversation turn:
//
//	load -> input_check -> invalid
//	                    -> intent_check -> recommendation (graph || vector) -> unify -> synthesize
//	                                    -> discussion
//	                                    -> more (graph || vector, excluding shown ids) -> unify -> synthesize
//	-> commit
//
// State is mutated only in workflow memory and committed once at the
// terminal. Any fatal error returns before the commit, so the stored
// conversation is left as it was.
func TurnWorkflow(ctx workflow.Context, in TurnInput) (TurnResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting TurnWorkflow",
		"conversation_id", in.ConversationID,
		"user_id", in.UserID,
	)

	storeCtx := opts.WithStoreOptions(ctx)
	llmCtx := opts.WithLLMOptions(ctx)

	var loaded activities.ConversationResult
	if err := workflow.ExecuteActivity(storeCtx, constants.LoadConversationActivity, activities.LoadConversationInput{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
	}).Get(ctx, &loaded); err != nil {
		logger.Error("Failed to load conversation", "error", err)
		return TurnResult{}, err
	}
	state := loaded.State
	prior := append([]string(nil), state.Utterances...)
	state.AppendUtterance(in.Utterance)

	t := &turn{ctx: ctx, llmCtx: llmCtx, in: in, state: state, prior: prior}

	var check activities.ClassifyInputResult
	if err := workflow.ExecuteActivity(llmCtx, constants.ClassifyInputActivity, activities.ClassifyInputInput{
		Latest: in.Utterance,
		Prior:  prior,
	}).Get(ctx, &check); err != nil {
		logger.Error("Input classification failed", "error", err)
		return TurnResult{}, err
	}
	state.Validity = check.Validity

	var err error
	switch check.Validity {
	case conversation.Invalid:
		err = t.invalid()
	case conversation.Valid:
		err = t.route()
	default:
		err = fmt.Errorf("unhandled validity %q", check.Validity)
	}
	if err != nil {
		logger.Error("Turn failed, nothing committed", "error", err, "kind", activities.ErrorType(err))
		return TurnResult{}, err
	}

	var committed activities.ConversationResult
	if err := workflow.ExecuteActivity(storeCtx, constants.CommitConversationActivity, activities.CommitConversationInput{
		State: state,
	}).Get(ctx, &committed); err != nil {
		logger.Error("Failed to commit conversation", "error", err)
		return TurnResult{}, err
	}

	t.result.ConversationID = committed.State.ID
	t.result.State = committed.State
	if t.result.Properties == nil {
		t.result.Properties = []conversation.Property{}
	}
	logger.Info("TurnWorkflow completed",
		"answered_by", t.result.AnsweredBy,
		"properties", len(t.result.Properties),
		"version", committed.State.Version,
	)
	return t.result, nil
}

// turn carries the in-memory state of one TurnWorkflow run
type turn struct {
	ctx    workflow.Context
	llmCtx workflow.Context
	in     TurnInput
	state  *conversation.State
	prior  []string
	result TurnResult
}

func (t *turn) invalid() error {
	var reply activities.ReplyResult
	if err := workflow.ExecuteActivity(t.llmCtx, constants.ReplyInvalidActivity, activities.ReplyInvalidInput{
		Latest: t.in.Utterance,
	}).Get(t.ctx, &reply); err != nil {
		return err
	}
	t.finish(conversation.AnsweredByInvalid, reply.Answer, t.in.Utterance, nil)
	return nil
}

func (t *turn) route() error {
	var routed activities.ClassifyIntentResult
	if err := workflow.ExecuteActivity(t.llmCtx, constants.ClassifyIntentActivity, activities.ClassifyIntentInput{
		Latest:     t.in.Utterance,
		Transcript: t.state.Transcript,
	}).Get(t.ctx, &routed); err != nil {
		return err
	}
	t.state.Intent = routed.Intent
	t.result.Intent = routed.Intent

	switch routed.Intent {
	case conversation.IntentRecommendation:
		return t.recommend()
	case conversation.IntentDiscussion:
		return t.discuss()
	case conversation.IntentMore:
		if !t.state.HasRecommendations() {
			workflow.GetLogger(t.ctx).Info("Nothing shown yet, treating more as a new recommendation")
			return t.recommend()
		}
		return t.more()
	default:
		return fmt.Errorf("unhandled intent %q", routed.Intent)
	}
}

func (t *turn) discuss() error {
	var reply activities.ReplyResult
	if err := workflow.ExecuteActivity(t.llmCtx, constants.AnswerDiscussionActivity, activities.DiscussionInput{
		Latest:     t.in.Utterance,
		Transcript: t.state.Transcript,
	}).Get(t.ctx, &reply); err != nil {
		return err
	}
	t.state.Discussion = append(t.state.Discussion, reply.Answer)
	t.finish(conversation.AnsweredByDiscussion, reply.Answer, QueryUsedDiscussion, nil)
	return nil
}

func (t *turn) recommend() error {
	graph, vector, err := fanOut(t.ctx,
		func(ctx workflow.Context) branchResult { return graphBranch(ctx, t.in, t.prior) },
		func(ctx workflow.Context) branchResult { return vectorBranch(ctx, t.in, t.prior) },
	)
	if err != nil {
		return err
	}

	if graph.rewrite != "" {
		t.state.GraphQuery = graph.rewrite
	}
	if graph.retrieval.Query != "" {
		t.state.GraphCypher = graph.retrieval.Query
	}
	if vector.enhanced != nil {
		t.state.Enhanced = vector.enhanced
	}
	if vector.retrieval.Query != "" {
		t.state.VectorSQL = vector.retrieval.Query
	}

	queryUsed := t.in.Utterance
	switch {
	case graph.rewrite != "":
		queryUsed = graph.rewrite
	case vector.enhanced != nil && vector.enhanced.EnhancedUserQuery != "":
		queryUsed = vector.enhanced.EnhancedUserQuery
	}
	return t.unifyAndSynthesize(graph, vector, queryUsed, agents.NoResultsReply)
}

func (t *turn) more() error {
	exclude := t.state.ShownIDs()
	graph, vector, err := fanOut(t.ctx,
		func(ctx workflow.Context) branchResult { return graphMoreBranch(ctx, t.state.GraphCypher, exclude) },
		func(ctx workflow.Context) branchResult {
			return vectorMoreBranch(ctx, t.state.Enhanced, t.in.Utterance, exclude)
		},
	)
	if err != nil {
		return err
	}

	queryUsed := t.state.GraphQuery
	if queryUsed == "" && t.state.Enhanced != nil {
		queryUsed = t.state.Enhanced.EnhancedUserQuery
	}
	if queryUsed == "" {
		queryUsed = t.in.Utterance
	}
	return t.unifyAndSynthesize(graph, vector, queryUsed, agents.NoMoreResultsReply)
}

func (t *turn) unifyAndSynthesize(graph, vector branchResult, queryUsed, emptyReply string) error {
	t.state.AppendGraphBatch(graph.retrieval.Properties)
	t.state.AppendVectorBatch(vector.retrieval.Properties)
	for _, b := range []branchResult{graph, vector} {
		if b.retrieval.Degraded {
			t.result.Degraded = append(t.result.Degraded, b.backend)
		}
	}

	merged := unify.Merge(vector.retrieval.Properties, graph.retrieval.Properties)
	if merged.Empty() {
		t.state.Summary = emptyReply
		t.finish(conversation.AnsweredByRecommendation, emptyReply, queryUsed, []conversation.Property{})
		return nil
	}

	sanitized := unify.Sanitize(merged.Properties)
	var reply activities.ReplyResult
	if err := workflow.ExecuteActivity(t.llmCtx, constants.SynthesizeRecommendationActivity, activities.SynthesizeInput{
		QueryUsed:  queryUsed,
		Utterances: t.state.Utterances,
		Properties: sanitized,
	}).Get(t.ctx, &reply); err != nil {
		return err
	}

	workflow.GetLogger(t.ctx).Info("Unified retrieval",
		"overlap", merged.Overlap,
		"vector_only", merged.OnlyA,
		"graph_only", merged.OnlyB,
	)
	t.state.Summary = reply.Answer
	t.finish(conversation.AnsweredByRecommendation, reply.Answer, queryUsed, sanitized)
	return nil
}

func (t *turn) finish(by conversation.AnsweredBy, answer, queryUsed string, props []conversation.Property) {
	if props == nil {
		props = []conversation.Property{}
	}
	t.state.AppendTurn(conversation.TurnRecord{
		Question:              t.in.Utterance,
		AnsweredBy:            by,
		Answer:                answer,
		QueryUsed:             queryUsed,
		RecommendedProperties: props,
		Timestamp:             workflow.Now(t.ctx).UTC(),
	})
	t.result.AnsweredBy = by
	t.result.Answer = answer
	t.result.Properties = props
}
