package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/agents"
	"github.com/propadvisor/orchestrator/internal/unify"
)

// SynthesizeRecommendation writes the reply for a unified result set
func (a *Activities) SynthesizeRecommendation(ctx context.Context, in SynthesizeInput) (ReplyResult, error) {
	defer observe(StepSynthesize)()

	// Inputs should already be sanitized; enforce it at the boundary anyway
	records := unify.Sanitize(in.Properties)
	text, err := agents.Summarize(ctx, a.llm, in.QueryUsed, in.Utterances, records)
	if err != nil {
		a.logger.Error("Recommendation synthesis failed", zap.Error(err))
		return ReplyResult{}, stepError(StepSynthesize, agents.SynthesisFailure, err)
	}
	return ReplyResult{Answer: text}, nil
}

// AnswerDiscussion answers a follow-up about properties already shown
func (a *Activities) AnswerDiscussion(ctx context.Context, in DiscussionInput) (ReplyResult, error) {
	defer observe(StepDiscussion)()

	text, err := agents.Discuss(ctx, a.llm, in.Latest, in.Transcript)
	if err != nil {
		a.logger.Error("Discussion answer failed", zap.Error(err))
		return ReplyResult{}, stepError(StepDiscussion, agents.SynthesisFailure, err)
	}
	return ReplyResult{Answer: text}, nil
}

// ReplyInvalid returns the fixed out-of-scope reply
func (a *Activities) ReplyInvalid(_ context.Context, in ReplyInvalidInput) (ReplyResult, error) {
	defer observe(StepInvalid)()
	return ReplyResult{Answer: agents.InvalidReply(in.Latest)}, nil
}
