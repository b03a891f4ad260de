package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/metrics"
)

// Step labels shared by metrics, logs and TurnError.Step
const (
	StepLoad           = "load"
	StepInputCheck     = "input_check"
	StepIntentCheck    = "intent_check"
	StepGraphRewrite   = "graph_rewrite"
	StepEnhance        = "enhance"
	StepGraphRetrieve  = "graph_retrieve"
	StepVectorRetrieve = "vector_retrieve"
	StepSynthesize     = "synthesize"
	StepDiscussion     = "discussion"
	StepInvalid        = "invalid"
	StepCommit         = "commit"
)

func observe(step string) func() {
	start := time.Now()
	return func() {
		metrics.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}
}

// LoadConversation returns the stored state for a conversation, or a fresh
// one owned by the caller
func (a *Activities) LoadConversation(ctx context.Context, in LoadConversationInput) (ConversationResult, error) {
	defer observe(StepLoad)()

	if in.ConversationID == "" || in.UserID == "" {
		return ConversationResult{}, temporal.NewNonRetryableApplicationError(
			"conversation_id and user_id are required", ErrTypeStore, nil)
	}

	state, err := a.conversations.Load(ctx, in.ConversationID, in.UserID)
	if err != nil {
		a.logger.Error("Failed to load conversation",
			zap.String("conversation_id", in.ConversationID),
			zap.Error(err),
		)
		return ConversationResult{}, conversationError(StepLoad, err)
	}

	a.logger.Debug("Loaded conversation",
		zap.String("conversation_id", state.ID),
		zap.Int64("version", state.Version),
		zap.Int("utterances", len(state.Utterances)),
	)
	return ConversationResult{State: state}, nil
}

// CommitConversation persists the state of a finished turn. It is the only
// write a turn performs.
func (a *Activities) CommitConversation(ctx context.Context, in CommitConversationInput) (ConversationResult, error) {
	defer observe(StepCommit)()

	if in.State == nil {
		return ConversationResult{}, temporal.NewNonRetryableApplicationError("state is required", ErrTypeStore, errors.New("nil state"))
	}

	committed, err := a.conversations.Commit(ctx, in.State)
	if err != nil {
		a.logger.Warn("Failed to commit conversation",
			zap.String("conversation_id", in.State.ID),
			zap.Int64("version", in.State.Version),
			zap.Error(err),
		)
		return ConversationResult{}, conversationError(StepCommit, err)
	}

	a.logger.Info("Committed conversation",
		zap.String("conversation_id", committed.ID),
		zap.Int64("version", committed.Version),
		zap.Int("turns", len(committed.Transcript)),
	)
	return ConversationResult{State: committed}, nil
}
