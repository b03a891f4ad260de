package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/agents"
	"github.com/propadvisor/orchestrator/internal/normalize"
	"github.com/propadvisor/orchestrator/internal/preferences"
)

// RewriteGraphQuery produces the free-text rewrite used for Cypher
// generation. Failures are backend failures: the graph branch degrades.
func (a *Activities) RewriteGraphQuery(ctx context.Context, in RewriteInput) (RewriteGraphQueryResult, error) {
	defer observe(StepGraphRewrite)()

	hints := normalize.Extract(in.Latest)
	text, err := agents.RewriteForGraph(ctx, a.llm, in.Latest, in.Prior, hints)
	if err != nil {
		a.logger.Warn("Graph rewrite failed", zap.Error(err))
		return RewriteGraphQueryResult{}, stepError(StepGraphRewrite, agents.BackendRetrievalFailure, err)
	}
	return RewriteGraphQueryResult{Query: text}, nil
}

// EnhanceQuery produces the structured rewrite for the relational search,
// reconciled with hints from the latest utterance and the user's saved
// preferences. Failures degrade the relational branch.
func (a *Activities) EnhanceQuery(ctx context.Context, in RewriteInput) (EnhanceQueryResult, error) {
	defer observe(StepEnhance)()

	var prefs *preferences.Preferences
	if a.prefs != nil && in.UserID != "" {
		p, err := a.prefs.Lookup(ctx, in.UserID)
		if err != nil {
			// Preferences only enrich the prompt
			a.logger.Warn("Failed to load user preferences", zap.String("user_id", in.UserID), zap.Error(err))
		}
		prefs = p
	}

	hints := normalize.Extract(in.Latest)
	q, err := agents.Enhance(ctx, a.llm, in.Latest, in.Prior, hints, prefs)
	if err != nil {
		a.logger.Warn("Query enhancement failed", zap.Error(err))
		return EnhanceQueryResult{}, stepError(StepEnhance, agents.BackendRetrievalFailure, err)
	}
	return EnhanceQueryResult{Enhanced: *q}, nil
}
