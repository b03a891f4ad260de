package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/agents"
)

// ClassifyInput decides whether the latest utterance is in scope
func (a *Activities) ClassifyInput(ctx context.Context, in ClassifyInputInput) (ClassifyInputResult, error) {
	defer observe(StepInputCheck)()

	v, err := agents.ClassifyInput(ctx, a.llm, in.Latest, in.Prior)
	if err != nil {
		a.logger.Warn("Input classification failed", zap.Error(err))
		return ClassifyInputResult{}, stepError(StepInputCheck, agents.ClassificationFailure, err)
	}
	a.logger.Debug("Input classified", zap.String("validity", string(v)))
	return ClassifyInputResult{Validity: v}, nil
}

// ClassifyIntent routes a valid utterance to its terminal
func (a *Activities) ClassifyIntent(ctx context.Context, in ClassifyIntentInput) (ClassifyIntentResult, error) {
	defer observe(StepIntentCheck)()

	i, err := agents.ClassifyIntent(ctx, a.llm, in.Latest, in.Transcript)
	if err != nil {
		a.logger.Warn("Intent classification failed", zap.Error(err))
		return ClassifyIntentResult{}, stepError(StepIntentCheck, agents.ClassificationFailure, err)
	}
	a.logger.Debug("Intent classified", zap.String("intent", string(i)))
	return ClassifyIntentResult{Intent: i}, nil
}
