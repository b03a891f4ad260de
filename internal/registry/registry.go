package registry

import (
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/activities"
	"github.com/propadvisor/orchestrator/internal/constants"
	"github.com/propadvisor/orchestrator/internal/workflows"
)

var _ Registry = (*TurnRegistry)(nil)

// TurnRegistry registers the turn workflow and its activities under the
// names the workflow and the gateway use
type TurnRegistry struct {
	acts   *activities.Activities
	logger *zap.Logger
}

// NewTurnRegistry creates a registry for acts
func NewTurnRegistry(acts *activities.Activities, logger *zap.Logger) *TurnRegistry {
	return &TurnRegistry{acts: acts, logger: logger}
}

// RegisterWorkflows registers TurnWorkflow
func (r *TurnRegistry) RegisterWorkflows(w WorkflowTarget) error {
	w.RegisterWorkflowWithOptions(workflows.TurnWorkflow, workflow.RegisterOptions{
		Name: constants.TurnWorkflowName,
	})
	r.logger.Info("Registered workflow", zap.String("workflow", constants.TurnWorkflowName))
	return nil
}

// RegisterActivities registers every turn activity by its constant name
func (r *TurnRegistry) RegisterActivities(w ActivityTarget) error {
	if r.acts == nil {
		return fmt.Errorf("activities not configured")
	}
	for name, fn := range r.activityTable() {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
	r.logger.Info("Registered activities", zap.Int("count", len(r.activityTable())))
	return nil
}

func (r *TurnRegistry) activityTable() map[string]interface{} {
	a := r.acts
	return map[string]interface{}{
		constants.LoadConversationActivity:         a.LoadConversation,
		constants.CommitConversationActivity:       a.CommitConversation,
		constants.ClassifyInputActivity:            a.ClassifyInput,
		constants.ClassifyIntentActivity:           a.ClassifyIntent,
		constants.RewriteGraphQueryActivity:        a.RewriteGraphQuery,
		constants.EnhanceQueryActivity:             a.EnhanceQuery,
		constants.RetrieveGraphActivity:            a.RetrieveGraph,
		constants.RetrieveVectorActivity:           a.RetrieveVector,
		constants.RetrieveGraphMoreActivity:        a.RetrieveGraphMore,
		constants.RetrieveVectorMoreActivity:       a.RetrieveVectorMore,
		constants.SynthesizeRecommendationActivity: a.SynthesizeRecommendation,
		constants.AnswerDiscussionActivity:         a.AnswerDiscussion,
		constants.ReplyInvalidActivity:             a.ReplyInvalid,
	}
}
