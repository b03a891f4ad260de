package workflows

import (
	"github.com/propadvisor/orchestrator/internal/conversation"
)

// TurnInput is one user message for one conversation
type TurnInput struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Utterance      string `json:"utterance"`
}

// TurnResult is what a finished turn returns to the caller
type TurnResult struct {
	ConversationID string                  `json:"conversation_id"`
	Answer         string                  `json:"answer"`
	AnsweredBy     conversation.AnsweredBy `json:"answered_by"`
	Intent         conversation.Intent     `json:"intent,omitempty"`
	Properties     []conversation.Property `json:"recommended_properties"`
	Degraded       []string                `json:"degraded_backends,omitempty"`
	State          *conversation.State     `json:"state"`
}
