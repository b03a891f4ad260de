package activities

import (
	"github.com/propadvisor/orchestrator/internal/conversation"
)

// LoadConversationInput is the input for loading conversation state
type LoadConversationInput struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// CommitConversationInput carries the state produced by a finished turn
type CommitConversationInput struct {
	State *conversation.State `json:"state"`
}

// ConversationResult wraps a state snapshot
type ConversationResult struct {
	State *conversation.State `json:"state"`
}

// ClassifyInputInput is the input for the validity check
type ClassifyInputInput struct {
	Latest string   `json:"latest"`
	Prior  []string `json:"prior"`
}

// ClassifyInputResult is the validity verdict
type ClassifyInputResult struct {
	Validity conversation.Validity `json:"validity"`
}

// ClassifyIntentInput is the input for the intent router
type ClassifyIntentInput struct {
	Latest     string                    `json:"latest"`
	Transcript []conversation.TurnRecord `json:"transcript"`
}

// ClassifyIntentResult is the intent verdict
type ClassifyIntentResult struct {
	Intent conversation.Intent `json:"intent"`
}

// RewriteInput is the input for both query rewriters
type RewriteInput struct {
	Latest string   `json:"latest"`
	Prior  []string `json:"prior"`
	UserID string   `json:"user_id,omitempty"`
}

// RewriteGraphQueryResult is the free-text rewrite for Cypher generation
type RewriteGraphQueryResult struct {
	Query string `json:"query"`
}

// EnhanceQueryResult is the structured rewrite for the relational search
type EnhanceQueryResult struct {
	Enhanced conversation.EnhancedQuery `json:"enhanced"`
}

// RetrieveGraphInput is the input for a fresh graph retrieval
type RetrieveGraphInput struct {
	Query string `json:"query"`
}

// RetrieveGraphMoreInput re-runs the previous Cypher excluding shown ids
type RetrieveGraphMoreInput struct {
	PreviousCypher string   `json:"previous_cypher"`
	Exclude        []string `json:"exclude"`
}

// RetrieveVectorInput is the input for a relational retrieval. Fallback is
// embedded when the rewrite text is empty; Exclude is only used in "more" mode.
type RetrieveVectorInput struct {
	Enhanced conversation.EnhancedQuery `json:"enhanced"`
	Fallback string                     `json:"fallback"`
	Exclude  []string                   `json:"exclude,omitempty"`
}

// RetrievalResult is one backend batch. Degraded is set when the backend
// failed and the batch was replaced by an empty one.
type RetrievalResult struct {
	Properties []conversation.Property `json:"properties"`
	Query      string                  `json:"query"`
	IDs        []string                `json:"ids"`
	Degraded   bool                    `json:"degraded"`
	Error      string                  `json:"error,omitempty"`
}

// SynthesizeInput is the input for the recommendation summary.
// Properties must already be sanitized.
type SynthesizeInput struct {
	QueryUsed  string                  `json:"query_used"`
	Utterances []string                `json:"utterances"`
	Properties []conversation.Property `json:"properties"`
}

// DiscussionInput is the input for a follow-up answer
type DiscussionInput struct {
	Latest     string                    `json:"latest"`
	Transcript []conversation.TurnRecord `json:"transcript"`
}

// ReplyInvalidInput is the input for the out-of-scope reply
type ReplyInvalidInput struct {
	Latest string `json:"latest"`
}

// ReplyResult is user-facing text
type ReplyResult struct {
	Answer string `json:"answer"`
}

func emptyRetrieval() RetrievalResult {
	return RetrievalResult{Properties: []conversation.Property{}, IDs: []string{}}
}
