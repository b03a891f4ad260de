package constants

// Activity names used for workflow registration and execution.
const (
	// Conversation state
	LoadConversationActivity   = "LoadConversation"
	CommitConversationActivity = "CommitConversation"

	// Classifier steps
	ClassifyInputActivity  = "ClassifyInput"
	ClassifyIntentActivity = "ClassifyIntent"

	// Query rewriting
	RewriteGraphQueryActivity = "RewriteGraphQuery"
	EnhanceQueryActivity      = "EnhanceQuery"

	// Retrieval
	RetrieveGraphActivity      = "RetrieveGraph"
	RetrieveVectorActivity     = "RetrieveVector"
	RetrieveGraphMoreActivity  = "RetrieveGraphMore"
	RetrieveVectorMoreActivity = "RetrieveVectorMore"

	// Synthesis
	SynthesizeRecommendationActivity = "SynthesizeRecommendation"
	AnswerDiscussionActivity         = "AnswerDiscussion"
	ReplyInvalidActivity             = "ReplyInvalid"
)

// Workflow and queue identifiers shared by the worker and the gateway.
const (
	TurnWorkflowName  = "TurnWorkflow"
	TaskQueue         = "advisor-turns"
	TurnWorkflowIDFmt = "turn-%s"
)
