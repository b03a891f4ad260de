package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/graphstore"
	"github.com/propadvisor/orchestrator/internal/llm"
	"github.com/propadvisor/orchestrator/internal/preferences"
	"github.com/propadvisor/orchestrator/internal/propertystore"
)

// ConversationStore loads and commits conversation state
type ConversationStore interface {
	Load(ctx context.Context, conversationID, userID string) (*conversation.State, error)
	Commit(ctx context.Context, state *conversation.State) (*conversation.State, error)
}

// GraphRetriever runs Cypher against the knowledge graph
type GraphRetriever interface {
	Limit() int
	Retrieve(ctx context.Context, cypher string) (*graphstore.Batch, error)
	RetrieveExcluding(ctx context.Context, previous string, exclude []string) (*graphstore.Batch, error)
}

// VectorRetriever runs similarity searches over the relational store
type VectorRetriever interface {
	Search(ctx context.Context, q conversation.EnhancedQuery, fallback string) (*propertystore.Batch, error)
	SearchExcluding(ctx context.Context, q conversation.EnhancedQuery, fallback string, exclude []string) (*propertystore.Batch, error)
}

// PreferenceLookup returns stored preferences, or nil when the user has none
type PreferenceLookup interface {
	Lookup(ctx context.Context, userID string) (*preferences.Preferences, error)
}

// Activities struct holds dependencies for activities
type Activities struct {
	conversations ConversationStore
	llm           llm.Client
	graph         GraphRetriever
	vector        VectorRetriever
	prefs         PreferenceLookup
	logger        *zap.Logger
}

// Deps are the injected handles an Activities instance needs
type Deps struct {
	Conversations ConversationStore
	LLM           llm.Client
	Graph         GraphRetriever
	Vector        VectorRetriever
	Preferences   PreferenceLookup
	Logger        *zap.Logger
}

// NewActivities creates a new activities instance with dependencies
func NewActivities(d Deps) *Activities {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		conversations: d.Conversations,
		llm:           d.LLM,
		graph:         d.Graph,
		vector:        d.Vector,
		prefs:         d.Preferences,
		logger:        logger,
	}
}
