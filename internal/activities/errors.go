package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/propadvisor/orchestrator/internal/agents"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/embeddings"
	"github.com/propadvisor/orchestrator/internal/graphstore"
	"github.com/propadvisor/orchestrator/internal/llm"
	"github.com/propadvisor/orchestrator/internal/metrics"
)

// Application error types outside the turn taxonomy
const (
	ErrTypeVersionConflict = "ConversationVersionConflict"
	ErrTypeNotOwner        = "ConversationNotOwned"
	ErrTypeStore           = "ConversationStoreFailure"
)

// stepError converts err into a Temporal application error typed by kind.
// Transport failures stay retryable; deterministic failures do not.
func stepError(step string, kind agents.Kind, err error) error {
	metrics.StepFailures.WithLabelValues(step, string(kind)).Inc()
	te := agents.NewTurnError(kind, step, err)
	if retryable(err) {
		return temporal.NewApplicationErrorWithCause(te.Error(), string(kind), te)
	}
	return temporal.NewNonRetryableApplicationError(te.Error(), string(kind), te)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, llm.ErrMalformedOutput),
		errors.Is(err, llm.ErrEmptyResponse),
		errors.Is(err, embeddings.ErrDimensionMismatch),
		errors.Is(err, graphstore.ErrUnsafeQuery):
		return false
	default:
		return true
	}
}

func conversationError(step string, err error) error {
	switch {
	case errors.Is(err, conversation.ErrVersionConflict):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeVersionConflict, err)
	case errors.Is(err, conversation.ErrNotOwner):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotOwner, err)
	default:
		metrics.StepFailures.WithLabelValues(step, ErrTypeStore).Inc()
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeStore, err)
	}
}

// ErrorType returns the application error type anywhere in err's chain.
// Workflows use it to recover the failure kind from an activity error.
func ErrorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	if kind, ok := agents.KindOf(err); ok {
		return string(kind)
	}
	return ""
}

// ErrorKind returns the turn failure kind carried by err, if any
func ErrorKind(err error) (agents.Kind, bool) {
	return agents.ParseKind(ErrorType(err))
}
