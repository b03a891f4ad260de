package opts

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// StoreActivityOptions are used for conversation load and commit
func StoreActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    200 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
}

// LLMActivityOptions are used for classification, rewriting and synthesis
func LLMActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 45 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// RetrievalActivityOptions bound one backend call. A timeout degrades the
// backend, so retries stay short.
func RetrievalActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 500 * time.Millisecond,
			MaximumAttempts: 2,
		},
	}
}

// WithStoreOptions applies StoreActivityOptions to a context
func WithStoreOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, StoreActivityOptions())
}

// WithLLMOptions applies LLMActivityOptions to a context
func WithLLMOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, LLMActivityOptions())
}

// WithRetrievalOptions applies RetrievalActivityOptions to a context
func WithRetrievalOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, RetrievalActivityOptions())
}
