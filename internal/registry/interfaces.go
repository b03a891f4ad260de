package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
)

// WorkflowTarget accepts named workflows; worker.Worker and the Temporal
// test environments satisfy it
type WorkflowTarget interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
}

// ActivityTarget accepts named activities
type ActivityTarget interface {
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// WorkflowRegistrar defines the interface for registering workflows
type WorkflowRegistrar interface {
	RegisterWorkflows(t WorkflowTarget) error
}

// ActivityRegistrar defines the interface for registering activities
type ActivityRegistrar interface {
	RegisterActivities(t ActivityTarget) error
}

// Registry combines both workflow and activity registration
type Registry interface {
	WorkflowRegistrar
	ActivityRegistrar
}
