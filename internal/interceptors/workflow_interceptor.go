package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"

	"github.com/propadvisor/orchestrator/internal/tracing"
)

// Header names stamped on provider requests made from inside an activity
const (
	HeaderWorkflowID = "X-Workflow-ID"
	HeaderRunID      = "X-Run-ID"
	HeaderActivity   = "X-Activity-Type"
)

// WorkflowHTTPRoundTripper adds workflow metadata and the W3C traceparent
// to outgoing HTTP requests
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowHTTPRoundTripper wraps base; nil selects http.DefaultTransport
func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request
	req = req.Clone(req.Context())
	stampActivity(req)
	if req.Header.Get("traceparent") == "" {
		tracing.InjectTraceparent(req.Context(), req)
	}
	return w.base.RoundTrip(req)
}

// activity.GetInfo panics outside an activity context
func stampActivity(req *http.Request) {
	defer func() { _ = recover() }()

	info := activity.GetInfo(req.Context())
	if info.WorkflowExecution.ID == "" {
		return
	}
	req.Header.Set(HeaderWorkflowID, info.WorkflowExecution.ID)
	req.Header.Set(HeaderRunID, info.WorkflowExecution.RunID)
	req.Header.Set(HeaderActivity, info.ActivityType.Name)
}
