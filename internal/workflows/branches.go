package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/propadvisor/orchestrator/internal/activities"
	"github.com/propadvisor/orchestrator/internal/constants"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/workflows/opts"
)

// branchResult is the private output of one retrieval branch. err is set
// only for fatal failures; recoverable ones leave a degraded empty batch.
type branchResult struct {
	backend   string
	rewrite   string
	enhanced  *conversation.EnhancedQuery
	retrieval activities.RetrievalResult
	err       error
}

type branchFunc func(ctx workflow.Context) branchResult

// fanOut runs both branches concurrently and waits for both
func fanOut(ctx workflow.Context, graphFn, vectorFn branchFunc) (graph, vector branchResult, err error) {
	done := workflow.NewChannel(ctx)
	for _, fn := range []branchFunc{graphFn, vectorFn} {
		fn := fn
		workflow.Go(ctx, func(gctx workflow.Context) {
			done.Send(gctx, fn(gctx))
		})
	}

	for received := 0; received < 2; {
		workflow.NewSelector(ctx).
			AddReceive(done, func(c workflow.ReceiveChannel, _ bool) {
				var r branchResult
				c.Receive(ctx, &r)
				if r.backend == activities.BackendGraph {
					graph = r
				} else {
					vector = r
				}
				received++
			}).
			Select(ctx)
	}

	for _, r := range []branchResult{graph, vector} {
		if r.err != nil {
			return graph, vector, r.err
		}
	}
	return graph, vector, nil
}

func graphBranch(ctx workflow.Context, in TurnInput, prior []string) branchResult {
	r := branchResult{backend: activities.BackendGraph}

	var rw activities.RewriteGraphQueryResult
	if err := workflow.ExecuteActivity(opts.WithLLMOptions(ctx), constants.RewriteGraphQueryActivity, activities.RewriteInput{
		Latest: in.Utterance,
		Prior:  prior,
	}).Get(ctx, &rw); err != nil {
		return degrade(ctx, r, err)
	}
	r.rewrite = rw.Query

	if err := workflow.ExecuteActivity(opts.WithRetrievalOptions(ctx), constants.RetrieveGraphActivity, activities.RetrieveGraphInput{
		Query: rw.Query,
	}).Get(ctx, &r.retrieval); err != nil {
		return degrade(ctx, r, err)
	}
	return r
}

func vectorBranch(ctx workflow.Context, in TurnInput, prior []string) branchResult {
	r := branchResult{backend: activities.BackendVector}

	var enhanced activities.EnhanceQueryResult
	if err := workflow.ExecuteActivity(opts.WithLLMOptions(ctx), constants.EnhanceQueryActivity, activities.RewriteInput{
		Latest: in.Utterance,
		Prior:  prior,
		UserID: in.UserID,
	}).Get(ctx, &enhanced); err != nil {
		return degrade(ctx, r, err)
	}
	r.enhanced = &enhanced.Enhanced

	if err := workflow.ExecuteActivity(opts.WithRetrievalOptions(ctx), constants.RetrieveVectorActivity, activities.RetrieveVectorInput{
		Enhanced: enhanced.Enhanced,
		Fallback: in.Utterance,
	}).Get(ctx, &r.retrieval); err != nil {
		return degrade(ctx, r, err)
	}
	return r
}

func graphMoreBranch(ctx workflow.Context, previous string, exclude []string) branchResult {
	r := branchResult{backend: activities.BackendGraph, retrieval: emptyRetrieval()}
	if previous == "" {
		return r
	}
	if err := workflow.ExecuteActivity(opts.WithRetrievalOptions(ctx), constants.RetrieveGraphMoreActivity, activities.RetrieveGraphMoreInput{
		PreviousCypher: previous,
		Exclude:        exclude,
	}).Get(ctx, &r.retrieval); err != nil {
		return degrade(ctx, r, err)
	}
	return r
}

func vectorMoreBranch(ctx workflow.Context, previous *conversation.EnhancedQuery, fallback string, exclude []string) branchResult {
	r := branchResult{backend: activities.BackendVector, retrieval: emptyRetrieval()}
	if previous == nil {
		return r
	}
	if err := workflow.ExecuteActivity(opts.WithRetrievalOptions(ctx), constants.RetrieveVectorMoreActivity, activities.RetrieveVectorInput{
		Enhanced: *previous,
		Fallback: fallback,
		Exclude:  exclude,
	}).Get(ctx, &r.retrieval); err != nil {
		return degrade(ctx, r, err)
	}
	return r
}

// degrade keeps fatal kinds as errors and turns everything else, including
// activity timeouts, into an empty batch
func degrade(ctx workflow.Context, r branchResult, err error) branchResult {
	if kind, ok := activities.ErrorKind(err); ok && kind.Fatal() {
		r.err = err
		return r
	}
	workflow.GetLogger(ctx).Warn("Retrieval branch degraded",
		"backend", r.backend,
		"error", err,
	)
	r.retrieval = emptyRetrieval()
	r.retrieval.Degraded = true
	r.retrieval.Error = err.Error()
	return r
}

func emptyRetrieval() activities.RetrievalResult {
	return activities.RetrievalResult{Properties: []conversation.Property{}, IDs: []string{}}
}
