package activities

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/agents"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/embeddings"
	"github.com/propadvisor/orchestrator/internal/graphstore"
	"github.com/propadvisor/orchestrator/internal/metrics"
)

// Backend labels
const (
	BackendGraph  = "graph"
	BackendVector = "vector"
)

const (
	modeFresh = "fresh"
	modeMore  = "more"
)

// RetrieveGraph generates Cypher for the rewritten request and runs it.
// Any failure degrades to an empty batch.
func (a *Activities) RetrieveGraph(ctx context.Context, in RetrieveGraphInput) (RetrievalResult, error) {
	defer observe(StepGraphRetrieve)()

	cypher, err := agents.GenerateCypher(ctx, a.llm, in.Query, a.graph.Limit())
	if err != nil {
		return a.degrade(BackendGraph, StepGraphRetrieve, err), nil
	}
	b, err := a.graph.Retrieve(ctx, cypher)
	if err != nil {
		if errors.Is(err, graphstore.ErrUnsafeQuery) {
			a.logger.Warn("Rejected generated cypher", zap.String("cypher", cypher))
		}
		return a.degrade(BackendGraph, StepGraphRetrieve, err), nil
	}
	return a.graphResult(b, modeFresh), nil
}

// RetrieveGraphMore re-runs the previous Cypher with shown ids excluded
func (a *Activities) RetrieveGraphMore(ctx context.Context, in RetrieveGraphMoreInput) (RetrievalResult, error) {
	defer observe(StepGraphRetrieve)()

	b, err := a.graph.RetrieveExcluding(ctx, in.PreviousCypher, in.Exclude)
	if err != nil {
		return a.degrade(BackendGraph, StepGraphRetrieve, err), nil
	}
	return a.graphResult(b, modeMore), nil
}

// RetrieveVector runs the similarity search for the structured rewrite.
// A dimension mismatch is fatal; every other failure degrades.
func (a *Activities) RetrieveVector(ctx context.Context, in RetrieveVectorInput) (RetrievalResult, error) {
	defer observe(StepVectorRetrieve)()

	b, err := a.vector.Search(ctx, in.Enhanced, in.Fallback)
	if err != nil {
		return a.vectorFailure(err)
	}
	return vectorResult(b.Properties, b.Query, b.IDs, modeFresh), nil
}

// RetrieveVectorMore re-runs the previous filters with shown ids excluded
func (a *Activities) RetrieveVectorMore(ctx context.Context, in RetrieveVectorInput) (RetrievalResult, error) {
	defer observe(StepVectorRetrieve)()

	b, err := a.vector.SearchExcluding(ctx, in.Enhanced, in.Fallback, in.Exclude)
	if err != nil {
		return a.vectorFailure(err)
	}
	return vectorResult(b.Properties, b.Query, b.IDs, modeMore), nil
}

func (a *Activities) vectorFailure(err error) (RetrievalResult, error) {
	if errors.Is(err, embeddings.ErrDimensionMismatch) {
		a.logger.Error("Embedding dimension mismatch", zap.Error(err))
		return RetrievalResult{}, stepError(StepVectorRetrieve, agents.EmbeddingDimensionMismatch, err)
	}
	return a.degrade(BackendVector, StepVectorRetrieve, err), nil
}

func (a *Activities) degrade(backend, step string, err error) RetrievalResult {
	metrics.BackendDegraded.WithLabelValues(backend).Inc()
	metrics.StepFailures.WithLabelValues(step, string(agents.BackendRetrievalFailure)).Inc()
	a.logger.Warn("Retrieval backend failed, continuing with an empty batch",
		zap.String("backend", backend),
		zap.Error(err),
	)
	r := emptyRetrieval()
	r.Degraded = true
	r.Error = agents.NewTurnError(agents.BackendRetrievalFailure, step, err).Error()
	return r
}

func (a *Activities) graphResult(b *graphstore.Batch, mode string) RetrievalResult {
	metrics.RetrievalBatchSize.WithLabelValues(BackendGraph, mode).Observe(float64(len(b.Properties)))
	return RetrievalResult{Properties: nonNilProps(b.Properties), Query: b.Query, IDs: nonNilIDs(b.IDs)}
}

func vectorResult(props []conversation.Property, query string, ids []string, mode string) RetrievalResult {
	metrics.RetrievalBatchSize.WithLabelValues(BackendVector, mode).Observe(float64(len(props)))
	return RetrievalResult{Properties: nonNilProps(props), Query: query, IDs: nonNilIDs(ids)}
}

func nonNilProps(p []conversation.Property) []conversation.Property {
	if p == nil {
		return []conversation.Property{}
	}
	return p
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
