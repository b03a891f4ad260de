package agents

import (
	"errors"
	"fmt"
)

// Kind classifies a failed turn step
type Kind string

const (
	// ClassificationFailure: validity or intent could not be determined
	ClassificationFailure Kind = "ClassificationFailure"
	// BackendRetrievalFailure: one retrieval backend failed; the branch degrades to empty
	BackendRetrievalFailure Kind = "BackendRetrievalFailure"
	// EmbeddingDimensionMismatch: the embedder returned a vector of the wrong size
	EmbeddingDimensionMismatch Kind = "EmbeddingDimensionMismatch"
	// SynthesisFailure: the reply could not be produced
	SynthesisFailure Kind = "SynthesisFailure"
)

// Fatal reports whether the kind aborts the turn without committing state
func (k Kind) Fatal() bool {
	switch k {
	case BackendRetrievalFailure:
		return false
	case ClassificationFailure, EmbeddingDimensionMismatch, SynthesisFailure:
		return true
	default:
		return true
	}
}

// ParseKind maps an error type string back onto a Kind
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case ClassificationFailure, BackendRetrievalFailure, EmbeddingDimensionMismatch, SynthesisFailure:
		return k, true
	default:
		return "", false
	}
}

// TurnError is the only error type that crosses a step boundary
type TurnError struct {
	Kind Kind
	Step string
	Err  error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// NewTurnError wraps err for step
func NewTurnError(kind Kind, step string, err error) *TurnError {
	return &TurnError{Kind: kind, Step: step, Err: err}
}

// KindOf returns the kind of the first TurnError in err's chain
func KindOf(err error) (Kind, bool) {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
