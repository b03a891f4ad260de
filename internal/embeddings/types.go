package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDimensionMismatch is returned when a vector does not have the configured size
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionError carries both sizes; it matches ErrDimensionMismatch with errors.Is
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding has %d dimensions, expected %d", e.Got, e.Want)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Embedder turns text into a fixed-size vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Config controls the embedding service behavior
type Config struct {
	// Model is the embedding model or Azure deployment name
	Model string
	// Dimensions is the vector size the property store was built with
	Dimensions int
	// Timeout bounds one provider call
	Timeout time.Duration
	// CacheTTL sets TTL for Redis cache entries
	CacheTTL time.Duration
	// LocalTTL sets TTL for in-process entries
	LocalTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
}

// DefaultConfig matches text-embedding-3-small at its native size
func DefaultConfig() Config {
	return Config{
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    10 * time.Second,
		CacheTTL:   24 * time.Hour,
		LocalTTL:   30 * time.Minute,
		MaxLRU:     2048,
	}
}
