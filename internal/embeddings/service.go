package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
	"github.com/propadvisor/orchestrator/internal/metrics"
	"github.com/propadvisor/orchestrator/internal/tracing"
)

// Provider is the subset of the go-openai client used here
type Provider interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Service embeds query text with a two-level cache in front of the provider
type Service struct {
	cfg    Config
	api    Provider
	cache  Cache
	lru    *LocalLRU
	guard  *circuitbreaker.Guard
	logger *zap.Logger
}

// NewService creates the embedding service. cache may be nil.
func NewService(cfg Config, api Provider, cache Cache, logger *zap.Logger) *Service {
	d := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = d.Dimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = d.CacheTTL
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = d.LocalTTL
	}
	if cfg.MaxLRU <= 0 {
		cfg.MaxLRU = d.MaxLRU
	}
	return &Service{
		cfg:    cfg,
		api:    api,
		cache:  cache,
		lru:    NewLocalLRU(cfg.MaxLRU),
		guard:  circuitbreaker.NewGuard("embeddings", "embedding", circuitbreaker.GetLLMConfig().ToConfig(), logger),
		logger: logger,
	}
}

// Dimensions returns the configured vector size
func (s *Service) Dimensions() int {
	return s.cfg.Dimensions
}

// Embed returns the vector for text. A provider vector of the wrong size
// yields a *DimensionError and is never cached.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}
	key := MakeKey(s.cfg.Model, s.cfg.Dimensions, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.EmbeddingRequests.WithLabelValues("lru_hit").Inc()
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok && len(v) == s.cfg.Dimensions {
			s.lru.Set(ctx, key, v, s.cfg.LocalTTL)
			metrics.EmbeddingRequests.WithLabelValues("cache_hit").Inc()
			return v, nil
		}
	}

	ctx, span := tracing.StartSpan(ctx, "embeddings.create")
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	var resp openai.EmbeddingResponse
	err := s.guard.Do(ctx, func() error {
		var callErr error
		resp, callErr = s.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      []string{text},
			Model:      openai.EmbeddingModel(s.cfg.Model),
			Dimensions: s.cfg.Dimensions,
		})
		return callErr
	})
	metrics.EmbeddingLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		tracing.End(span, err)
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 {
		metrics.EmbeddingRequests.WithLabelValues("empty").Inc()
		err := errors.New("empty embedding response")
		tracing.End(span, err)
		return nil, err
	}

	vec := resp.Data[0].Embedding
	if len(vec) != s.cfg.Dimensions {
		metrics.EmbeddingRequests.WithLabelValues("dimension_mismatch").Inc()
		err := &DimensionError{Want: s.cfg.Dimensions, Got: len(vec)}
		s.logger.Error("Embedding dimension mismatch",
			zap.String("model", s.cfg.Model),
			zap.Int("expected", s.cfg.Dimensions),
			zap.Int("got", len(vec)),
		)
		tracing.End(span, err)
		return nil, err
	}
	tracing.End(span, nil)

	metrics.EmbeddingRequests.WithLabelValues("provider").Inc()
	s.lru.Set(ctx, key, vec, s.cfg.LocalTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
	}
	return vec, nil
}
