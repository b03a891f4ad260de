// Package llm is the chat-completion boundary used by every agent step.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
	"github.com/propadvisor/orchestrator/internal/interceptors"
	"github.com/propadvisor/orchestrator/internal/metrics"
)

var (
	// ErrEmptyResponse is returned when the provider sends no choices
	ErrEmptyResponse = errors.New("empty response from LLM")

	// ErrMalformedOutput is returned when structured output does not decode
	ErrMalformedOutput = errors.New("malformed LLM output")
)

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one chat message
type Message struct {
	Role    string
	Content string
}

// Request is a single completion call. Call labels the step for metrics.
type Request struct {
	Call        string
	Messages    []Message
	Temperature *float32
}

// Schema names a JSON schema for structured output
type Schema struct {
	Name       string
	Definition json.Marshaler
}

// Client is what agent steps depend on
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	CompleteStructured(ctx context.Context, req Request, schema Schema, out interface{}) error
}

// Config configures the OpenAI-compatible provider
type Config struct {
	Provider          string // openai or azure
	BaseURL           string
	APIKey            string
	APIVersion        string // azure only
	ChatModel         string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns conservative defaults
func DefaultConfig() Config {
	return Config{
		Provider:          "openai",
		ChatModel:         "gpt-4o-mini",
		Temperature:       0.2,
		MaxTokens:         1024,
		Timeout:           60 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// NewAPIClient builds the go-openai client for cfg.Provider
func NewAPIClient(cfg Config) *openai.Client {
	var clientConfig openai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "azure":
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			clientConfig.APIVersion = cfg.APIVersion
		}
	default:
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}
	clientConfig.HTTPClient = newHTTPClient()
	return openai.NewClientWithConfig(clientConfig)
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: interceptors.NewWorkflowHTTPRoundTripper(transport)}
}

// OpenAIClient implements Client over go-openai with throttling and a breaker
type OpenAIClient struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	limiter     *rate.Limiter
	guard       *circuitbreaker.Guard
	logger      *zap.Logger
}

// NewOpenAIClient creates a chat client. A zero RequestsPerSecond disables throttling.
func NewOpenAIClient(cfg Config, logger *zap.Logger) *OpenAIClient {
	defaults := DefaultConfig()
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaults.ChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OpenAIClient{
		api:         NewAPIClient(cfg),
		model:       cfg.ChatModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		limiter:     rate.NewLimiter(limit, cfg.Burst),
		guard:       circuitbreaker.NewGuard("llm", "chat", circuitbreaker.GetLLMConfig().ToConfig(), logger),
		logger:      logger,
	}
}

// Complete returns the text of the first choice
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	return c.create(ctx, req, nil)
}

// CompleteStructured asks for JSON matching schema and decodes it into out
func (c *OpenAIClient) CompleteStructured(ctx context.Context, req Request, schema Schema, out interface{}) error {
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schema.Name,
			Schema: schema.Definition,
			Strict: true,
		},
	}
	content, err := c.create(ctx, req, format)
	if err != nil {
		return err
	}
	if err := DecodeJSON(content, out); err != nil {
		metrics.LLMRequests.WithLabelValues(req.Call, "malformed").Inc()
		return err
	}
	return nil
}

// SetRequestsPerSecond changes the request rate; rps <= 0 removes the limit
func (c *OpenAIClient) SetRequestsPerSecond(rps float64) {
	if rps <= 0 {
		c.limiter.SetLimit(rate.Inf)
		return
	}
	c.limiter.SetLimit(rate.Limit(rps))
}

// Ping checks that the provider answers a models listing
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	return err
}

// BreakerOpen reports whether the provider breaker rejects calls
func (c *OpenAIClient) BreakerOpen() bool {
	return c.guard.IsOpen()
}

func (c *OpenAIClient) create(ctx context.Context, req Request, format *openai.ChatCompletionResponseFormat) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("LLM rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	// go-openai omits a zero temperature, which the provider reads as 1.0
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       convertMessages(req.Messages),
		Temperature:    temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: format,
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := c.guard.Do(ctx, func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues(req.Call, "error").Inc()
		c.logger.Warn("LLM request failed",
			zap.String("call", req.Call),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", fmt.Errorf("LLM %s failed: %w", req.Call, err)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(req.Call, "empty").Inc()
		return "", ErrEmptyResponse
	}

	metrics.LLMRequests.WithLabelValues(req.Call, "ok").Inc()
	metrics.LLMTokens.WithLabelValues(req.Call, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(req.Call, "completion").Add(float64(resp.Usage.CompletionTokens))

	c.logger.Debug("LLM response received",
		zap.String("call", req.Call),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp.Choices[0].Message.Content, nil
}

func convertMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// DecodeJSON decodes model output, tolerating a fenced ```json block
func DecodeJSON(content string, out interface{}) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}
