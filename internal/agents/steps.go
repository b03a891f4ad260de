package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/llm"
	"github.com/propadvisor/orchestrator/internal/normalize"
	"github.com/propadvisor/orchestrator/internal/preferences"
)

var (
	deterministic = float32(0)
	creative      = float32(0.5)
)

type validityOutput struct {
	Validity string `json:"validity"`
}

type intentOutput struct {
	Intent string `json:"intent"`
}

// ClassifyInput returns the validity of the latest utterance
func ClassifyInput(ctx context.Context, c llm.Client, latest string, prior []string) (conversation.Validity, error) {
	var out validityOutput
	err := c.CompleteStructured(ctx, llm.Request{
		Call:        CallClassifyInput,
		Messages:    ClassifierMessages(latest, prior),
		Temperature: &deterministic,
	}, ValiditySchema, &out)
	if err != nil {
		return "", err
	}
	v, err := conversation.ParseValidity(out.Validity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrMalformedOutput, err)
	}
	return v, nil
}

// ClassifyIntent returns the intent of a valid utterance
func ClassifyIntent(ctx context.Context, c llm.Client, latest string, transcript []conversation.TurnRecord) (conversation.Intent, error) {
	var out intentOutput
	err := c.CompleteStructured(ctx, llm.Request{
		Call:        CallClassifyIntent,
		Messages:    RouterMessages(latest, transcript),
		Temperature: &deterministic,
	}, IntentSchema, &out)
	if err != nil {
		return "", err
	}
	i, err := conversation.ParseIntent(out.Intent)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrMalformedOutput, err)
	}
	return i, nil
}

// RewriteForGraph returns the schema-aligned rewrite of the request
func RewriteForGraph(ctx context.Context, c llm.Client, latest string, prior []string, hints normalize.Hints) (string, error) {
	text, err := c.Complete(ctx, llm.Request{
		Call:        CallGraphRewrite,
		Messages:    GraphRewriteMessages(latest, prior, hints),
		Temperature: &deterministic,
	})
	if err != nil {
		return "", err
	}
	text = strings.Trim(strings.TrimSpace(text), "\"")
	if text == "" {
		return "", fmt.Errorf("%w: empty rewrite", llm.ErrMalformedOutput)
	}
	return text, nil
}

// GenerateCypher returns raw Cypher for question; callers validate it
func GenerateCypher(ctx context.Context, c llm.Client, question string, limit int) (string, error) {
	text, err := c.Complete(ctx, llm.Request{
		Call:        CallCypher,
		Messages:    CypherMessages(question, limit),
		Temperature: &deterministic,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty cypher", llm.ErrMalformedOutput)
	}
	return text, nil
}

// Enhance returns the structured rewrite reconciled against hints
func Enhance(ctx context.Context, c llm.Client, latest string, prior []string, hints normalize.Hints, prefs *preferences.Preferences) (*conversation.EnhancedQuery, error) {
	var out conversation.EnhancedQuery
	err := c.CompleteStructured(ctx, llm.Request{
		Call:        CallEnhance,
		Messages:    EnhancerMessages(latest, prior, hints, prefs),
		Temperature: &creative,
	}, EnhancedQuerySchema, &out)
	if err != nil {
		return nil, err
	}
	reconciled := normalize.Reconcile(out, hints)
	if strings.TrimSpace(reconciled.EnhancedUserQuery) == "" {
		reconciled.EnhancedUserQuery = latest
	}
	return &reconciled, nil
}

// Summarize returns the scrubbed recommendation reply
func Summarize(ctx context.Context, c llm.Client, queryUsed string, utterances []string, sanitized []conversation.Property) (string, error) {
	text, err := c.Complete(ctx, llm.Request{
		Call:     CallSummary,
		Messages: SummaryMessages(queryUsed, utterances, sanitized),
	})
	if err != nil {
		return "", err
	}
	return nonEmpty(Scrub(text))
}

// Discuss returns the scrubbed answer to a follow-up question
func Discuss(ctx context.Context, c llm.Client, latest string, transcript []conversation.TurnRecord) (string, error) {
	text, err := c.Complete(ctx, llm.Request{
		Call:     CallDiscussion,
		Messages: DiscussionMessages(latest, transcript),
	})
	if err != nil {
		return "", err
	}
	return nonEmpty(Scrub(text))
}

func nonEmpty(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}
