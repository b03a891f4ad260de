// Package client is a small HTTP client for the advisor gateway API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/preferences"
)

const headerUserID = "X-User-Id"

// APIError is a non-2xx reply from the gateway
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// TurnResponse mirrors the gateway's turn reply
type TurnResponse struct {
	ConversationID        string                  `json:"conversation_id" yaml:"conversation_id"`
	Answer                string                  `json:"answer" yaml:"answer"`
	AnsweredBy            conversation.AnsweredBy `json:"answered_by" yaml:"answered_by"`
	RecommendedProperties []conversation.Property `json:"recommended_properties" yaml:"recommended_properties"`
	DegradedBackends      []string                `json:"degraded_backends,omitempty" yaml:"degraded_backends,omitempty"`
}

// History mirrors the gateway's history reply
type History struct {
	ConversationID string                    `json:"conversation_id" yaml:"conversation_id"`
	UserID         string                    `json:"user_id" yaml:"user_id"`
	Transcript     []conversation.TurnRecord `json:"transcript" yaml:"transcript"`
	Utterances     []string                  `json:"utterances" yaml:"utterances"`
}

// Conversations lists a user's conversation ids
type Conversations struct {
	UserID          string   `json:"user_id" yaml:"user_id"`
	ConversationIDs []string `json:"conversation_ids" yaml:"conversation_ids"`
}

// Client talks to one gateway as one user
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// New returns a client for baseURL. Turns can take a while, so the
// timeout should cover the gateway's lock wait plus its turn timeout.
func New(baseURL, userID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: timeout},
	}
}

// UserID returns the user the client acts for
func (c *Client) UserID() string { return c.userID }

// Turn sends one utterance. An empty conversationID starts a new conversation.
func (c *Client) Turn(ctx context.Context, conversationID, utterance string) (*TurnResponse, error) {
	body := map[string]string{"utterance": utterance, "user_id": c.userID}
	if conversationID != "" {
		body["conversation_id"] = conversationID
	}
	var out TurnResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations/turn", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches the transcript of a conversation
func (c *Client) History(ctx context.Context, conversationID string) (*History, error) {
	var out History
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/history", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Seed opens a conversation from the user's stored preferences
func (c *Client) Seed(ctx context.Context) (*TurnResponse, error) {
	var out TurnResponse
	if err := c.do(ctx, http.MethodPost, c.userPath("seed"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preferences returns the user's stored preferences
func (c *Client) Preferences(ctx context.Context) (*preferences.Preferences, error) {
	var out preferences.Preferences
	if err := c.do(ctx, http.MethodGet, c.userPath("preferences"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPreferences replaces the user's preferences and returns what was stored
func (c *Client) SetPreferences(ctx context.Context, p preferences.Preferences) (*preferences.Preferences, error) {
	var out preferences.Preferences
	if err := c.do(ctx, http.MethodPut, c.userPath("preferences"), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations lists the user's conversations
func (c *Client) Conversations(ctx context.Context) (*Conversations, error) {
	var out Conversations
	if err := c.do(ctx, http.MethodGet, c.userPath("conversations"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) userPath(suffix string) string {
	return "/api/v1/users/" + url.PathEscape(c.userID) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(headerUserID, c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil {
			apiErr.Message = e.Message
			if apiErr.Message == "" {
				apiErr.Message = e.Error
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
