package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/cmd/gateway/internal/lock"
	"github.com/propadvisor/orchestrator/cmd/gateway/internal/middleware"
	"github.com/propadvisor/orchestrator/internal/activities"
	"github.com/propadvisor/orchestrator/internal/constants"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/metrics"
	"github.com/propadvisor/orchestrator/internal/workflows"
)

// Locker serializes turns per conversation
type Locker interface {
	Acquire(ctx context.Context, conversationID string, wait time.Duration) (*lock.Lease, error)
	Release(ctx context.Context, lease *lock.Lease)
}

// ConversationReader reads committed conversation state
type ConversationReader interface {
	Get(ctx context.Context, conversationID string) (*conversation.State, error)
	UserConversations(ctx context.Context, userID string) ([]string, error)
}

// TurnOptions bound one turn
type TurnOptions struct {
	TaskQueue   string
	TurnTimeout time.Duration
	LockWait    time.Duration
}

// ConversationHandler runs turns through Temporal and serves history
type ConversationHandler struct {
	temporal      client.Client
	locks         Locker
	conversations ConversationReader
	opts          TurnOptions
	logger        *zap.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(tc client.Client, locks Locker, conversations ConversationReader, opts TurnOptions, logger *zap.Logger) *ConversationHandler {
	if opts.TaskQueue == "" {
		opts.TaskQueue = constants.TaskQueue
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 2 * time.Minute
	}
	return &ConversationHandler{
		temporal:      tc,
		locks:         locks,
		conversations: conversations,
		opts:          opts,
		logger:        logger,
	}
}

// TurnRequest is the body of POST /api/v1/conversations/turn
type TurnRequest struct {
	Utterance      string `json:"utterance"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id"`
}

// TurnResponse is the reply to a completed turn
type TurnResponse struct {
	ConversationID        string                  `json:"conversation_id"`
	Answer                string                  `json:"answer"`
	AnsweredBy            conversation.AnsweredBy `json:"answered_by"`
	RecommendedProperties []conversation.Property `json:"recommended_properties"`
	DegradedBackends      []string                `json:"degraded_backends,omitempty"`
	State                 *conversation.State     `json:"state"`
}

// HistoryResponse is the reply to GET /api/v1/conversations/{id}/history
type HistoryResponse struct {
	ConversationID string                    `json:"conversation_id"`
	UserID         string                    `json:"user_id"`
	Transcript     []conversation.TurnRecord `json:"transcript"`
	Utterances     []string                  `json:"utterances"`
}

// Turn handles POST /api/v1/conversations/turn
func (h *ConversationHandler) Turn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get(middleware.HeaderUserID)
	}
	req.Utterance = strings.TrimSpace(req.Utterance)

	switch {
	case req.Utterance == "":
		sendError(w, h.logger, http.StatusBadRequest, "utterance is required")
		return
	case req.UserID == "" || !middleware.ValidID(req.UserID):
		sendError(w, h.logger, http.StatusBadRequest, "a valid user_id is required")
		return
	case req.ConversationID != "" && !middleware.ValidID(req.ConversationID):
		sendError(w, h.logger, http.StatusBadRequest, "invalid conversation_id")
		return
	}

	h.runTurn(w, r, req)
}

// runTurn executes one turn while holding the conversation lock
func (h *ConversationHandler) runTurn(w http.ResponseWriter, r *http.Request, req TurnRequest) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}
	logger := h.logger.With(
		zap.String("conversation_id", req.ConversationID),
		zap.String("user_id", req.UserID),
		zap.String("trace_id", middleware.TraceID(r.Context())),
	)

	lease, err := h.locks.Acquire(r.Context(), req.ConversationID, h.opts.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			sendError(w, h.logger, http.StatusConflict, "Another message in this conversation is still being processed")
			return
		}
		logger.Error("Failed to acquire conversation lock", zap.Error(err))
		sendError(w, h.logger, http.StatusBadGateway, GenericFailure)
		return
	}
	// Release must outlive a cancelled request
	defer h.locks.Release(context.WithoutCancel(r.Context()), lease)

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.TurnTimeout)
	defer cancel()

	started := time.Now()
	metrics.TurnsStarted.Inc()

	run, err := h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       fmt.Sprintf(constants.TurnWorkflowIDFmt, req.ConversationID),
		TaskQueue:                                h.opts.TaskQueue,
		WorkflowExecutionTimeout:                 h.opts.TurnTimeout,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy:                 enums.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		Memo: map[string]interface{}{
			"user_id": req.UserID,
		},
	}, constants.TurnWorkflowName, workflows.TurnInput{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Utterance:      req.Utterance,
	})
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			metrics.TurnsCompleted.WithLabelValues("none", "conflict").Inc()
			sendError(w, h.logger, http.StatusConflict, "Another message in this conversation is still being processed")
			return
		}
		metrics.TurnsCompleted.WithLabelValues("none", "start_failed").Inc()
		logger.Error("Failed to start turn workflow", zap.Error(err))
		sendError(w, h.logger, http.StatusBadGateway, GenericFailure)
		return
	}

	var res workflows.TurnResult
	if err := run.Get(ctx, &res); err != nil {
		h.turnFailed(w, logger, run, err)
		return
	}

	terminal := string(res.AnsweredBy)
	metrics.TurnsCompleted.WithLabelValues(terminal, "ok").Inc()
	metrics.TurnDuration.WithLabelValues(terminal).Observe(time.Since(started).Seconds())
	logger.Info("Turn completed",
		zap.String("answered_by", terminal),
		zap.Int("properties", len(res.Properties)),
		zap.Strings("degraded", res.Degraded),
		zap.Duration("duration", time.Since(started)),
	)

	props := res.Properties
	if props == nil {
		props = []conversation.Property{}
	}
	writeJSON(w, h.logger, http.StatusOK, TurnResponse{
		ConversationID:        res.ConversationID,
		Answer:                res.Answer,
		AnsweredBy:            res.AnsweredBy,
		RecommendedProperties: props,
		DegradedBackends:      res.Degraded,
		State:                 res.State,
	})
}

// turnFailed logs the typed failure and answers with the generic apology.
// Internal error text never reaches the caller.
func (h *ConversationHandler) turnFailed(w http.ResponseWriter, logger *zap.Logger, run client.WorkflowRun, err error) {
	kind := activities.ErrorType(err)
	if kind == "" {
		var timeoutErr *temporal.TimeoutError
		if errors.As(err, &timeoutErr) {
			kind = "Timeout"
		} else {
			kind = "Unknown"
		}
	}
	metrics.TurnsCompleted.WithLabelValues("none", kind).Inc()
	logger.Error("Turn failed",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("kind", kind),
		zap.Error(err),
	)

	if kind == activities.ErrTypeNotOwner {
		sendError(w, h.logger, http.StatusForbidden, "Conversation belongs to another user")
		return
	}
	sendError(w, h.logger, http.StatusBadGateway, GenericFailure)
}

// History handles GET /api/v1/conversations/{id}/history
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := h.conversations.Get(r.Context(), id)
	if errors.Is(err, conversation.ErrNotFound) {
		sendError(w, h.logger, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load conversation", zap.String("conversation_id", id), zap.Error(err))
		sendError(w, h.logger, http.StatusBadGateway, GenericFailure)
		return
	}
	if caller := r.Header.Get(middleware.HeaderUserID); caller != "" && caller != state.UserID {
		sendError(w, h.logger, http.StatusForbidden, "Conversation belongs to another user")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, HistoryResponse{
		ConversationID: state.ID,
		UserID:         state.UserID,
		Transcript:     state.Transcript,
		Utterances:     state.Utterances,
	})
}

// UserConversations handles GET /api/v1/users/{userId}/conversations
func (h *ConversationHandler) UserConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	ids, err := h.conversations.UserConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.String("user_id", userID), zap.Error(err))
		sendError(w, h.logger, http.StatusBadGateway, GenericFailure)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"user_id":          userID,
		"conversation_ids": ids,
	})
}
