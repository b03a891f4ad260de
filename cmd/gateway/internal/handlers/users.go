package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/preferences"
)

// PreferenceStore reads and writes user preferences
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*preferences.Preferences, error)
	Lookup(ctx context.Context, userID string) (*preferences.Preferences, error)
	Put(ctx context.Context, userID string, p preferences.Preferences) (*preferences.Preferences, error)
}

// UserHandler serves preferences and preference-seeded conversations
type UserHandler struct {
	prefs         PreferenceStore
	conversations *ConversationHandler
	logger        *zap.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(prefs PreferenceStore, conversations *ConversationHandler, logger *zap.Logger) *UserHandler {
	return &UserHandler{prefs: prefs, conversations: conversations, logger: logger}
}

// Seed handles POST /api/v1/users/{userId}/seed. It opens a new
// conversation whose first utterance is built from the stored preferences.
func (h *UserHandler) Seed(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	p, err := h.prefs.Lookup(r.Context(), userID)
	if err != nil {
		// A seed without preferences is still useful
		h.logger.Warn("Preference lookup failed, using generic seed", zap.String("user_id", userID), zap.Error(err))
		p = nil
	}

	h.conversations.runTurn(w, r, TurnRequest{
		Utterance: preferences.SeedUtterance(p),
		UserID:    userID,
	})
}

// GetPreferences handles GET /api/v1/users/{userId}/preferences
func (h *UserHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	p, err := h.prefs.Get(r.Context(), userID)
	if errors.Is(err, preferences.ErrNotFound) {
		sendError(w, h.logger, http.StatusNotFound, "No preferences stored for this user")
		return
	}
	if err != nil {
		h.logger.Error("Failed to read preferences", zap.String("user_id", userID), zap.Error(err))
		sendError(w, h.logger, http.StatusBadGateway, GenericFailure)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// PutPreferences handles PUT /api/v1/users/{userId}/preferences
func (h *UserHandler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	var in preferences.Preferences
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	stored, err := h.prefs.Put(r.Context(), userID, in)
	if errors.Is(err, preferences.ErrInvalid) {
		sendError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to store preferences", zap.String("user_id", userID), zap.Error(err))
		sendError(w, h.logger, http.StatusBadGateway, GenericFailure)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stored)
}
