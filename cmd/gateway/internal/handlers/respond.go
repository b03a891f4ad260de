package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// GenericFailure is the only text a caller sees when a turn fails
const GenericFailure = "Sorry, something went wrong while processing your request. Please try again."

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func sendError(w http.ResponseWriter, logger *zap.Logger, code int, msg string) {
	writeJSON(w, logger, code, ErrorResponse{Error: http.StatusText(code), Message: msg})
}
