package middleware

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// MaxBodyBytes bounds JSON request bodies
const MaxBodyBytes = 64 << 10

// ValidationMiddleware performs basic input validation for path ids and bodies
type ValidationMiddleware struct {
	logger *zap.Logger
}

func NewValidationMiddleware(logger *zap.Logger) *ValidationMiddleware {
	return &ValidationMiddleware{logger: logger}
}

func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, name := range []string{"id", "userId"} {
			if v := r.PathValue(name); v != "" && !idRe.MatchString(v) {
				vm.sendBadRequest(w, "Invalid "+name+" format")
				return
			}
		}
		if v := r.Header.Get(HeaderUserID); v != "" && !idRe.MatchString(v) {
			vm.sendBadRequest(w, "Invalid "+HeaderUserID+" header")
			return
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
				vm.logger.Debug("Rejected content type", zap.String("content_type", ct), zap.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Content-Type must be application/json"})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		}

		next.ServeHTTP(w, r)
	})
}

var idRe = regexp.MustCompile(`^[A-Za-z0-9:_\-\.]{1,128}$`)

// ValidID reports whether s is usable as a conversation or user id
func ValidID(s string) bool {
	return idRe.MatchString(s)
}

func (vm *ValidationMiddleware) sendBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
