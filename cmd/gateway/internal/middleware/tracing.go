package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/tracing"
)

type traceKey struct{}

// TraceID returns the request's trace id, if the tracing middleware ran
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// TracingMiddleware provides distributed tracing support
type TracingMiddleware struct {
	logger *zap.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *zap.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

// Middleware returns the HTTP middleware function
func (tm *TracingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := tm.extractTraceID(r)
		if traceID == "" {
			traceID = strings.ReplaceAll(uuid.New().String(), "-", "")
		}

		ctx, span := tracing.StartSpan(r.Context(), "gateway "+r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.Pattern),
			attribute.String("request.trace_id", traceID),
		)
		defer span.End()
		ctx = context.WithValue(ctx, traceKey{}, traceID)

		w.Header().Set("X-Trace-ID", traceID)

		tm.logger.Debug("Request received",
			zap.String("trace_id", traceID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID prefers a valid W3C traceparent, then X-Trace-ID, then X-Request-ID
func (tm *TracingMiddleware) extractTraceID(r *http.Request) string {
	if traceparent := r.Header.Get("traceparent"); traceparent != "" {
		if traceID, _, _, ok := tracing.ParseTraceparent(traceparent); ok {
			return traceID
		}
		tm.logger.Debug("Ignoring malformed traceparent", zap.String("traceparent", traceparent))
	}
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		return traceID
	}
	return r.Header.Get("X-Request-ID")
}
