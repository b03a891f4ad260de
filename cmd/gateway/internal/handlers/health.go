package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency the gateway needs to serve turns
type Pinger func(ctx context.Context) error

// TemporalPinger checks the Temporal frontend
func TemporalPinger(tc client.Client) Pinger {
	return func(ctx context.Context) error {
		_, err := tc.CheckHealth(ctx, &client.CheckHealthRequest{})
		return err
	}
}

// HealthHandler handles health check requests
type HealthHandler struct {
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(deps map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status string            `json:"status"`
	Time   time.Time         `json:"time"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, HealthResponse{
		Status: "healthy",
		Time:   time.Now(),
		Checks: map[string]string{"gateway": "ok"},
	})
}

// Readiness handles GET /readiness by probing every dependency concurrently
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	checks := make(map[string]string, len(h.deps))
	ready := true

	var g errgroup.Group
	for name, ping := range h.deps {
		name, ping := name, ping
		g.Go(func() error {
			err := ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ready = false
				checks[name] = "failed"
				h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
				return nil
			}
			checks[name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: "ready", Time: time.Now(), Checks: checks}
	code := http.StatusOK
	if !ready {
		resp.Status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, code, resp)
}
