package circuitbreaker

import (
	"context"

	"go.uber.org/zap"
)

// Guard is a named breaker that reports every call to the metrics collector
type Guard struct {
	name    string
	service string
	cb      *CircuitBreaker
}

// NewGuard creates and registers a breaker for one backend used by service
func NewGuard(name, service string, cfg Config, logger *zap.Logger) *Guard {
	cb := NewCircuitBreaker(name, cfg, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &Guard{name: name, service: service, cb: cb}
}

// Do executes fn through the breaker and records the outcome
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	err := g.cb.Execute(ctx, fn)
	GlobalMetricsCollector.RecordRequest(g.name, g.service, g.cb.State(), !g.cb.countsAsFailure(err))
	return err
}

// State returns the breaker state
func (g *Guard) State() State {
	return g.cb.State()
}

// IsOpen reports whether calls are currently rejected
func (g *Guard) IsOpen() bool {
	return g.cb.State() == StateOpen
}
