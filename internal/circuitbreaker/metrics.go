package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisor_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	circuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	circuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
)

// MetricsCollector exports circuit breaker state
type MetricsCollector struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{breakers: make(map[string]*CircuitBreaker)}
}

// RegisterCircuitBreaker hooks a breaker's transitions into the exported metrics
func (mc *MetricsCollector) RegisterCircuitBreaker(name, service string, cb *CircuitBreaker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.breakers[service+"/"+name] = cb

	previous := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from State, to State) {
		if previous != nil {
			previous(cbName, from, to)
		}
		circuitBreakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		circuitBreakerState.WithLabelValues(name, service).Set(float64(to))
	}
	circuitBreakerState.WithLabelValues(name, service).Set(float64(StateClosed))
}

// RecordRequest records a request attempt
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	circuitBreakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// OpenBreakers returns the keys of every breaker currently open
func (mc *MetricsCollector) OpenBreakers() []string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var open []string
	for key, cb := range mc.breakers {
		if cb.State() == StateOpen {
			open = append(open, key)
		}
	}
	return open
}

// GlobalMetricsCollector is shared by every wrapper in the process
var GlobalMetricsCollector = NewMetricsCollector()

// StartMetricsCollection logs open breakers periodically until ctx is done
func StartMetricsCollection(ctx context.Context, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if open := GlobalMetricsCollector.OpenBreakers(); len(open) > 0 {
					logger.Warn("Circuit breakers open", zap.Strings("breakers", open))
				}
			}
		}
	}()
}
