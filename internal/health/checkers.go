package health

import (
	"context"
	"time"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
)

// Pinger is a dependency that can be probed and reports its breaker state
type Pinger interface {
	Ping(ctx context.Context) error
	BreakerOpen() bool
}

// DependencyChecker probes one dependency. Latency above slow marks it degraded.
type DependencyChecker struct {
	name     string
	label    string
	critical bool
	timeout  time.Duration
	slow     time.Duration
	ping     func(ctx context.Context) error
	open     func() bool
}

func (d *DependencyChecker) Name() string           { return d.name }
func (d *DependencyChecker) IsCritical() bool       { return d.critical }
func (d *DependencyChecker) Timeout() time.Duration { return d.timeout }

func (d *DependencyChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: d.name,
		Critical:  d.critical,
		Timestamp: startTime,
	}

	if d.open != nil && d.open() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = d.label + " circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	err := d.ping(ctx)
	result.Duration = time.Since(startTime)
	result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = d.label + " ping failed"
	case result.Duration > d.slow:
		result.Status = StatusDegraded
		result.Message = d.label + " responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = d.label + " healthy"
	}
	return result
}

// NewRedisHealthChecker checks the conversation store's Redis
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper) *DependencyChecker {
	return &DependencyChecker{
		name:     "redis",
		label:    "Redis",
		critical: true,
		timeout:  5 * time.Second,
		slow:     100 * time.Millisecond,
		ping:     wrapper.Ping,
		open:     wrapper.IsCircuitBreakerOpen,
	}
}

// NewDatabaseHealthChecker checks the pgvector property database
func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper) *DependencyChecker {
	return &DependencyChecker{
		name:     "postgres",
		label:    "Postgres",
		critical: true,
		timeout:  5 * time.Second,
		slow:     200 * time.Millisecond,
		ping:     wrapper.PingContext,
		open:     wrapper.IsCircuitBreakerOpen,
	}
}

// NewGraphHealthChecker checks Neo4j. A failing graph only degrades
// recommendations, so it is not critical.
func NewGraphHealthChecker(p Pinger) *DependencyChecker {
	return &DependencyChecker{
		name:    "neo4j",
		label:   "Neo4j",
		timeout: 5 * time.Second,
		slow:    500 * time.Millisecond,
		ping:    p.Ping,
		open:    p.BreakerOpen,
	}
}

// NewLLMHealthChecker checks the chat completion endpoint
func NewLLMHealthChecker(p Pinger) *DependencyChecker {
	return &DependencyChecker{
		name:     "llm",
		label:    "LLM",
		critical: true,
		timeout:  10 * time.Second,
		slow:     3 * time.Second,
		ping:     p.Ping,
		open:     p.BreakerOpen,
	}
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
