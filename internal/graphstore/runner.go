package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
	"github.com/propadvisor/orchestrator/internal/tracing"
)

// Runner executes a read-only Cypher query and returns one map per record
type Runner interface {
	Run(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error)
}

// Config holds Neo4j connection settings
type Config struct {
	URI          string
	Username     string
	Password     string
	Database     string
	QueryTimeout time.Duration
}

// Neo4jRunner runs queries in read sessions through a circuit breaker
type Neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	guard    *circuitbreaker.Guard
	logger   *zap.Logger
}

// NewNeo4jRunner connects to Neo4j and verifies connectivity
func NewNeo4jRunner(ctx context.Context, cfg Config, logger *zap.Logger) (*Neo4jRunner, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j at %s: %w", cfg.URI, err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	logger.Info("Connected to Neo4j", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))
	return &Neo4jRunner{
		driver:   driver,
		database: cfg.Database,
		timeout:  timeout,
		guard:    circuitbreaker.NewGuard("neo4j", "graph-store", circuitbreaker.GetGraphConfig().ToConfig(), logger),
		logger:   logger,
	}, nil
}

// Run executes query in a read session
func (r *Neo4jRunner) Run(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := tracing.StartStoreSpan(ctx, "neo4j", "read", query)
	var rows []map[string]interface{}
	err := r.guard.Do(ctx, func() error {
		session := r.driver.NewSession(ctx, neo4j.SessionConfig{
			AccessMode:   neo4j.AccessModeRead,
			DatabaseName: r.database,
		})
		defer session.Close(ctx)

		result, err := session.Run(ctx, query, params)
		if err != nil {
			return err
		}
		rows = rows[:0]
		for result.Next(ctx) {
			record := result.Record()
			row := make(map[string]interface{}, len(record.Keys))
			for i, key := range record.Keys {
				row[key] = toPlain(record.Values[i])
			}
			rows = append(rows, row)
		}
		return result.Err()
	})
	tracing.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("neo4j query failed: %w", err)
	}
	return rows, nil
}

// Ping verifies the driver can reach the server
func (r *Neo4jRunner) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

// BreakerOpen reports whether graph queries are currently rejected
func (r *Neo4jRunner) BreakerOpen() bool {
	return r.guard.IsOpen()
}

// Close closes the driver
func (r *Neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// toPlain converts driver values into JSON-friendly Go values
func toPlain(v interface{}) interface{} {
	switch t := v.(type) {
	case neo4j.Node:
		return plainMap(t.Props)
	case neo4j.Relationship:
		return plainMap(t.Props)
	case map[string]interface{}:
		return plainMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = toPlain(item)
		}
		return out
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

func plainMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = toPlain(v)
	}
	return out
}
