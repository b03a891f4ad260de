package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
)

// Config holds database configuration
type Config struct {
	// DSN takes precedence over the discrete fields when set (e.g. a hosted Postgres URL)
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// ConnString renders the lib/pq connection string
func (c *Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client manages the Postgres pool holding the property catalogue
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	config *Config
	stopCh chan struct{}
}

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	rawDB, err := sql.Open("postgres", config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	client := NewClientFromDB(rawDB, config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go client.healthCheck()

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.String("database", config.Database),
		zap.Int("max_connections", config.MaxConnections),
	)
	return client, nil
}

// NewClientFromDB wraps an already opened handle; used by tests with sqlmock
func NewClientFromDB(rawDB *sql.DB, config *Config, logger *zap.Logger) *Client {
	return &Client{
		db:     circuitbreaker.NewDatabaseWrapper(rawDB, "property-store", logger),
		logger: logger,
		config: config,
		stopCh: make(chan struct{}),
	}
}

func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops the health loop and closes the pool
func (c *Client) Close() error {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	return c.db.Close()
}

// GetDB returns the raw handle
func (c *Client) GetDB() *sql.DB {
	return c.db.GetDB()
}

// Wrapper returns the circuit breaker wrapped handle
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
