package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"
)

// DatabaseWrapper wraps database operations with circuit breaker
type DatabaseWrapper struct {
	db     *sql.DB
	guard  *Guard
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sql.DB, service string, logger *zap.Logger) *DatabaseWrapper {
	cfg := GetDatabaseConfig().ToConfig()
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, context.Canceled)
	}

	return &DatabaseWrapper{
		db:     db,
		guard:  NewGuard("postgresql", service, cfg, logger),
		logger: logger,
	}
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.guard.Do(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
}

// QueryContext wraps database query with circuit breaker
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := dw.guard.Do(ctx, func() error {
		var err error
		rows, err = dw.db.QueryContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Close closes the underlying pool
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// GetDB returns the underlying database handle
func (dw *DatabaseWrapper) GetDB() *sql.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.guard.IsOpen()
}
