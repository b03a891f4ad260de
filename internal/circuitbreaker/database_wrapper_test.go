package circuitbreaker

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"
)

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	wrapper := NewDatabaseWrapper(db, "test", zaptest.NewLogger(t))
	ctx := context.Background()

	mock.ExpectPing()
	if err := wrapper.PingContext(ctx); err != nil {
		t.Errorf("PingContext failed: %v", err)
	}

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow("p1", "Skyline Residency").
		AddRow("p2", "Lakeview Towers")
	mock.ExpectQuery("SELECT (.+) FROM properties").WillReturnRows(rows)

	queryRows, err := wrapper.QueryContext(ctx, "SELECT id, name FROM properties")
	if err != nil {
		t.Fatalf("QueryContext failed: %v", err)
	}
	count := 0
	for queryRows.Next() {
		count++
	}
	queryRows.Close()
	if count != 2 {
		t.Errorf("Expected 2 rows, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDatabaseWrapper_OpensAfterFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	wrapper := NewDatabaseWrapper(db, "test", zaptest.NewLogger(t))
	ctx := context.Background()

	threshold := int(GetDatabaseConfig().FailureThreshold)
	for i := 0; i < threshold; i++ {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))
		if _, err := wrapper.QueryContext(ctx, "SELECT 1"); err == nil {
			t.Fatal("Expected query error")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("Expected breaker to be open")
	}
	if _, err := wrapper.QueryContext(ctx, "SELECT 1"); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected open breaker error, got %v", err)
	}
}
