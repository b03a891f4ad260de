// Package propertystore retrieves properties from Postgres by pgvector similarity.
package propertystore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/embeddings"
	"github.com/propadvisor/orchestrator/internal/tracing"
)

// DefaultLimit caps every relational batch
const DefaultLimit = 10

// Querier is satisfied by *sql.DB and the circuit-breaker database wrapper
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Batch is one retrieval result
type Batch struct {
	Properties []conversation.Property `json:"properties"`
	Query      string                  `json:"query"`
	IDs        []string                `json:"ids"`
}

type propertyRow struct {
	ID           string          `db:"id"`
	Name         sql.NullString  `db:"name"`
	CityName     sql.NullString  `db:"cityName"`
	Beds         sql.NullInt64   `db:"beds"`
	Baths        sql.NullInt64   `db:"baths"`
	Price        sql.NullFloat64 `db:"price"`
	TotalArea    sql.NullFloat64 `db:"totalArea"`
	PricePerSqft sql.NullFloat64 `db:"pricePerSqft"`
	RoomType     sql.NullString  `db:"room_type"`
	PropertyType sql.NullString  `db:"property_type"`
	HasBalcony   sql.NullBool    `db:"hasBalcony"`
	Description  sql.NullString  `db:"description"`
	Score        sql.NullFloat64 `db:"score"`
}

// Store runs similarity searches over the properties table
type Store struct {
	db       Querier
	embedder embeddings.Embedder
	dims     int
	limit    int
	logger   *zap.Logger
}

// NewStore creates a property store. The vector column size is taken from
// the embedder; limit <= 0 selects DefaultLimit.
func NewStore(db Querier, embedder embeddings.Embedder, limit int, logger *zap.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{db: db, embedder: embedder, dims: embedder.Dimensions(), limit: limit, logger: logger}
}

// Search embeds q.EnhancedUserQuery (or fallback when empty) and returns
// the nearest properties matching q's filters
func (s *Store) Search(ctx context.Context, q conversation.EnhancedQuery, fallback string) (*Batch, error) {
	return s.search(ctx, q, fallback, nil)
}

// SearchExcluding is Search with already shown ids filtered out
func (s *Store) SearchExcluding(ctx context.Context, q conversation.EnhancedQuery, fallback string, exclude []string) (*Batch, error) {
	return s.search(ctx, q, fallback, exclude)
}

func (s *Store) search(ctx context.Context, q conversation.EnhancedQuery, fallback string, exclude []string) (*Batch, error) {
	text := strings.TrimSpace(q.EnhancedUserQuery)
	if text == "" {
		text = strings.TrimSpace(fallback)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed search text")
	}
	if len(vec) != s.dims {
		return nil, &embeddings.DimensionError{Want: s.dims, Got: len(vec)}
	}

	query := BuildSearch(q, pgvector.NewVector(vec), s.dims, s.limit, exclude)
	rendered := Render(query)

	ctx, span := tracing.StartStoreSpan(ctx, "postgresql", "SELECT", query.SQL)
	rows, err := s.db.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		tracing.End(span, err)
		return nil, errors.Wrap(err, "failed to search properties")
	}
	defer rows.Close()

	var scanned []propertyRow
	if err := sqlx.StructScan(rows, &scanned); err != nil {
		tracing.End(span, err)
		return nil, errors.Wrap(err, "failed to scan property rows")
	}
	tracing.End(span, nil)

	props := make([]conversation.Property, 0, len(scanned))
	for _, r := range scanned {
		props = append(props, r.toProperty())
	}

	s.logger.Debug("Vector retrieval",
		zap.Int("properties", len(props)),
		zap.Int("excluded", len(exclude)),
	)
	return &Batch{Properties: props, Query: rendered, IDs: conversation.IDs(props)}, nil
}

// toProperty keeps only non-null columns
func (r propertyRow) toProperty() conversation.Property {
	p := conversation.Property{"id": r.ID}
	if r.Name.Valid {
		p["name"] = r.Name.String
	}
	if r.CityName.Valid {
		p["cityName"] = r.CityName.String
	}
	if r.Beds.Valid {
		p["beds"] = r.Beds.Int64
	}
	if r.Baths.Valid {
		p["baths"] = r.Baths.Int64
	}
	if r.Price.Valid {
		p["price"] = r.Price.Float64
	}
	if r.TotalArea.Valid {
		p["totalArea"] = r.TotalArea.Float64
	}
	if r.PricePerSqft.Valid {
		p["pricePerSqft"] = r.PricePerSqft.Float64
	}
	if r.RoomType.Valid {
		p["room_type"] = r.RoomType.String
	}
	if r.PropertyType.Valid {
		p["property_type"] = r.PropertyType.String
	}
	if r.HasBalcony.Valid {
		p["hasBalcony"] = r.HasBalcony.Bool
	}
	if r.Description.Valid {
		p["description"] = r.Description.String
	}
	if r.Score.Valid {
		p["score"] = r.Score.Float64
	}
	return p
}
