package propertystore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/embeddings"
)

type fakeEmbedder struct {
	dims int
	err  error
	text string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.text = text
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }

func ptr[T any](v T) *T { return &v }

var columns = []string{"id", "name", "cityName", "beds", "baths", "price", "totalArea", "pricePerSqft",
	"room_type", "property_type", "hasBalcony", "description", "score"}

func TestBuildSearchWithoutFilters(t *testing.T) {
	q := BuildSearch(conversation.EnhancedQuery{EnhancedUserQuery: "homes"}, pgvector.NewVector([]float32{1}), 1536, 10, nil)

	assert.NotContains(t, q.SQL, "WHERE")
	assert.Contains(t, q.SQL, "description_embed <=> $1::vector(1536) AS score")
	assert.True(t, strings.HasSuffix(q.SQL, "ORDER BY score\nLIMIT $2"))
	assert.Len(t, q.Args, 2)
	assert.Equal(t, 10, q.Args[1])
}

func TestBuildSearchFiltersOnlyNonNilFields(t *testing.T) {
	q := BuildSearch(conversation.EnhancedQuery{
		City:       ptr("New Delhi"),
		HasBalcony: ptr(false),
		MinBeds:    ptr(2),
		MaxPrice:   ptr(float64(10_000_000)),
		RoomType:   ptr("BHK"),
	}, pgvector.NewVector([]float32{1}), 1536, 10, []string{"p1", "p2"})

	for _, clause := range []string{
		`"cityName" ILIKE $2`,
		`"hasBalcony" = $3`,
		`beds >= $4`,
		`price <= $5`,
		`room_type ILIKE $6`,
		`NOT (id = ANY($7))`,
		`LIMIT $8`,
	} {
		assert.Contains(t, q.SQL, clause)
	}
	assert.NotContains(t, q.SQL, "baths >=")
	assert.NotContains(t, q.SQL, "property_type ILIKE")
	assert.Equal(t, "%New Delhi%", q.Args[1])
	assert.Equal(t, "%BHK%", q.Args[5])
	assert.Equal(t, false, q.Args[2])
	assert.Len(t, q.Args, 8)
}

func TestBuildSearchMatchesTypesBySubstring(t *testing.T) {
	q := BuildSearch(conversation.EnhancedQuery{
		PropertyType: ptr(" Apartment "),
		RoomType:     ptr("bhk"),
	}, pgvector.NewVector([]float32{1}), 1536, 10, nil)

	assert.Contains(t, q.SQL, `property_type ILIKE $2`)
	assert.Contains(t, q.SQL, `room_type ILIKE $3`)
	assert.NotContains(t, q.SQL, "property_type =")
	assert.NotContains(t, q.SQL, "room_type =")
	assert.Equal(t, []interface{}{"%Apartment%", "%bhk%"}, q.Args[1:3])
	assert.Contains(t, Render(q), `room_type ILIKE '%bhk%'`)
}

func TestRenderInlinesArguments(t *testing.T) {
	q := BuildSearch(conversation.EnhancedQuery{City: ptr("Pune"), MinBeds: ptr(3)},
		pgvector.NewVector([]float32{1}), 8, 10, []string{"o'neil"})

	out := Render(q)
	assert.Contains(t, out, "'<query embedding>'::vector(8)")
	assert.Contains(t, out, `"cityName" ILIKE '%Pune%'`)
	assert.Contains(t, out, "beds >= 3")
	assert.Contains(t, out, "NOT (id = ANY(ARRAY['o''neil']))")
	assert.Contains(t, out, "LIMIT 10")
	assert.NotContains(t, out, "$")
}

func TestSearchScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	emb := &fakeEmbedder{dims: 4}
	store := NewStore(db, emb, 10, zap.NewNop())

	rows := sqlmock.NewRows(columns).
		AddRow("p1", "Skyline Residency", "New Delhi", 2, 2, 9500000.0, 1100.0, 8636.0, "BHK", "Flat", true, "Near metro", 0.12).
		AddRow("p2", "Lakeview", nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, 0.2)
	mock.ExpectQuery(regexp.QuoteMeta(`"cityName" ILIKE $2`)).
		WithArgs(sqlmock.AnyArg(), "%New Delhi%", 10).
		WillReturnRows(rows)

	b, err := store.Search(context.Background(), conversation.EnhancedQuery{City: ptr("New Delhi")}, "2 bhk in delhi")
	require.NoError(t, err)

	assert.Equal(t, "2 bhk in delhi", emb.text, "falls back to the utterance when no rewrite text")
	assert.Equal(t, []string{"p1", "p2"}, b.IDs)
	assert.Equal(t, "Skyline Residency", b.Properties[0]["name"])
	assert.Equal(t, int64(2), b.Properties[0]["beds"])
	assert.Equal(t, true, b.Properties[0]["hasBalcony"])
	assert.NotContains(t, b.Properties[1], "cityName")
	assert.Equal(t, 0.2, b.Properties[1]["score"])
	assert.Contains(t, b.Query, "'%New Delhi%'")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchExcludingPassesShownIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, &fakeEmbedder{dims: 4}, 10, zap.NewNop())
	mock.ExpectQuery(regexp.QuoteMeta("NOT (id = ANY($2))")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("p9", "Fresh", nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, 0.4))

	b, err := store.SearchExcluding(context.Background(), conversation.EnhancedQuery{EnhancedUserQuery: "flats"}, "", []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p9"}, b.IDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchDimensionMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, &fakeEmbedder{dims: 3}, 10, zap.NewNop())
	_, err = store.Search(context.Background(), conversation.EnhancedQuery{EnhancedUserQuery: "villa"}, "")

	assert.ErrorIs(t, err, embeddings.ErrDimensionMismatch)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query should run")
}

func TestSearchWrapsEmbedderAndQueryErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mismatch := &embeddings.DimensionError{Want: 4, Got: 2}
	store := NewStore(db, &fakeEmbedder{dims: 4, err: mismatch}, 10, zap.NewNop())
	_, err = store.Search(context.Background(), conversation.EnhancedQuery{EnhancedUserQuery: "villa"}, "")
	assert.ErrorIs(t, err, embeddings.ErrDimensionMismatch, "wrapping keeps the mismatch visible")

	store = NewStore(db, &fakeEmbedder{dims: 4}, 10, zap.NewNop())
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation \"properties\" does not exist"))
	_, err = store.Search(context.Background(), conversation.EnhancedQuery{EnhancedUserQuery: "villa"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search properties")
	assert.False(t, errors.Is(err, embeddings.ErrDimensionMismatch))
}
