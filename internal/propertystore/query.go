package propertystore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/propadvisor/orchestrator/internal/conversation"
)

const selectColumns = `id, name, "cityName", beds, baths, price, "totalArea", "pricePerSqft",
  room_type, property_type, "hasBalcony", description`

// Query is a parameterised SQL statement
type Query struct {
	SQL  string
	Args []interface{}
}

// BuildSearch renders the similarity search for q. Only non-nil fields
// become filters; a non-empty exclude adds NOT (id = ANY(...)).
// $1 is always the query vector.
func BuildSearch(q conversation.EnhancedQuery, vec pgvector.Vector, dims, limit int, exclude []string) Query {
	args := []interface{}{vec}
	var where []string
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if q.City != nil && strings.TrimSpace(*q.City) != "" {
		add(`"cityName" ILIKE $%d`, "%"+strings.TrimSpace(*q.City)+"%")
	}
	if q.HasBalcony != nil {
		add(`"hasBalcony" = $%d`, *q.HasBalcony)
	}
	if q.MinBeds != nil {
		add(`beds >= $%d`, *q.MinBeds)
	}
	if q.MinBaths != nil {
		add(`baths >= $%d`, *q.MinBaths)
	}
	if q.MaxPrice != nil {
		add(`price <= $%d`, *q.MaxPrice)
	}
	if q.MinArea != nil {
		add(`"totalArea" >= $%d`, *q.MinArea)
	}
	if q.PropertyType != nil && strings.TrimSpace(*q.PropertyType) != "" {
		add(`property_type ILIKE $%d`, "%"+strings.TrimSpace(*q.PropertyType)+"%")
	}
	if q.RoomType != nil && strings.TrimSpace(*q.RoomType) != "" {
		add(`room_type ILIKE $%d`, "%"+strings.TrimSpace(*q.RoomType)+"%")
	}
	if len(exclude) > 0 {
		add(`NOT (id = ANY($%d))`, pq.Array(exclude))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "\nWHERE " + strings.Join(where, "\n  AND ")
	}

	args = append(args, limit)
	sql := fmt.Sprintf(`SELECT %s,
  description_embed <=> $1::vector(%d) AS score
FROM properties%s
ORDER BY score
LIMIT $%d`, selectColumns, dims, whereSQL, len(args))

	return Query{SQL: sql, Args: args}
}

// Render substitutes arguments into the statement for logs and the
// conversation record. The vector is elided. Not for execution.
func Render(q Query) string {
	type sub struct {
		placeholder string
		literal     string
	}
	subs := make([]sub, 0, len(q.Args))
	for i, a := range q.Args {
		subs = append(subs, sub{placeholder: "$" + strconv.Itoa(i+1), literal: literal(a)})
	}
	// $12 before $1
	sort.Slice(subs, func(i, j int) bool { return len(subs[i].placeholder) > len(subs[j].placeholder) })

	out := q.SQL
	for _, s := range subs {
		out = strings.ReplaceAll(out, s.placeholder, s.literal)
	}
	return out
}

func literal(v interface{}) string {
	switch t := v.(type) {
	case pgvector.Vector:
		return "'<query embedding>'"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case *pq.StringArray:
		quoted := make([]string, 0, len(*t))
		for _, s := range *t {
			quoted = append(quoted, "'"+strings.ReplaceAll(s, "'", "''")+"'")
		}
		return "ARRAY[" + strings.Join(quoted, ", ") + "]"
	default:
		return fmt.Sprintf("'%v'", t)
	}
}
