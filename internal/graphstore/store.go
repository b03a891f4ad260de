// Package graphstore retrieves properties from the Neo4j knowledge graph.
package graphstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/conversation"
)

// DefaultLimit caps every graph batch
const DefaultLimit = 10

// ErrUnsafeQuery is returned for Cypher that could write or is malformed
var ErrUnsafeQuery = errors.New("cypher query rejected")

// Schema describes the graph for the rewrite and Cypher prompts
const Schema = `Node labels and properties:
- Property: id, name, totalArea, pricePerSqft, price, beds, baths, hasBalcony, description
- Neighborhood: name
- City: name
- PropertyType: name
- RoomType: name, rooms

Relationships:
- (:Property)-[:IN_NEIGHBORHOOD]->(:Neighborhood)
- (:Property)-[:OF_TYPE]->(:PropertyType)
- (:Property)-[:HAS_LAYOUT]->(:RoomType)
- (:Neighborhood)-[:PART_OF]->(:City)`

var (
	stringLiteral   = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
	writeClause     = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|FOREACH)\b|\bLOAD\s+CSV\b`)
	procedureCall   = regexp.MustCompile(`(?i)\bCALL\s+(dbms|db|apoc|gds)\.`)
	nameFilter      = regexp.MustCompile(`(?i)(\bp\.name\s*(=|<>|=~|\bcontains\b|\bstarts\s+with\b|\bends\s+with\b|\bin\b))|(tolower\s*\(\s*p\.name\s*\))`)
	matchClause     = regexp.MustCompile(`(?i)^\s*(OPTIONAL\s+)?MATCH\b`)
	returnsProperty = regexp.MustCompile(`(?i)\bRETURN\s+(DISTINCT\s+)?p\b`)
	limitClause     = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+|\$\w+)\s*$`)
	codeFence       = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// Batch is one retrieval result
type Batch struct {
	Properties []conversation.Property `json:"properties"`
	Query      string                  `json:"query"`
	IDs        []string                `json:"ids"`
}

// Store runs validated Cypher against a Runner
type Store struct {
	runner Runner
	limit  int
	logger *zap.Logger
}

// NewStore creates a graph store; limit <= 0 selects DefaultLimit
func NewStore(runner Runner, limit int, logger *zap.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{runner: runner, limit: limit, logger: logger}
}

// Limit returns the batch cap
func (s *Store) Limit() int {
	return s.limit
}

// Retrieve runs LLM-generated Cypher after cleaning and validating it
func (s *Store) Retrieve(ctx context.Context, cypher string) (*Batch, error) {
	query, err := Prepare(cypher, s.limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.runner.Run(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	return s.batch(query, rows), nil
}

// RetrieveExcluding re-runs a previous query while skipping ids already shown.
// An empty previous query yields an empty batch.
func (s *Store) RetrieveExcluding(ctx context.Context, previous string, exclude []string) (*Batch, error) {
	if strings.TrimSpace(previous) == "" {
		return &Batch{Properties: []conversation.Property{}, IDs: []string{}}, nil
	}
	query, err := ExcludingQuery(previous)
	if err != nil {
		return nil, err
	}
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := s.runner.Run(ctx, query, map[string]interface{}{
		"exclude": exclude,
		"limit":   s.limit,
	})
	if err != nil {
		return nil, err
	}

	b := s.batch(query, rows)
	// The wrapper filters server-side; this guards against runners that ignore params
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	kept := b.Properties[:0]
	for _, p := range b.Properties {
		if _, shown := skip[p.ID()]; !shown {
			kept = append(kept, p)
		}
	}
	b.Properties = kept
	b.IDs = conversation.IDs(kept)
	return b, nil
}

// Prepare strips formatting around generated Cypher, validates it and caps it
func Prepare(cypher string, limit int) (string, error) {
	query := Clean(cypher)
	if err := Validate(query); err != nil {
		return "", err
	}
	if !limitClause.MatchString(query) {
		query = fmt.Sprintf("%s\nLIMIT %d", query, limit)
	}
	return query, nil
}

// Clean removes code fences, a leading "cypher" tag and a trailing semicolon
func Clean(cypher string) string {
	q := strings.TrimSpace(cypher)
	if m := codeFence.FindStringSubmatch(q); m != nil {
		q = m[1]
	}
	q = strings.TrimSpace(q)
	if len(q) > 6 && strings.EqualFold(q[:6], "cypher") {
		q = strings.TrimSpace(q[6:])
	}
	return strings.TrimSpace(strings.TrimRight(q, "; \n\t"))
}

// Validate accepts a single read-only MATCH ... RETURN p query
func Validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: empty query", ErrUnsafeQuery)
	}
	bare := stringLiteral.ReplaceAllString(query, "''")
	switch {
	case strings.Contains(bare, ";"):
		return fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	case writeClause.MatchString(bare):
		return fmt.Errorf("%w: write clause %q", ErrUnsafeQuery, writeClause.FindString(bare))
	case procedureCall.MatchString(bare):
		return fmt.Errorf("%w: procedure call", ErrUnsafeQuery)
	case !matchClause.MatchString(bare):
		return fmt.Errorf("%w: must start with MATCH", ErrUnsafeQuery)
	case !returnsProperty.MatchString(bare):
		return fmt.Errorf("%w: must return p", ErrUnsafeQuery)
	case nameFilter.MatchString(bare):
		return fmt.Errorf("%w: filters on p.name", ErrUnsafeQuery)
	}
	return nil
}

// ExcludingQuery wraps previous so that ids in $exclude are skipped and at
// most $limit rows come back, most expensive first. The inner LIMIT is
// dropped so that the wrapper can look past the first page.
func ExcludingQuery(previous string) (string, error) {
	inner := Clean(previous)
	if err := Validate(inner); err != nil {
		return "", err
	}
	inner = strings.TrimSpace(limitClause.ReplaceAllString(inner, ""))
	return fmt.Sprintf(`CALL {
  %s
}
WITH DISTINCT p
WHERE size($exclude) = 0 OR NOT p.id IN $exclude
RETURN p
ORDER BY p.price DESC
LIMIT $limit`, strings.ReplaceAll(inner, "\n", "\n  ")), nil
}

func (s *Store) batch(query string, rows []map[string]interface{}) *Batch {
	props := extractProperties(rows)
	if len(props) > s.limit {
		props = props[:s.limit]
	}
	s.logger.Debug("Graph retrieval",
		zap.Int("rows", len(rows)),
		zap.Int("properties", len(props)),
	)
	return &Batch{Properties: props, Query: query, IDs: conversation.IDs(props)}
}

// extractProperties flattens rows shaped {"p": {...}} into property records,
// keeping the first record per id
func extractProperties(rows []map[string]interface{}) []conversation.Property {
	out := make([]conversation.Property, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		var p conversation.Property
		switch node := row["p"].(type) {
		case map[string]interface{}:
			p = conversation.Property(node)
		case conversation.Property:
			p = node
		default:
			if _, ok := row["id"]; ok {
				p = conversation.Property(row)
			}
		}
		if p == nil {
			continue
		}
		id := p.ID()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, p)
	}
	return out
}
