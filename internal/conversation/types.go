package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no state exists for a conversation id
	ErrNotFound = errors.New("conversation not found")

	// ErrNotOwner is returned when a conversation belongs to a different user
	ErrNotOwner = errors.New("conversation belongs to another user")

	// ErrVersionConflict is returned when a commit races with another writer
	ErrVersionConflict = errors.New("conversation version conflict")
)

// Validity is the verdict of the input classifier
type Validity string

const (
	Valid   Validity = "valid"
	Invalid Validity = "invalid"
)

// ParseValidity maps raw classifier output onto the closed set
func ParseValidity(raw string) (Validity, error) {
	switch v := Validity(normalizeLabel(raw)); v {
	case Valid, Invalid:
		return v, nil
	default:
		return "", fmt.Errorf("unknown validity label %q", raw)
	}
}

// Intent is the verdict of the intent router
type Intent string

const (
	IntentRecommendation Intent = "recommendation"
	IntentDiscussion     Intent = "discussion"
	IntentMore           Intent = "more"
)

// ParseIntent maps raw router output onto the closed set
func ParseIntent(raw string) (Intent, error) {
	switch i := Intent(normalizeLabel(raw)); i {
	case IntentRecommendation, IntentDiscussion, IntentMore:
		return i, nil
	default:
		return "", fmt.Errorf("unknown intent label %q", raw)
	}
}

func normalizeLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.Trim(s, "\"'`.")
}

// AnsweredBy records which terminal produced a turn
type AnsweredBy string

const (
	AnsweredByRecommendation AnsweredBy = "recommendation_agent"
	AnsweredByDiscussion     AnsweredBy = "discussion_agent"
	AnsweredByInvalid        AnsweredBy = "invalid"
)

// Property is a retrieved entity keyed by its "id" attribute
type Property map[string]interface{}

// ID returns the identity of the record as a string, or "" if absent
func (p Property) ID() string {
	switch v := p["id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// IDs returns the non-empty ids of a batch in order, without duplicates
func IDs(batch []Property) []string {
	seen := make(map[string]struct{}, len(batch))
	out := make([]string, 0, len(batch))
	for _, p := range batch {
		id := p.ID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// EnhancedQuery is the structured rewrite used by the relational backend.
// Nil fields mean the user did not constrain that attribute.
type EnhancedQuery struct {
	EnhancedUserQuery string   `json:"enhanced_user_query"`
	City              *string  `json:"city"`
	HasBalcony        *bool    `json:"has_balcony"`
	MinBeds           *int     `json:"min_beds"`
	MaxPrice          *float64 `json:"max_price"`
	MinBaths          *int     `json:"min_baths"`
	MinArea           *float64 `json:"min_area"`
	PropertyType      *string  `json:"property_type"`
	RoomType          *string  `json:"room_type"`
}

// TurnRecord is one immutable transcript entry
type TurnRecord struct {
	Question              string     `json:"question"`
	AnsweredBy            AnsweredBy `json:"answered_by"`
	Answer                string     `json:"answer"`
	QueryUsed             string     `json:"query_used"`
	RecommendedProperties []Property `json:"recommended_properties"`
	Timestamp             time.Time  `json:"timestamp"`
}

// State is the persisted record of one conversation
type State struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Utterances []string `json:"utterances"`
	Validity   Validity `json:"validity,omitempty"`
	Intent     Intent   `json:"intent,omitempty"`

	GraphQuery     string         `json:"graph_query,omitempty"`
	GraphCypher    string         `json:"graph_cypher,omitempty"`
	GraphResults   [][]Property   `json:"graph_results"`
	GraphShownIDs  []string       `json:"graph_shown_ids"`
	Enhanced       *EnhancedQuery `json:"enhanced,omitempty"`
	VectorSQL      string         `json:"vector_sql,omitempty"`
	VectorResults  [][]Property   `json:"vector_results"`
	VectorShownIDs []string       `json:"vector_shown_ids"`

	Summary    string       `json:"summary,omitempty"`
	Discussion []string     `json:"discussion"`
	Transcript []TurnRecord `json:"transcript"`
}

// NewState returns an empty conversation owned by userID
func NewState(id, userID string, now time.Time) *State {
	return &State{
		ID:             id,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Utterances:     make([]string, 0),
		GraphResults:   make([][]Property, 0),
		GraphShownIDs:  make([]string, 0),
		VectorResults:  make([][]Property, 0),
		VectorShownIDs: make([]string, 0),
		Discussion:     make([]string, 0),
		Transcript:     make([]TurnRecord, 0),
	}
}

// Clone returns a deep copy of the state
func (s *State) Clone() (*State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &out, nil
}

// LatestUtterance returns the most recent user message
func (s *State) LatestUtterance() string {
	if len(s.Utterances) == 0 {
		return ""
	}
	return s.Utterances[len(s.Utterances)-1]
}

// PriorUtterances returns every user message before the latest one
func (s *State) PriorUtterances() []string {
	if len(s.Utterances) <= 1 {
		return nil
	}
	return s.Utterances[:len(s.Utterances)-1]
}

// AppendUtterance records a new user message
func (s *State) AppendUtterance(u string) {
	s.Utterances = append(s.Utterances, u)
}

// AppendTurn records a finished turn
func (s *State) AppendTurn(rec TurnRecord) {
	s.Transcript = append(s.Transcript, rec)
}

// AppendGraphBatch records a graph batch and its ids
func (s *State) AppendGraphBatch(batch []Property) {
	s.GraphResults = append(s.GraphResults, batch)
	s.GraphShownIDs = appendUnique(s.GraphShownIDs, IDs(batch)...)
}

// AppendVectorBatch records a relational batch and its ids
func (s *State) AppendVectorBatch(batch []Property) {
	s.VectorResults = append(s.VectorResults, batch)
	s.VectorShownIDs = appendUnique(s.VectorShownIDs, IDs(batch)...)
}

// ShownIDs is the exclusion set: every id shown so far by either backend
func (s *State) ShownIDs() []string {
	out := appendUnique(nil, s.VectorShownIDs...)
	return appendUnique(out, s.GraphShownIDs...)
}

// HasRecommendations reports whether any earlier turn retrieved results
func (s *State) HasRecommendations() bool {
	return s.GraphCypher != "" || s.Enhanced != nil
}

func appendUnique(dst []string, ids ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(ids))
	for _, id := range dst {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	if dst == nil {
		dst = make([]string, 0)
	}
	return dst
}
