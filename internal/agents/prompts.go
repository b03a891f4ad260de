// Package agents holds the prompts, output contracts and post-processing of
// every LLM-backed step of a conversation turn.
package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/graphstore"
	"github.com/propadvisor/orchestrator/internal/llm"
	"github.com/propadvisor/orchestrator/internal/normalize"
	"github.com/propadvisor/orchestrator/internal/preferences"
)

// MaxContextTurns bounds how much transcript is replayed into prompts
const MaxContextTurns = 6

// Call labels, used for metrics and logs
const (
	CallClassifyInput  = "classify_input"
	CallClassifyIntent = "classify_intent"
	CallGraphRewrite   = "graph_rewrite"
	CallCypher         = "cypher"
	CallEnhance        = "enhance"
	CallSummary        = "summary"
	CallDiscussion     = "discussion"
)

var (
	// ValiditySchema constrains the input classifier to the closed set
	ValiditySchema = llm.LabelSchema("input_validity", "validity",
		[]string{string(conversation.Valid), string(conversation.Invalid)})

	// IntentSchema constrains the intent router to the closed set
	IntentSchema = llm.LabelSchema("turn_intent", "intent", []string{
		string(conversation.IntentRecommendation),
		string(conversation.IntentDiscussion),
		string(conversation.IntentMore),
	})

	// EnhancedQuerySchema is the strict structured output of the enhancer
	EnhancedQuerySchema = llm.RawSchema("enhanced_query", enhancedQuerySchema())
)

func enhancedQuerySchema() string {
	nullableEnum := func(values []string) map[string]interface{} {
		enum := make([]interface{}, 0, len(values)+1)
		for _, v := range values {
			enum = append(enum, v)
		}
		enum = append(enum, nil)
		return map[string]interface{}{"type": []string{"string", "null"}, "enum": enum}
	}
	nullable := func(t string) map[string]interface{} {
		return map[string]interface{}{"type": []string{t, "null"}}
	}
	doc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"enhanced_user_query": map[string]interface{}{"type": "string"},
			"city":                nullableEnum(normalize.Cities),
			"has_balcony":         nullable("boolean"),
			"min_beds":            nullable("integer"),
			"max_price":           nullable("number"),
			"min_baths":           nullable("integer"),
			"min_area":            nullable("number"),
			"property_type":       nullableEnum(normalize.PropertyTypes),
			"room_type":           nullableEnum(normalize.RoomTypes),
		},
		"required": []string{"enhanced_user_query", "city", "has_balcony", "min_beds", "max_price",
			"min_baths", "min_area", "property_type", "room_type"},
		"additionalProperties": false,
	}
	out, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return string(out)
}

func quoted(values []string) string {
	q := make([]string, 0, len(values))
	for _, v := range values {
		q = append(q, "'"+v+"'")
	}
	return "[" + strings.Join(q, ", ") + "]"
}

func userList(prior []string) string {
	if len(prior) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, u := range prior {
		fmt.Fprintf(&b, "%d. %s\n", i+1, u)
	}
	return strings.TrimRight(b.String(), "\n")
}

type contextTurn struct {
	Question    string                  `json:"question"`
	AnsweredBy  string                  `json:"answered_by"`
	Answer      string                  `json:"answer"`
	QueryUsed   string                  `json:"query_used,omitempty"`
	Recommended []conversation.Property `json:"recommended_properties,omitempty"`
}

// TranscriptContext renders the last MaxContextTurns transcript entries as JSON lines
func TranscriptContext(records []conversation.TurnRecord, withProperties bool) string {
	if len(records) == 0 {
		return "(no previous conversation)"
	}
	if len(records) > MaxContextTurns {
		records = records[len(records)-MaxContextTurns:]
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		t := contextTurn{
			Question:   r.Question,
			AnsweredBy: string(r.AnsweredBy),
			Answer:     r.Answer,
			QueryUsed:  r.QueryUsed,
		}
		if withProperties {
			t.Recommended = r.RecommendedProperties
		}
		data, err := json.Marshal(t)
		if err != nil {
			continue
		}
		lines = append(lines, string(data))
	}
	return strings.Join(lines, "\n")
}

func conversationMessages(system, user string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

// ClassifierMessages asks whether the latest utterance belongs to property search
func ClassifierMessages(latest string, prior []string) []llm.Message {
	user := fmt.Sprintf(`Decide whether the user's latest message belongs on a platform that recommends properties for sale.
A message that looks unrelated on its own may still be a follow-up on earlier messages, such as a question about a property shown before.

Answer "valid" for property search requests and for questions about properties already discussed.
Answer "invalid" for anything unrelated to buying real estate, including questions about the assistant itself and any request about renting.

Valid examples:
- Show me villas in South Delhi under 2 crores
- What is the price per square foot of the second one?
- Is there a villa with 5 bedrooms and a garden?
- Which property had the largest area?

Invalid examples:
- Who won the cricket match yesterday?
- Tell me a joke
- Recommend a laptop under 50,000
- Who are you?
- Any 1 BHK for rent in Pune?

Latest message: %s
Earlier messages:
%s`, latest, userList(prior))
	return conversationMessages("You evaluate whether user messages are in scope for a property recommendation assistant.", user)
}

// RouterMessages asks which terminal should answer a valid utterance
func RouterMessages(latest string, transcript []conversation.TurnRecord) []llm.Message {
	user := fmt.Sprintf(`Classify the intent of the user's latest message using the earlier conversation.

- "recommendation": the user wants new or changed property recommendations (different location, budget, size, amenities).
- "discussion": the user asks about properties already shown or wants clarification on earlier results.
- "more": the user wants additional properties like the ones already shown.

Recommendation examples: "Show me villas in South Delhi instead", "Something under 1.5 Cr with 3 BHK", "Now with a garden".
Discussion examples: "What is the price per square foot of the second property?", "Was there a villa with 5 bathrooms?".
More examples: "show me more properties", "is that all you have", "more like these".

Latest message: %s
Earlier conversation (one JSON object per turn):
%s`, latest, TranscriptContext(transcript, false))
	return conversationMessages("You route property assistant messages to the right handler.", user)
}

// GraphRewriteMessages asks for a schema-aligned rewrite of the request.
// hints are deterministic constraints the rewrite must keep.
func GraphRewriteMessages(latest string, prior []string, hints normalize.Hints) []llm.Message {
	constraints := "(none detected)"
	if !hints.Empty() {
		constraints = hints.Constraints()
	}
	user := fmt.Sprintf(`Rewrite the user's request as one short, unambiguous sentence that maps directly onto this property graph:

%s

Rules:
1. Room types are one of %s. Write counts as "2 BHK", "1 RK" and so on.
2. Cities are one of %s. Map misspellings and localities to the nearest city and keep the locality as free text.
3. Property types are one of %s. An apartment is a Flat.
4. Write prices as plain rupee amounts (1 Cr is 10000000, 1 L is 100000).
5. When the user refers to earlier results ("like the one before"), carry the earlier conditions forward.
6. Never put a property name or neighborhood name into the rewrite as an exact value.
7. Anything else is free text about the property description.

These constraints were extracted from the latest message and must appear unchanged:
%s

Examples:
"show me 2 bhk in south delhi under 1 cr" -> "2 BHK Flats in New Delhi priced under 10000000"
"I want a villa in banglore with garden" -> "Villa in Bangalore with a garden"

Reply with the rewritten request only.

Latest message: %s
Earlier messages:
%s`, graphstore.Schema, quoted(normalize.RoomTypes), quoted(normalize.Cities), quoted(normalize.PropertyTypes),
		constraints, latest, userList(prior))
	return conversationMessages("You rewrite property search requests for a graph query generator.", user)
}

// CypherMessages asks for a single read-only Cypher query answering question
func CypherMessages(question string, limit int) []llm.Message {
	user := fmt.Sprintf(`Write one Cypher query for Neo4j answering the request below. Reply with the query only.

Hard rules:
- Start with MATCH and return the property node as p with RETURN p.
- Read only. Never CREATE, MERGE, SET, DELETE, REMOVE or CALL procedures.
- Never filter on p.name.
- Free-text terms go through toLower(p.description) CONTAINS "<keyword>" or toLower(n.name) CONTAINS "<locality>" on a matched Neighborhood n. Parenthesize the free-text group before combining it with other filters.
- City: (p)-[:IN_NEIGHBORHOOD]->(n:Neighborhood)-[:PART_OF]->(c:City {name:"<City>"}) with City one of %s.
- Property type: (p)-[:OF_TYPE]->(pt:PropertyType {name:"<Type>"}) with Type one of %s.
- Room type: (p)-[:HAS_LAYOUT]->(rt:RoomType {name:"<RoomType>"}) and rt.rooms >= <count> when a count is given.
- Numbers only when present: p.price <= max, p.totalArea >= min, p.beds >= min, p.baths >= min.
- Balcony: p.hasBalcony = true when requested.
- End with LIMIT %d.

Schema:
%s

Request: %s`, quoted(normalize.Cities), quoted(normalize.PropertyTypes), limit, graphstore.Schema, question)
	return conversationMessages("You translate property search requests into Cypher.", user)
}

// EnhancerMessages asks for the structured EnhancedQuery of the request
func EnhancerMessages(latest string, prior []string, hints normalize.Hints, prefs *preferences.Preferences) []llm.Message {
	saved := "(none)"
	if prefs != nil {
		saved = prefs.Describe() + "\nUse these to fill details the conversation leaves open. Earlier messages take priority over saved preferences."
	}
	constraints := "(none detected)"
	if !hints.Empty() {
		constraints = hints.Constraints()
	}
	user := fmt.Sprintf(`Turn the user's request into a structured property search. Return every key and use null for anything the user did not specify.

Columns and allowed values:
- enhanced_user_query: a clear rewrite of the request, mentioning the city and "near <locality>" when a locality was named
- city: one of %s
- has_balcony: true or false
- min_beds, min_baths: integers
- max_price: rupees (1 L = 100000, 1 Cr = 10000000)
- min_area: square feet
- property_type: one of %s
- room_type: one of %s ("2 bhk" is room_type BHK with min_beds 2)

Map localities to the nearest allowed city: Gurgaon, Noida, Dwarka, Saket and the rest of NCR are New Delhi; Navi Mumbai is Mumbai; Hinjewadi and Wakad are Pune; Gachibowli and Secunderabad are Hyderabad; Whitefield and Koramangala are Bangalore; Velachery and OMR are Chennai; Salt Lake and New Town are Kolkata.

Constraints extracted from the latest message, keep them:
%s

User's saved preferences:
%s

Example: "Show me 2 bhk in south delhi under 1 cr with balcony" ->
{"enhanced_user_query":"2 BHK Flats in New Delhi priced under 1 crore with a balcony","city":"New Delhi","has_balcony":true,"min_beds":2,"max_price":10000000,"min_baths":null,"min_area":null,"property_type":"Flat","room_type":"BHK"}

Latest message: %s
Earlier messages:
%s`, quoted(normalize.Cities), quoted(normalize.PropertyTypes), quoted(normalize.RoomTypes),
		constraints, saved, latest, userList(prior))
	return conversationMessages("You structure property search requests for a relational search.", user)
}

// SummaryMessages asks for the user-facing recommendation reply. records
// must already be sanitized.
func SummaryMessages(queryUsed string, utterances []string, records []conversation.Property) []llm.Message {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		data = []byte("[]")
	}
	user := fmt.Sprintf(`Summarize these property recommendations for the user.

- Cover every property in a numbered list.
- Emphasize location, type, price, area in sq ft, bedrooms, bathrooms and standout features.
- Never mention identifiers, scores, internal systems, databases or where the data came from.
- Be concise and neutral. If a property only partly matches, explain briefly why it may still be of interest.

Request: %s
Conversation so far:
%s
Properties (already de-duplicated):
%s`, queryUsed, userList(utterances), string(data))
	return conversationMessages("You write one friendly summary of property recommendations without revealing any system or data source details.", user)
}

// DiscussionMessages asks for an answer grounded on properties already shown
func DiscussionMessages(latest string, transcript []conversation.TurnRecord) []llm.Message {
	user := fmt.Sprintf(`Answer the user's question about properties that were already shown.

- Use only details present in the earlier conversation.
- Do not recommend new properties. Compare, explain or elaborate on the existing ones.
- When the question points at a property by position, location or name, use that reference.
- If the question is unclear, ask for clarification.
- Never mention identifiers, scores, internal systems or databases.

Question: %s
Earlier conversation (one JSON object per turn):
%s`, latest, TranscriptContext(transcript, true))
	return conversationMessages("You answer follow-up questions about property recommendations already shown to the user.", user)
}
