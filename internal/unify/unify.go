// Package unify merges the per-backend retrieval batches into one ordered
// recommendation set and strips storage fields before synthesis.
package unify

import (
	"sort"

	"github.com/propadvisor/orchestrator/internal/conversation"
)

// Fields removed before records reach the synthesizer or the transcript
var hiddenFields = map[string]struct{}{
	"id":    {},
	"score": {},
}

// Result is the merged view of one turn's retrieval
type Result struct {
	Properties []conversation.Property `json:"properties"`
	// IDs is parallel to Properties
	IDs     []string `json:"ids"`
	Overlap int      `json:"overlap"`
	OnlyA   int      `json:"only_a"`
	OnlyB   int      `json:"only_b"`
}

// Empty reports whether neither batch produced a record
func (r Result) Empty() bool {
	return len(r.Properties) == 0
}

// Merge unifies batch a (relational) and batch b (graph). Ids present in both
// come first, then ids only in a, then ids only in b, each group sorted
// ascending. For a shared id the record from a is kept. Records without an
// id are ignored; within one batch the first record for an id wins.
func Merge(a, b []conversation.Property) Result {
	byA := index(a)
	byB := index(b)

	var both, onlyA, onlyB []string
	for id := range byA {
		if _, ok := byB[id]; ok {
			both = append(both, id)
		} else {
			onlyA = append(onlyA, id)
		}
	}
	for id := range byB {
		if _, ok := byA[id]; !ok {
			onlyB = append(onlyB, id)
		}
	}
	sort.Strings(both)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	res := Result{
		Overlap: len(both),
		OnlyA:   len(onlyA),
		OnlyB:   len(onlyB),
	}
	res.IDs = make([]string, 0, len(both)+len(onlyA)+len(onlyB))
	res.IDs = append(res.IDs, both...)
	res.IDs = append(res.IDs, onlyA...)
	res.IDs = append(res.IDs, onlyB...)

	res.Properties = make([]conversation.Property, 0, len(res.IDs))
	for _, id := range res.IDs {
		if p, ok := byA[id]; ok {
			res.Properties = append(res.Properties, p)
			continue
		}
		res.Properties = append(res.Properties, byB[id])
	}
	return res
}

// Sanitize returns copies of records without the hidden fields. Nested maps
// (graph rows shaped as {"p": {...}}) are cleaned as well.
func Sanitize(records []conversation.Property) []conversation.Property {
	out := make([]conversation.Property, 0, len(records))
	for _, r := range records {
		out = append(out, conversation.Property(clean(r)))
	}
	return out
}

func clean(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if _, hidden := hiddenFields[k]; hidden {
			continue
		}
		out[k] = cleanValue(v)
	}
	return out
}

func cleanValue(v interface{}) interface{} {
	switch nested := v.(type) {
	case map[string]interface{}:
		return clean(nested)
	case conversation.Property:
		return clean(nested)
	case []interface{}:
		items := make([]interface{}, len(nested))
		for i, item := range nested {
			items[i] = cleanValue(item)
		}
		return items
	case []map[string]interface{}:
		items := make([]interface{}, len(nested))
		for i, item := range nested {
			items[i] = clean(item)
		}
		return items
	default:
		return v
	}
}

func index(batch []conversation.Property) map[string]conversation.Property {
	m := make(map[string]conversation.Property, len(batch))
	for _, p := range batch {
		id := p.ID()
		if id == "" {
			continue
		}
		if _, dup := m[id]; dup {
			continue
		}
		m[id] = p
	}
	return m
}
