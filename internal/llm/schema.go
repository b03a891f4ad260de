package llm

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// LabelSchema is an object with one required string field restricted to values
func LabelSchema(name, field string, values []string) Schema {
	return Schema{
		Name: name,
		Definition: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				field: {
					Type: jsonschema.String,
					Enum: values,
				},
			},
			Required:             []string{field},
			AdditionalProperties: false,
		},
	}
}

// RawSchema wraps a hand-written JSON schema document
func RawSchema(name string, doc string) Schema {
	return Schema{Name: name, Definition: json.RawMessage(doc)}
}
