package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPIHandler serves the OpenAPI specification
type OpenAPIHandler struct {
	spec map[string]interface{}
}

// NewOpenAPIHandler creates a new OpenAPI handler
func NewOpenAPIHandler() *OpenAPIHandler {
	return &OpenAPIHandler{spec: generateOpenAPISpec()}
}

// ServeSpec handles GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(h.spec)
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func jsonBody(schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func operation(summary string, responses map[string]string, schema string) map[string]interface{} {
	out := map[string]interface{}{}
	for code, desc := range responses {
		r := map[string]interface{}{"description": desc}
		if code == "200" && schema != "" {
			r = jsonBody(ref(schema))
			r["description"] = desc
		}
		out[code] = r
	}
	return map[string]interface{}{"summary": summary, "responses": out}
}

func pathParam(name string) map[string]interface{} {
	return map[string]interface{}{
		"name": name, "in": "path", "required": true,
		"schema": map[string]interface{}{"type": "string"},
	}
}

func object(props map[string]string, required ...string) map[string]interface{} {
	p := map[string]interface{}{}
	for name, typ := range props {
		p[name] = map[string]interface{}{"type": typ}
	}
	out := map[string]interface{}{"type": "object", "properties": p}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// generateOpenAPISpec creates the OpenAPI 3.0 specification
func generateOpenAPISpec() map[string]interface{} {
	turn := operation("Send one message in a conversation", map[string]string{
		"200": "Turn completed",
		"400": "Invalid request",
		"409": "Another turn in this conversation is running",
		"429": "Rate limit exceeded",
		"502": "Turn failed",
	}, "TurnResponse")
	turn["requestBody"] = jsonBody(ref("TurnRequest"))

	seed := operation("Start a conversation from stored preferences", map[string]string{
		"200": "Turn completed",
		"502": "Turn failed",
	}, "TurnResponse")
	seed["parameters"] = []interface{}{pathParam("userId")}

	history := operation("Conversation transcript", map[string]string{
		"200": "Transcript",
		"404": "Conversation not found",
	}, "HistoryResponse")
	history["parameters"] = []interface{}{pathParam("id")}

	getPrefs := operation("Stored preferences", map[string]string{
		"200": "Preferences",
		"404": "No preferences stored",
	}, "Preferences")
	getPrefs["parameters"] = []interface{}{pathParam("userId")}

	putPrefs := operation("Replace stored preferences", map[string]string{
		"200": "Stored preferences",
		"400": "Out of range",
	}, "Preferences")
	putPrefs["parameters"] = []interface{}{pathParam("userId")}
	putPrefs["requestBody"] = jsonBody(ref("Preferences"))

	convs := operation("Conversation ids owned by a user, newest first", map[string]string{
		"200": "Conversation ids",
	}, "")
	convs["parameters"] = []interface{}{pathParam("userId")}

	return map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Property Advisor Gateway API",
			"version":     "0.1.0",
			"description": "Conversational property recommendations",
		},
		"paths": map[string]interface{}{
			"/health":                              map[string]interface{}{"get": operation("Liveness", map[string]string{"200": "Gateway is up"}, "")},
			"/readiness":                           map[string]interface{}{"get": operation("Readiness", map[string]string{"200": "Ready", "503": "A dependency is down"}, "")},
			"/api/v1/conversations/turn":           map[string]interface{}{"post": turn},
			"/api/v1/conversations/{id}/history":   map[string]interface{}{"get": history},
			"/api/v1/users/{userId}/seed":          map[string]interface{}{"post": seed},
			"/api/v1/users/{userId}/preferences":   map[string]interface{}{"get": getPrefs, "put": putPrefs},
			"/api/v1/users/{userId}/conversations": map[string]interface{}{"get": convs},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"TurnRequest": object(map[string]string{
					"utterance":       "string",
					"conversation_id": "string",
					"user_id":         "string",
				}, "utterance", "user_id"),
				"TurnResponse": object(map[string]string{
					"conversation_id":        "string",
					"answer":                 "string",
					"answered_by":            "string",
					"recommended_properties": "array",
					"degraded_backends":      "array",
					"state":                  "object",
				}),
				"HistoryResponse": object(map[string]string{
					"conversation_id": "string",
					"user_id":         "string",
					"transcript":      "array",
					"utterances":      "array",
				}),
				"Preferences": object(map[string]string{
					"min_price":        "integer",
					"max_price":        "integer",
					"min_area":         "integer",
					"max_area":         "integer",
					"preferred_cities": "array",
				}, "min_price", "max_price", "min_area", "max_area"),
			},
		},
	}
}
