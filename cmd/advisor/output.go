package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/propadvisor/orchestrator/cmd/advisor/internal/client"
	"github.com/propadvisor/orchestrator/internal/conversation"
	"github.com/propadvisor/orchestrator/internal/preferences"
)

// printer renders gateway replies as text, JSON or YAML
type printer struct {
	w      io.Writer
	format string
}

func (p *printer) structured(v interface{}) (bool, error) {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func (p *printer) turn(t *client.TurnResponse) error {
	if done, err := p.structured(t); done {
		return err
	}
	fmt.Fprintf(p.w, "[%s] %s\n", t.ConversationID, t.Answer)
	for i, prop := range t.RecommendedProperties {
		fmt.Fprintf(p.w, "  %d. %s\n", i+1, describe(prop))
	}
	if len(t.DegradedBackends) > 0 {
		fmt.Fprintf(p.w, "  (partial results: %s unavailable)\n", strings.Join(t.DegradedBackends, ", "))
	}
	return nil
}

func (p *printer) history(h *client.History) error {
	if done, err := p.structured(h); done {
		return err
	}
	fmt.Fprintf(p.w, "conversation %s (user %s)\n", h.ConversationID, h.UserID)
	for _, rec := range h.Transcript {
		fmt.Fprintf(p.w, "\nyou: %s\n%s: %s\n", rec.Question, rec.AnsweredBy, rec.Answer)
		for i, prop := range rec.RecommendedProperties {
			fmt.Fprintf(p.w, "  %d. %s\n", i+1, describe(prop))
		}
	}
	return nil
}

func (p *printer) conversations(c *client.Conversations) error {
	if done, err := p.structured(c); done {
		return err
	}
	for _, id := range c.ConversationIDs {
		fmt.Fprintln(p.w, id)
	}
	return nil
}

func (p *printer) preferences(prefs *preferences.Preferences) error {
	if done, err := p.structured(prefs); done {
		return err
	}
	fmt.Fprintf(p.w, "price: %d - %d\narea:  %d - %d sq ft\n", prefs.MinPrice, prefs.MaxPrice, prefs.MinArea, prefs.MaxArea)
	if len(prefs.PreferredCities) > 0 {
		fmt.Fprintf(p.w, "cities: %s\n", strings.Join(prefs.PreferredCities, ", "))
	}
	return nil
}

func (p *printer) seed(s *seedResult) error {
	if done, err := p.structured(s); done {
		return err
	}
	if s.Preferences == nil {
		fmt.Fprintln(p.w, "no stored preferences; opened a generic conversation")
	}
	return p.turn(s.Turn)
}

// describe renders the fields a buyer scans first
func describe(prop conversation.Property) string {
	var parts []string
	for _, key := range []string{"name", "cityName", "room_type", "property_type"} {
		if v, ok := prop[key]; ok && v != nil && fmt.Sprint(v) != "" {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	if v, ok := prop["price"]; ok {
		parts = append(parts, "Rs "+number(v))
	}
	if v, ok := prop["totalArea"]; ok {
		parts = append(parts, number(v)+" sq ft")
	}
	if len(parts) == 0 {
		if id, ok := prop["id"]; ok {
			return fmt.Sprint(id)
		}
		return "(unnamed property)"
	}
	return strings.Join(parts, " | ")
}

// number avoids exponent notation for the large floats JSON decoding yields
func number(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
