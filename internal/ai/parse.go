package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseDecision extracts a Decision from a raw model response. Models wrap
// JSON in prose and code fences often enough that we strip those first and
// run the jsonrepair library as a fallback before giving up.
func ParseDecision(raw string) (*Decision, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object in provider response")
	}

	var d Decision
	if err := json.Unmarshal([]byte(candidate), &d); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, fmt.Errorf("failed to parse provider response: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &d); err != nil {
			return nil, fmt.Errorf("failed to parse repaired provider response: %w", err)
		}
	}

	d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	if !d.Action.IsValid() {
		return nil, fmt.Errorf("provider returned unknown action %q", d.Action)
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 100 {
		d.Confidence = 100
	}
	return &d, nil
}

// extractJSON pulls the JSON object out of a response that may carry code
// fences or surrounding prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}
