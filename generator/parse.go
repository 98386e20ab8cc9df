package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viperdam/body-mode-sub006/plan"
)

type rawPlan struct {
	Summary string    `json:"summary"`
	Items   []rawItem `json:"items"`
}

type rawItem struct {
	Time        string `json:"time"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// parsePlan reads a plan from model output. Output may wrap the JSON in a
// fenced block or surround it with prose.
func parsePlan(content, dateKey string) (*plan.Plan, error) {
	body := extractJSON(content)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidPlan)
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v (content: %s)", ErrInvalidPlan, err, body[:min(200, len(body))])
	}
	if len(raw.Items) == 0 {
		return nil, fmt.Errorf("%w: plan has no items", ErrInvalidPlan)
	}

	p := &plan.Plan{
		DateKey: dateKey,
		Summary: strings.TrimSpace(raw.Summary),
		Items:   make([]plan.Item, 0, len(raw.Items)),
	}
	for _, it := range raw.Items {
		category := it.Category
		if category == "" {
			category = it.Type
		}
		p.Items = append(p.Items, plan.Item{
			Time:        strings.TrimSpace(it.Time),
			Category:    plan.ParseCategory(strings.ToLower(strings.TrimSpace(category))),
			Title:       it.Title,
			Description: strings.TrimSpace(it.Description),
		})
	}
	return p, nil
}

// extractJSON returns the first balanced JSON object in s, preferring the
// contents of a fenced code block when one is present.
func extractJSON(s string) string {
	if start := strings.Index(s, "```"); start >= 0 {
		rest := s[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			if obj := firstObject(rest[:end]); obj != "" {
				return obj
			}
		}
	}
	return firstObject(s)
}

func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
