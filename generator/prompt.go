package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viperdam/body-mode-sub006/model"
	"github.com/viperdam/body-mode-sub006/plan"
)

const systemPrompt = `You are a health coach writing a one-day plan.

## Output Format

Respond with a single JSON object:

` + "```json" + `
{
  "summary": "One or two sentences about the day",
  "items": [
    {"time": "07:30", "category": "meal", "title": "Breakfast", "description": "..."}
  ]
}
` + "```" + `

## Rules

- time is 24-hour HH:MM in the user's local day
- category is one of meal, hydration, activity, sleep, break
- keep completed or skipped items from the previous plan at the same time
- respect the calorie, protein, water and activity targets
- do not give medical advice`

const degradedAddendum = `

Keep the plan compact: at most eight items and one-line descriptions.`

// promptPayload is the user message body.
type promptPayload struct {
	DateKey     string           `json:"date_key"`
	Language    string           `json:"language,omitempty"`
	Profile     any              `json:"profile,omitempty"`
	History     []plan.Adherence `json:"recent_adherence,omitempty"`
	Environment map[string]any   `json:"environment,omitempty"`
	Previous    []previousItem   `json:"previous_items,omitempty"`
}

type previousItem struct {
	Time     string `json:"time"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
}

func buildSystemPrompt(gc Context) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if gc.Tier == model.TierDegraded {
		sb.WriteString(degradedAddendum)
	}
	if gc.Language != "" && gc.Language != "en" {
		fmt.Fprintf(&sb, "\n\nWrite titles, descriptions and summary in language %q.", gc.Language)
	}
	return sb.String()
}

func buildUserPrompt(gc Context) (string, error) {
	payload := promptPayload{
		DateKey:     gc.DateKey,
		Language:    gc.Language,
		History:     gc.History,
		Environment: gc.Environment,
	}
	if gc.Profile != nil {
		payload.Profile = gc.Profile
	}
	if gc.PreviousPlan != nil {
		for _, it := range gc.PreviousPlan.Items {
			payload.Previous = append(payload.Previous, previousItem{
				Time:     it.Time,
				Category: string(it.Category),
				Title:    it.Title,
				Status:   itemStatus(it),
			})
		}
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal prompt payload: %w", err)
	}
	return "Plan this day for me.\n\n```json\n" + string(data) + "\n```", nil
}

func itemStatus(it plan.Item) string {
	switch {
	case it.Completed:
		return "completed"
	case it.Skipped:
		return "skipped"
	case it.Missed:
		return "missed"
	}
	return ""
}

func formatCorrectionPrompt(err error) string {
	return fmt.Sprintf(
		"Your response could not be used. Error: %s\n\n"+
			"Respond with ONLY a JSON object with a \"summary\" string and an \"items\" array "+
			"where every item has \"time\" (HH:MM), \"category\", \"title\" and \"description\".",
		err.Error(),
	)
}
