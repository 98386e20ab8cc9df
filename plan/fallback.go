package plan

import (
	"fmt"
	"time"
)

type templateItem struct {
	time        string
	category    Category
	title       string
	description string
}

// fallbackTemplate is the fixed six-item day used whenever generation cannot complete.
var fallbackTemplate = []templateItem{
	{"07:30", CategoryMeal, "Breakfast", "A balanced breakfast with protein and fiber."},
	{"10:00", CategoryHydration, "Mid-morning hydration", "Drink a large glass of water."},
	{"12:30", CategoryMeal, "Lunch", "Lean protein, vegetables, and whole grains."},
	{"17:30", CategoryActivity, "Workout", "30 minutes of moderate activity."},
	{"19:00", CategoryMeal, "Dinner", "A light dinner, finished a few hours before bed."},
	{"22:00", CategorySleep, "Wind down", "Screens off and prepare for sleep."},
}

// FallbackItemCount is the number of items in every fallback plan.
var FallbackItemCount = len(fallbackTemplate)

// Fallback builds the deterministic temporary plan for a day. Two calls with
// the same key and options produce identical items.
func Fallback(dateKey string, opts Options, now time.Time) (*Plan, error) {
	p := &Plan{
		SchemaVersion: SchemaVersion,
		DateKey:       dateKey,
		Summary:       "Your full plan is on its way. Here is a simple day to start with.",
		Source:        SourceCloudRetry,
		IsTemporary:   true,
		Items:         make([]Item, 0, len(fallbackTemplate)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for pos, t := range fallbackTemplate {
		p.Items = append(p.Items, Item{
			ID:          StableID(dateKey, t.time, t.category, t.title, pos),
			Time:        t.time,
			Category:    t.category,
			Title:       t.title,
			Description: t.description,
		})
	}
	out, _, err := Normalize(p, opts)
	if err != nil {
		return nil, fmt.Errorf("build fallback plan: %w", err)
	}
	out.Revision = 1
	return out, nil
}
