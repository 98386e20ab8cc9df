// Package plan defines the daily plan data model and the pure operations
// over it: day addressing, normalization, merging, item state commands,
// and the deterministic fallback template.
package plan

import (
	"errors"
	"time"
)

// SchemaVersion is written into every persisted plan.
const SchemaVersion = 1

// Sentinel errors for plan operations.
var (
	ErrItemNotFound  = errors.New("plan item not found")
	ErrInvalidTime   = errors.New("invalid time of day: expected HH:MM")
	ErrInvalidDayKey = errors.New("invalid day key: expected YYYY-MM-DD")
	ErrAlreadyFinal  = errors.New("plan item already has a terminal state")
)

// Category is the kind of activity a plan item schedules.
type Category string

const (
	CategoryMeal      Category = "meal"
	CategoryHydration Category = "hydration"
	CategoryActivity  Category = "activity"
	CategorySleep     Category = "sleep"
	CategoryBreak     Category = "break"
)

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryMeal, CategoryHydration, CategoryActivity, CategorySleep, CategoryBreak:
		return true
	}
	return false
}

// ParseCategory converts a string to a Category, returning empty for unknown values.
func ParseCategory(s string) Category {
	c := Category(s)
	if c.IsValid() {
		return c
	}
	return ""
}

// Source records how a plan was produced.
type Source string

const (
	// SourceCloud is a plan produced by a foreground generation call.
	SourceCloud Source = "cloud"
	// SourceCloudRetry is a plan produced by a retry, or the temporary
	// fallback that stands in until that retry succeeds.
	SourceCloudRetry Source = "cloud_retry"
	// SourceFallback is a locally constructed plan with no pending retry.
	SourceFallback Source = "fallback"
)

// Item is a single scheduled entry in a plan.
type Item struct {
	ID          string    `json:"id"`
	Time        string    `json:"time"` // HH:MM, day-local
	Category    Category  `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`

	Completed   bool       `json:"completed,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Skipped     bool       `json:"skipped,omitempty"`
	SkippedAt   *time.Time `json:"skipped_at,omitempty"`
	Missed      bool       `json:"missed,omitempty"`
	MissedAt    *time.Time `json:"missed_at,omitempty"`
}

// IsTerminal reports whether any terminal flag is set.
func (i *Item) IsTerminal() bool {
	return i.Completed || i.Skipped || i.Missed
}

// Plan is the generated schedule for one active day.
type Plan struct {
	SchemaVersion int       `json:"schema_version"`
	DateKey       string    `json:"date_key"`
	Items         []Item    `json:"items"`
	Summary       string    `json:"summary,omitempty"`
	Source        Source    `json:"source"`
	IsTemporary   bool      `json:"is_temporary"`
	Tier          string    `json:"tier,omitempty"`
	Language      string    `json:"language,omitempty"`
	Revision      int64     `json:"revision"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	GeneratedAt   time.Time `json:"generated_at,omitzero"`
}

// HasItems reports whether p is non-nil and has at least one item.
func (p *Plan) HasItems() bool {
	return p != nil && len(p.Items) > 0
}

// IsFallback reports whether p is a locally constructed stand-in plan.
func (p *Plan) IsFallback() bool {
	if p == nil {
		return false
	}
	return p.IsTemporary || p.Source == SourceFallback
}

// Clone returns a deep copy of p.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Items = make([]Item, len(p.Items))
	for i, it := range p.Items {
		cp.Items[i] = it.clone()
	}
	return &cp
}

// Item returns a pointer to the item with id, or nil.
func (p *Plan) Item(id string) *Item {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i]
		}
	}
	return nil
}

// Touch bumps the revision and update timestamp. Revisions only increase.
func (p *Plan) Touch(now time.Time) {
	p.Revision++
	p.UpdatedAt = now
}

func (i Item) clone() Item {
	cp := i
	cp.CompletedAt = copyTime(i.CompletedAt)
	cp.SkippedAt = copyTime(i.SkippedAt)
	cp.MissedAt = copyTime(i.MissedAt)
	return cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
