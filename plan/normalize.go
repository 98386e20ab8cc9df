package plan

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// Options controls how plans are resolved onto the timeline.
type Options struct {
	// DayStartOffset shifts the business day start away from midnight.
	DayStartOffset time.Duration
	// Location is the user's time zone. Nil means time.Local.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// StableID derives an item ID from its identifying fields. Identical input
// always yields the same ID, so regenerating a plan does not duplicate items
// the user already acted on.
func StableID(dateKey, clock string, category Category, title string, position int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", dateKey, clock, category, strings.ToLower(strings.TrimSpace(title)), position)
	return fmt.Sprintf("item-%016x", h.Sum64())
}

// Normalize canonicalizes a raw plan: it drops items with invalid times,
// zero-pads times, fills missing IDs, resolves each item onto the timeline,
// enforces mutually exclusive terminal flags, and sorts items by schedule.
// The input is not modified. The returned count is the number of dropped items.
func Normalize(p *Plan, opts Options) (*Plan, int, error) {
	if p == nil {
		return nil, 0, fmt.Errorf("normalize: nil plan")
	}
	loc := opts.location()
	if _, err := ParseDayKey(p.DateKey, loc); err != nil {
		return nil, 0, fmt.Errorf("normalize: %w", err)
	}

	out := p.Clone()
	out.SchemaVersion = SchemaVersion
	out.Items = make([]Item, 0, len(p.Items))

	dropped := 0
	for pos, raw := range p.Items {
		it := raw.clone()
		hour, minute, err := ParseClock(it.Time)
		if err != nil {
			dropped++
			continue
		}
		it.Time = FormatClock(hour, minute)
		if !it.Category.IsValid() {
			it.Category = CategoryBreak
		}
		it.Title = strings.TrimSpace(it.Title)
		if it.ID == "" {
			it.ID = StableID(p.DateKey, it.Time, it.Category, it.Title, pos)
		}
		at, err := ScheduledAt(p.DateKey, it.Time, opts.DayStartOffset, loc)
		if err != nil {
			dropped++
			continue
		}
		it.ScheduledAt = at
		exclusiveFlags(&it)
		out.Items = append(out.Items, it)
	}

	sortItems(out.Items)
	return out, dropped, nil
}

// exclusiveFlags keeps at most one terminal flag, preferring completed over
// skipped over missed.
func exclusiveFlags(it *Item) {
	switch {
	case it.Completed:
		it.Skipped, it.SkippedAt = false, nil
		it.Missed, it.MissedAt = false, nil
	case it.Skipped:
		it.Missed, it.MissedAt = false, nil
	}
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.ScheduledAt.IsZero() && !b.ScheduledAt.IsZero() && !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.Time < b.Time
	})
}
