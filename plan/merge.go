package plan

import "time"

// Merge combines a freshly generated plan with the previously stored plan for
// the same day. Both inputs must already be normalized.
//
// Every previous item that is completed, skipped, missed, or already past at
// now is preserved unchanged. A preserved item replaces its counterpart in
// next, matched by ID or, failing that, by (time, category). Items in next
// without a preserved counterpart are kept as generated, and preserved items
// with no counterpart are carried over. The result is re-sorted and its
// revision is strictly greater than both inputs.
func Merge(next, prev *Plan, now time.Time) *Plan {
	if next == nil {
		return prev.Clone()
	}
	out := next.Clone()
	if prev == nil || prev.DateKey != next.DateKey {
		out.Revision = next.Revision + 1
		out.UpdatedAt = now
		return out
	}

	preserved := make([]Item, 0, len(prev.Items))
	for _, it := range prev.Items {
		if it.IsTerminal() || isPast(it, now) {
			preserved = append(preserved, it.clone())
		}
	}

	byID := make(map[string]int, len(preserved))
	bySlot := make(map[slotKey][]int, len(preserved))
	for i, it := range preserved {
		byID[it.ID] = i
		k := slotKey{it.Time, it.Category}
		bySlot[k] = append(bySlot[k], i)
	}
	used := make([]bool, len(preserved))

	merged := make([]Item, 0, len(next.Items)+len(preserved))
	for _, it := range next.Items {
		if idx, ok := byID[it.ID]; ok {
			if !used[idx] {
				used[idx] = true
				merged = append(merged, preserved[idx])
			}
			continue
		}
		if idx, ok := firstUnused(bySlot[slotKey{it.Time, it.Category}], used); ok {
			used[idx] = true
			merged = append(merged, preserved[idx])
			continue
		}
		merged = append(merged, it)
	}
	for i, it := range preserved {
		if !used[i] {
			merged = append(merged, it)
		}
	}
	sortItems(merged)

	out.Items = merged
	out.CreatedAt = prev.CreatedAt
	out.Revision = max(prev.Revision, next.Revision) + 1
	out.UpdatedAt = now
	return out
}

type slotKey struct {
	time     string
	category Category
}

func firstUnused(idxs []int, used []bool) (int, bool) {
	for _, i := range idxs {
		if !used[i] {
			return i, true
		}
	}
	return 0, false
}

func isPast(it Item, now time.Time) bool {
	return !it.ScheduledAt.IsZero() && !it.ScheduledAt.After(now)
}
