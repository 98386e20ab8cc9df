package plan

import (
	"fmt"
	"time"
)

// MarkCompleted sets the completed flag on an item.
func (p *Plan) MarkCompleted(id string, at time.Time) error {
	return p.setTerminal(id, at, func(it *Item, t *time.Time) {
		it.Completed, it.CompletedAt = true, t
	})
}

// MarkSkipped sets the skipped flag on an item.
func (p *Plan) MarkSkipped(id string, at time.Time) error {
	return p.setTerminal(id, at, func(it *Item, t *time.Time) {
		it.Skipped, it.SkippedAt = true, t
	})
}

// MarkMissed sets the missed flag on an item.
func (p *Plan) MarkMissed(id string, at time.Time) error {
	return p.setTerminal(id, at, func(it *Item, t *time.Time) {
		it.Missed, it.MissedAt = true, t
	})
}

// Undo clears every terminal flag on an item. It is the only operation that
// may do so.
func (p *Plan) Undo(id string, at time.Time) error {
	it := p.Item(id)
	if it == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	it.Completed, it.CompletedAt = false, nil
	it.Skipped, it.SkippedAt = false, nil
	it.Missed, it.MissedAt = false, nil
	p.Touch(at)
	return nil
}

// MarkPastDueMissed flags every non-terminal item scheduled before now as
// missed and returns how many items changed.
func (p *Plan) MarkPastDueMissed(now time.Time) int {
	n := 0
	for i := range p.Items {
		it := &p.Items[i]
		if it.IsTerminal() || !isPast(*it, now) {
			continue
		}
		t := now
		it.Missed, it.MissedAt = true, &t
		n++
	}
	if n > 0 {
		p.Touch(now)
	}
	return n
}

func (p *Plan) setTerminal(id string, at time.Time, set func(*Item, *time.Time)) error {
	it := p.Item(id)
	if it == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if it.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyFinal, id)
	}
	t := at
	set(it, &t)
	p.Touch(at)
	return nil
}
