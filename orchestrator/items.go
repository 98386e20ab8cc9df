package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/plan"
)

// GetTodaysPlan returns the plan for the active day, or nil.
func (o *Orchestrator) GetTodaysPlan(ctx context.Context) (*plan.Plan, error) {
	return o.loadPlan(ctx, o.Today())
}

// GetPendingGeneration returns today's pending record, or nil. A record left
// over from another day is removed.
func (o *Orchestrator) GetPendingGeneration(ctx context.Context) (*plan.PendingGeneration, error) {
	return o.loadPending(ctx, o.Today())
}

// RetryPendingGeneration reruns generation with the trigger of the pending
// record. Without one it reports SKIPPED with today's plan.
func (o *Orchestrator) RetryPendingGeneration(ctx context.Context) GenerationResult {
	dateKey := o.Today()
	pending, err := o.loadPending(ctx, dateKey)
	if err != nil {
		return o.unexpected(ctx, plan.TriggerManual, dateKey, err)
	}
	if pending == nil {
		current, _ := o.loadPlan(ctx, dateKey)
		return GenerationResult{
			Status:  StatusSkipped,
			Plan:    current,
			Message: "nothing pending",
			Trigger: plan.TriggerManual,
			DateKey: dateKey,
		}
	}
	trigger := pending.Trigger
	if !trigger.IsValid() {
		trigger = plan.TriggerManual
	}
	return o.GenerateTodayPlan(ctx, trigger)
}

// CompleteItem marks an item of today's plan completed.
func (o *Orchestrator) CompleteItem(ctx context.Context, id string) (*plan.Plan, error) {
	return o.mutateToday(ctx, "complete item", func(p *plan.Plan, now time.Time) error {
		return p.MarkCompleted(id, now)
	})
}

// SkipItem marks an item of today's plan skipped.
func (o *Orchestrator) SkipItem(ctx context.Context, id string) (*plan.Plan, error) {
	return o.mutateToday(ctx, "skip item", func(p *plan.Plan, now time.Time) error {
		return p.MarkSkipped(id, now)
	})
}

// UndoItem clears the terminal state of an item of today's plan.
func (o *Orchestrator) UndoItem(ctx context.Context, id string) (*plan.Plan, error) {
	return o.mutateToday(ctx, "undo item", func(p *plan.Plan, now time.Time) error {
		return p.Undo(id, now)
	})
}

// MarkPastDueMissed flags every untouched item whose time has passed as
// missed and returns how many changed. A day without a plan is not an error.
func (o *Orchestrator) MarkPastDueMissed(ctx context.Context) (int, error) {
	o.planMu.Lock()
	defer o.planMu.Unlock()

	dateKey := o.Today()
	p, err := o.loadPlan(ctx, dateKey)
	if err != nil || p == nil {
		return 0, err
	}
	n := p.MarkPastDueMissed(o.clock.Now())
	if n == 0 {
		return 0, nil
	}
	if err := o.plans.Save(ctx, p); err != nil {
		return 0, fmt.Errorf("mark past due: %w", err)
	}
	o.logger.Info("Marked past due items missed", "date_key", dateKey, "count", n)
	o.emit(ctx, events.PlanUpdated, dateKey, func(e *events.Event) { e.Plan = p })
	return n, nil
}

// mutateToday applies fn to today's plan, saves it, and emits PLAN_UPDATED.
func (o *Orchestrator) mutateToday(ctx context.Context, op string, fn func(p *plan.Plan, now time.Time) error) (*plan.Plan, error) {
	o.planMu.Lock()
	defer o.planMu.Unlock()

	dateKey := o.Today()
	p, err := o.plans.Get(ctx, dateKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := o.clock.Now()
	if err := fn(p, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := o.plans.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	o.emit(ctx, events.PlanUpdated, dateKey, func(e *events.Event) { e.Plan = p })
	return p, nil
}
