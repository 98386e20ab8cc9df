package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/retryqueue"
)

const exhaustedMessage = "We couldn't build today's plan. Open the app to try again."

// retryable reports whether a reason warrants a background retry.
func retryable(r plan.Reason) bool {
	switch r {
	case plan.ReasonOffline, plan.ReasonLLMError, plan.ReasonRateLimited:
		return true
	}
	return false
}

func (o *Orchestrator) handleRateLimited(ctx context.Context, a *attempt, wait time.Duration) GenerationResult {
	a.retryAfter = wait
	secs := int(wait.Round(time.Second).Seconds())
	msg := "The plan service is busy. We'll try again shortly."
	if secs > 0 {
		msg = fmt.Sprintf("The plan service is busy. We'll try again in %d seconds.", secs)
	}
	return o.handleFailure(ctx, a, plan.ReasonRateLimited, msg)
}

// handleFailure records a pending generation, guarantees a plan exists for
// the day, and shapes the result for the trigger. Background triggers stay
// silent; foreground triggers get the fallback plan as a SUCCESS.
func (o *Orchestrator) handleFailure(ctx context.Context, a *attempt, reason plan.Reason, message string) GenerationResult {
	count, err := o.recordPending(ctx, a.trigger, a.dateKey, reason)
	if err != nil {
		o.logger.Warn("Failed to save pending generation",
			"date_key", a.dateKey,
			"reason", reason,
			"error", err)
	}
	o.logger.Info("Plan generation deferred",
		"trigger", a.trigger,
		"date_key", a.dateKey,
		"reason", reason,
		"retry_count", count)

	if reason == plan.ReasonLLMError && count >= o.cfg.MaxLLMRetries {
		return o.terminal(ctx, a.trigger, a.dateKey, reason, count)
	}

	fallback, err := o.ensureFallback(ctx, a.dateKey)
	if err != nil {
		return o.unexpected(ctx, a.trigger, a.dateKey, err)
	}

	if a.trigger.IsBackground() {
		return GenerationResult{
			Status:    StatusPending,
			Plan:      fallback,
			Reason:    reason,
			Message:   message,
			IsOffline: reason == plan.ReasonOffline,
			Trigger:   a.trigger,
			DateKey:   a.dateKey,
		}
	}

	if retryable(reason) && o.deps.Retry != nil && a.gc != nil {
		if _, err := o.deps.Retry.Enqueue(ctx, retryqueue.EnqueueRequest{
			Trigger:    a.trigger,
			Reason:     reason,
			Context:    *a.gc,
			RetryAfter: a.retryAfter,
		}); err != nil {
			o.logger.Warn("Failed to queue plan retry", "date_key", a.dateKey, "error", err)
		}
	}

	name := events.PlanUpdated
	if reason == plan.ReasonLowEnergy {
		name = events.EnergyLow
	}
	o.emit(ctx, name, a.dateKey, func(e *events.Event) {
		e.Trigger = a.trigger
		e.Reason = reason
		e.Message = message
		e.Plan = fallback
	})

	return GenerationResult{
		Status:    StatusSuccess,
		Plan:      fallback,
		Reason:    reason,
		Message:   message,
		IsOffline: reason == plan.ReasonOffline,
		Trigger:   a.trigger,
		DateKey:   a.dateKey,
	}
}

// recordPending upserts the pending record and returns its retry count.
// Only LLM errors advance the count; a same-day record keeps its count.
func (o *Orchestrator) recordPending(ctx context.Context, trigger plan.Trigger, dateKey string, reason plan.Reason) (int, error) {
	prev, err := o.loadPending(ctx, dateKey)
	if err != nil {
		return 0, err
	}
	count := 0
	if prev != nil {
		count = prev.RetryCount
	}
	if reason == plan.ReasonLLMError {
		count++
	}
	rec := &plan.PendingGeneration{
		SchemaVersion: plan.SchemaVersion,
		Trigger:       trigger,
		Reason:        reason,
		DateKey:       dateKey,
		Timestamp:     o.clock.Now(),
		RetryCount:    count,
	}
	if err := o.pending.Save(ctx, rec); err != nil {
		return count, err
	}
	return count, nil
}

// terminal gives up on the day: the pending record and retry slot are
// dropped, the user is notified, and the fallback stays in place.
func (o *Orchestrator) terminal(ctx context.Context, trigger plan.Trigger, dateKey string, reason plan.Reason, attempts int) GenerationResult {
	o.logger.Warn("Plan generation failed permanently",
		"trigger", trigger,
		"date_key", dateKey,
		"attempts", attempts)

	if _, err := o.pending.Clear(ctx); err != nil {
		o.logger.Warn("Failed to clear pending generation", "date_key", dateKey, "error", err)
	}
	if o.deps.Retry != nil {
		if err := o.deps.Retry.Cancel(ctx); err != nil {
			o.logger.Warn("Failed to cancel plan retry", "date_key", dateKey, "error", err)
		}
	}
	if o.deps.Notifier != nil {
		notice := events.FailureNotice{
			DateKey:  dateKey,
			Trigger:  trigger,
			Reason:   reason,
			Attempts: attempts,
			Message:  exhaustedMessage,
		}
		if err := o.deps.Notifier.ScheduleFailureNotice(ctx, notice); err != nil {
			o.logger.Warn("Failed to schedule failure notice", "date_key", dateKey, "error", err)
		}
	}

	fallback, err := o.ensureFallback(ctx, dateKey)
	if err != nil {
		o.logger.Error("Failed to save fallback plan", "date_key", dateKey, "error", err)
	}
	o.emit(ctx, events.PlanGenerationFailed, dateKey, func(e *events.Event) {
		e.Trigger = trigger
		e.Reason = reason
		e.Message = exhaustedMessage
		e.Plan = fallback
	})
	return GenerationResult{
		Status:  StatusFailed,
		Plan:    fallback,
		Reason:  reason,
		Message: exhaustedMessage,
		Trigger: trigger,
		DateKey: dateKey,
	}
}

// ensureFallback keeps the stored plan when it has items, or persists the
// deterministic fallback for the day.
func (o *Orchestrator) ensureFallback(ctx context.Context, dateKey string) (*plan.Plan, error) {
	o.planMu.Lock()
	defer o.planMu.Unlock()

	stored, err := o.loadPlan(ctx, dateKey)
	if err != nil {
		return nil, err
	}
	if stored.HasItems() {
		return stored, nil
	}
	fb, err := plan.Fallback(dateKey, o.planOptions(), o.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := o.plans.Save(ctx, fb); err != nil {
		return nil, fmt.Errorf("save fallback plan: %w", err)
	}
	o.logger.Info("Saved fallback plan", "date_key", dateKey, "items", len(fb.Items))
	return fb, nil
}

// unexpected turns an error the pipeline cannot classify into FAILED.
func (o *Orchestrator) unexpected(ctx context.Context, trigger plan.Trigger, dateKey string, err error) GenerationResult {
	o.logger.Error("Plan generation failed unexpectedly",
		"trigger", trigger,
		"date_key", dateKey,
		"error", err)
	res := GenerationResult{
		Status:  StatusFailed,
		Message: err.Error(),
		Trigger: trigger,
		DateKey: dateKey,
	}
	if existing, lerr := o.loadPlan(ctx, dateKey); lerr == nil {
		res.Plan = existing
	}
	return res
}
