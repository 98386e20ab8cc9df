package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/viperdam/body-mode-sub006/breaker"
	"github.com/viperdam/body-mode-sub006/energy"
	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/generator"
	"github.com/viperdam/body-mode-sub006/model"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/retryqueue"
)

var (
	errOffline     = errors.New("device offline")
	errCircuitOpen = errors.New("plan service circuit open")
)

// AttemptRetry runs one queued retry from its frozen context. It implements
// retryqueue.Attempter.
func (o *Orchestrator) AttemptRetry(ctx context.Context, s retryqueue.RetryState) retryqueue.Result {
	o.genMu.Lock()
	defer o.genMu.Unlock()

	dateKey := o.Today()
	if s.DateKey != dateKey {
		return retryqueue.Result{Outcome: retryqueue.OutcomeDiscard}
	}

	existing, err := o.loadPlan(ctx, dateKey)
	if err != nil {
		return retryqueue.Result{Outcome: retryqueue.OutcomeFailed, Err: err}
	}
	if existing.HasItems() && !existing.IsFallback() {
		return retryqueue.Result{Outcome: retryqueue.OutcomeDiscard}
	}

	if !o.deps.Network.IsConnected(ctx) {
		return retryqueue.Result{Outcome: retryqueue.OutcomeFailed, Err: errOffline}
	}
	if _, status := o.deps.Breaker.State(ctx, o.cfg.Dependency); status == breaker.StatusOpen {
		return retryqueue.Result{Outcome: retryqueue.OutcomeFailed, Err: errCircuitOpen}
	}

	gc := s.Context
	gc.DateKey = dateKey
	gc.Environment = o.mergeEnvironment(ctx, gc.Environment)
	gc.PreviousPlan = existing
	if gc.Language == "" {
		gc.Language = s.Language
	}

	generated, err := o.callProvider(ctx, gc)
	if err != nil {
		return o.classifyRetryError(ctx, s, err)
	}

	final, _, err := o.commit(ctx, dateKey, generated, plan.SourceCloudRetry)
	if err != nil {
		return retryqueue.Result{Outcome: retryqueue.OutcomeFailed, Err: err}
	}
	o.spend(ctx, levelFor(gc.Tier), false)

	o.logger.Info("Plan recovered by retry",
		"date_key", dateKey,
		"attempt", s.Attempt+1,
		"items", len(final.Items))
	o.emit(ctx, events.PlanGenerationRecovered, dateKey, func(e *events.Event) {
		e.Trigger = s.Trigger
		e.Plan = final
	})
	return retryqueue.Result{Outcome: retryqueue.OutcomeSuccess}
}

func (o *Orchestrator) classifyRetryError(ctx context.Context, s retryqueue.RetryState, err error) retryqueue.Result {
	if limited, wait := generator.IsRateLimited(err); limited {
		if _, perr := o.recordPending(ctx, s.Trigger, s.DateKey, plan.ReasonRateLimited); perr != nil {
			o.logger.Warn("Failed to save pending generation", "date_key", s.DateKey, "error", perr)
		}
		return retryqueue.Result{Outcome: retryqueue.OutcomeRateLimited, RetryAfter: wait, Err: err}
	}
	if errors.Is(err, generator.ErrBudgetExhausted) {
		// Retrying cannot help until the budget refills.
		if _, perr := o.recordPending(ctx, s.Trigger, s.DateKey, plan.ReasonLowEnergy); perr != nil {
			o.logger.Warn("Failed to save pending generation", "date_key", s.DateKey, "error", perr)
		}
		return retryqueue.Result{Outcome: retryqueue.OutcomeDiscard, Err: err}
	}
	if errors.Is(err, breaker.ErrOpen) {
		return retryqueue.Result{Outcome: retryqueue.OutcomeFailed, Err: err}
	}

	count, perr := o.recordPending(ctx, s.Trigger, s.DateKey, plan.ReasonLLMError)
	if perr != nil {
		o.logger.Warn("Failed to save pending generation", "date_key", s.DateKey, "error", perr)
	}
	if count >= o.cfg.MaxLLMRetries {
		o.terminal(ctx, s.Trigger, s.DateKey, plan.ReasonLLMError, count)
		return retryqueue.Result{Outcome: retryqueue.OutcomeDiscard, Err: err}
	}
	return retryqueue.Result{Outcome: retryqueue.OutcomeFailed, Err: fmt.Errorf("retry generation: %w", err)}
}

// HandleRetryExhausted is called once the retry ladder runs out. The queue
// has already notified the user.
func (o *Orchestrator) HandleRetryExhausted(ctx context.Context, s retryqueue.RetryState) {
	o.genMu.Lock()
	defer o.genMu.Unlock()

	if _, err := o.pending.Clear(ctx); err != nil {
		o.logger.Warn("Failed to clear pending generation", "date_key", s.DateKey, "error", err)
	}
	fallback, err := o.ensureFallback(ctx, s.DateKey)
	if err != nil {
		o.logger.Error("Failed to save fallback plan", "date_key", s.DateKey, "error", err)
	}
	o.emit(ctx, events.PlanGenerationFailed, s.DateKey, func(e *events.Event) {
		e.Trigger = s.Trigger
		e.Reason = s.Reason
		e.Message = exhaustedMessage
		e.Plan = fallback
	})
}

func levelFor(t model.Tier) energy.Level {
	if t == model.TierFull {
		return energy.LevelFull
	}
	return energy.LevelDegraded
}
