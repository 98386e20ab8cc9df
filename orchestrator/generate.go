package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/viperdam/body-mode-sub006/breaker"
	"github.com/viperdam/body-mode-sub006/energy"
	"github.com/viperdam/body-mode-sub006/envcontext"
	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/generator"
	"github.com/viperdam/body-mode-sub006/model"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/profile"
)

// GenerateTodayPlan runs the generation pipeline for trigger. Concurrent
// calls for the same day share one in-flight run and its result.
func (o *Orchestrator) GenerateTodayPlan(ctx context.Context, trigger plan.Trigger) GenerationResult {
	started := o.clock.Now()
	dateKey := o.Today()

	if !trigger.IsValid() {
		res := GenerationResult{
			Status:  StatusFailed,
			Message: fmt.Sprintf("unknown trigger %q", trigger),
			Trigger: trigger,
			DateKey: dateKey,
		}
		o.observe(trigger, res, started)
		return res
	}

	// The run outlives a caller that gives up, since others may share it.
	runCtx := context.WithoutCancel(ctx)
	v, _, shared := o.flight.Do(dateKey, func() (any, error) {
		return o.guardedRun(runCtx, trigger, dateKey), nil
	})
	res := v.(GenerationResult)
	if shared && res.Trigger != trigger {
		o.logger.Debug("Joined in-flight generation",
			"trigger", trigger,
			"in_flight_trigger", res.Trigger,
			"date_key", dateKey)
	}
	o.observe(trigger, res, started)
	return res
}

// guardedRun converts panics in collaborators into FAILED results.
func (o *Orchestrator) guardedRun(ctx context.Context, trigger plan.Trigger, dateKey string) (res GenerationResult) {
	o.genMu.Lock()
	defer o.genMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Plan generation panicked",
				"trigger", trigger,
				"date_key", dateKey,
				"panic", r,
				"stack", string(debug.Stack()))
			res = o.unexpected(ctx, trigger, dateKey, fmt.Errorf("panic: %v", r))
		}
	}()
	return o.run(ctx, trigger, dateKey)
}

// attempt carries what the pipeline has learned so far.
type attempt struct {
	trigger  plan.Trigger
	dateKey  string
	existing *plan.Plan
	profile  *profile.Profile
	level    energy.Level
	bypass   bool
	gc       *generator.Context
	// retryAfter is the provider cooldown when rate limited.
	retryAfter time.Duration
}

func (o *Orchestrator) run(ctx context.Context, trigger plan.Trigger, dateKey string) GenerationResult {
	o.logger.Info("Generating plan", "trigger", trigger, "date_key", dateKey)
	a := &attempt{trigger: trigger, dateKey: dateKey}

	// 1. idempotency
	existing, err := o.loadPlan(ctx, dateKey)
	if err != nil {
		return o.unexpected(ctx, trigger, dateKey, err)
	}
	a.existing = existing
	skip, err := o.shouldSkip(ctx, trigger, existing)
	if err != nil {
		return o.unexpected(ctx, trigger, dateKey, err)
	}
	if skip {
		o.logger.Debug("Plan already exists, skipping", "trigger", trigger, "date_key", dateKey)
		return GenerationResult{Status: StatusSkipped, Plan: existing, Trigger: trigger, DateKey: dateKey}
	}

	// 2. profile
	prof, err := o.deps.Profiles.Load(ctx)
	if err != nil {
		if errors.Is(err, profile.ErrNoProfile) {
			return o.handleFailure(ctx, a, plan.ReasonNoProfile, "Complete your profile to get a personalised plan.")
		}
		return o.unexpected(ctx, trigger, dateKey, err)
	}
	a.profile = prof

	// 3. targets
	if profile.RefreshTargets(prof, o.now().Year(), dateKey) {
		if err := o.deps.Profiles.Save(ctx, prof); err != nil {
			o.logger.Warn("Failed to save refreshed targets", "date_key", dateKey, "error", err)
		}
	}

	// 4. energy
	balance, err := o.deps.Energy.Current(ctx)
	if err != nil {
		return o.unexpected(ctx, trigger, dateKey, err)
	}
	hasBypass, err := o.deps.Energy.HasBypass(ctx)
	if err != nil {
		return o.unexpected(ctx, trigger, dateKey, err)
	}
	ecfg := o.deps.Energy.Config()
	// 6. tier selection rides on the same classification
	a.level = ecfg.Classify(balance, hasBypass)
	a.bypass = a.level == energy.LevelDegraded && balance < ecfg.LowThreshold
	if a.level == energy.LevelInsufficient {
		return o.handleFailure(ctx, a, plan.ReasonLowEnergy,
			fmt.Sprintf("Not enough energy to generate a plan (%d available).", balance))
	}

	// 5. network
	if !o.deps.Network.IsConnected(ctx) {
		a.gc = o.buildContext(ctx, a)
		return o.handleFailure(ctx, a, plan.ReasonOffline, "You're offline. We'll finish your plan when you reconnect.")
	}

	// 7. circuit breaker
	if st, status := o.deps.Breaker.State(ctx, o.cfg.Dependency); status == breaker.StatusOpen {
		remaining := st.CooldownUntil.Sub(o.clock.Now())
		a.gc = o.buildContext(ctx, a)
		return o.handleFailure(ctx, a, plan.ReasonLLMError, breakerMessage(remaining))
	}

	// provider cooldown
	if limited, wait := o.deps.Provider.RateLimitStatus(); limited {
		a.gc = o.buildContext(ctx, a)
		return o.handleRateLimited(ctx, a, wait)
	}

	// 8. generation
	a.gc = o.buildContext(ctx, a)
	generated, err := o.callProvider(ctx, *a.gc)
	if err != nil {
		return o.classifyProviderError(ctx, a, err)
	}

	final, recovered, err := o.commit(ctx, a.dateKey, generated, plan.SourceCloud)
	if err != nil {
		return o.unexpected(ctx, trigger, dateKey, err)
	}
	o.spend(ctx, a.level, a.bypass)

	o.logger.Info("Plan generated",
		"trigger", trigger,
		"date_key", dateKey,
		"tier", a.gc.Tier,
		"items", len(final.Items),
		"revision", final.Revision)
	if recovered {
		o.emit(ctx, events.PlanGenerationRecovered, dateKey, func(e *events.Event) {
			e.Trigger = trigger
			e.Plan = final
		})
	}
	return GenerationResult{Status: StatusSuccess, Plan: final, Trigger: trigger, DateKey: dateKey}
}

// shouldSkip implements the idempotency rule. Only a non-fallback plan with
// items blocks regeneration, and never for MANUAL or for the first WAKE
// after a recorded wake.
func (o *Orchestrator) shouldSkip(ctx context.Context, trigger plan.Trigger, existing *plan.Plan) (bool, error) {
	if !existing.HasItems() || existing.IsFallback() || trigger == plan.TriggerManual {
		return false, nil
	}
	if trigger == plan.TriggerWake {
		wake, err := o.lastWake(ctx)
		if err != nil {
			return false, err
		}
		generatedAt := existing.GeneratedAt
		if generatedAt.IsZero() {
			generatedAt = existing.CreatedAt
		}
		if !wake.IsZero() && generatedAt.Before(wake) {
			return false, nil
		}
	}
	return true, nil
}

// callProvider runs the provider through the breaker. Rate limits are not
// held against the dependency.
func (o *Orchestrator) callProvider(ctx context.Context, gc generator.Context) (*plan.Plan, error) {
	var generated *plan.Plan
	err := o.deps.Breaker.Do(ctx, o.cfg.Dependency, func(ctx context.Context) error {
		p, err := o.deps.Provider.Generate(ctx, gc)
		if err != nil {
			return err
		}
		generated = p
		return nil
	}, countsAgainstBreaker)
	if err != nil {
		return nil, err
	}
	if generated == nil {
		return nil, fmt.Errorf("%w: provider returned no plan", generator.ErrInvalidPlan)
	}
	return generated, nil
}

func countsAgainstBreaker(err error) bool {
	limited, _ := generator.IsRateLimited(err)
	return !limited
}

func (o *Orchestrator) classifyProviderError(ctx context.Context, a *attempt, err error) GenerationResult {
	if limited, wait := generator.IsRateLimited(err); limited {
		return o.handleRateLimited(ctx, a, wait)
	}
	if errors.Is(err, generator.ErrBudgetExhausted) {
		return o.handleFailure(ctx, a, plan.ReasonLowEnergy, "Your plan budget is used up for now.")
	}
	if errors.Is(err, breaker.ErrOpen) {
		st, _ := o.deps.Breaker.State(ctx, o.cfg.Dependency)
		return o.handleFailure(ctx, a, plan.ReasonLLMError, breakerMessage(st.CooldownUntil.Sub(o.clock.Now())))
	}
	o.logger.Warn("Plan generation failed",
		"trigger", a.trigger,
		"date_key", a.dateKey,
		"error", err)
	return o.handleFailure(ctx, a, plan.ReasonLLMError, "We couldn't reach the plan service. We'll keep trying.")
}

func breakerMessage(remaining time.Duration) string {
	secs := int(remaining.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("Plan service unavailable. Retrying in %d seconds.", secs)
}

// buildContext gathers the generation context. Missing history or
// environment data is logged and left out.
func (o *Orchestrator) buildContext(ctx context.Context, a *attempt) *generator.Context {
	gc := &generator.Context{
		DateKey:      a.dateKey,
		Tier:         tierFor(a.level),
		Profile:      a.profile,
		PreviousPlan: a.existing,
	}
	if a.profile != nil {
		gc.Language = a.profile.Language
	}

	if o.cfg.HistoryDays > 0 {
		recent, err := o.plans.Recent(ctx, a.dateKey, o.cfg.HistoryDays)
		if err != nil {
			o.logger.Warn("Failed to load plan history", "date_key", a.dateKey, "error", err)
		}
		for _, p := range recent {
			gc.History = append(gc.History, plan.Summarize(p))
		}
	}

	if o.deps.Environment != nil {
		snap, err := o.deps.Environment.Snapshot(ctx)
		if err != nil {
			o.logger.Warn("Failed to collect environmental context", "date_key", a.dateKey, "error", err)
		}
		gc.Environment = snap
	}
	return gc
}

func tierFor(l energy.Level) model.Tier {
	if l == energy.LevelFull {
		return model.TierFull
	}
	return model.TierDegraded
}

// commit normalizes a generated plan, merges it into the stored plan, and
// clears the pending record and retry slot. It reports whether a pending
// record was cleared.
func (o *Orchestrator) commit(ctx context.Context, dateKey string, generated *plan.Plan, source plan.Source) (*plan.Plan, bool, error) {
	now := o.clock.Now()

	generated.DateKey = dateKey
	normalized, dropped, err := plan.Normalize(generated, o.planOptions())
	if err != nil {
		return nil, false, fmt.Errorf("normalize generated plan: %w", err)
	}
	if dropped > 0 {
		o.logger.Warn("Dropped invalid plan items", "date_key", dateKey, "dropped", dropped)
	}
	if !normalized.HasItems() {
		return nil, false, fmt.Errorf("%w: no valid items", generator.ErrInvalidPlan)
	}
	normalized.CreatedAt = now
	if normalized.GeneratedAt.IsZero() {
		normalized.GeneratedAt = now
	}

	final, err := o.mergeAndSave(ctx, dateKey, normalized, source, now)
	if err != nil {
		return nil, false, err
	}

	o.emit(ctx, events.PlanGenerated, dateKey, func(e *events.Event) { e.Plan = final })

	recovered, err := o.pending.Clear(ctx)
	if err != nil {
		o.logger.Warn("Failed to clear pending generation", "date_key", dateKey, "error", err)
	}
	if o.deps.Retry != nil {
		if err := o.deps.Retry.Cancel(ctx); err != nil {
			o.logger.Warn("Failed to cancel plan retry", "date_key", dateKey, "error", err)
		}
	}
	return final, recovered, nil
}

// mergeAndSave merges next into the plan stored right now, not the copy read
// before generation, so item changes made meanwhile survive.
func (o *Orchestrator) mergeAndSave(ctx context.Context, dateKey string, next *plan.Plan, source plan.Source, now time.Time) (*plan.Plan, error) {
	o.planMu.Lock()
	defer o.planMu.Unlock()

	stored, err := o.loadPlan(ctx, dateKey)
	if err != nil {
		return nil, fmt.Errorf("reload plan: %w", err)
	}
	final := plan.Merge(next, stored, now)
	final.Source = source
	final.IsTemporary = false
	final.GeneratedAt = next.GeneratedAt
	if err := o.plans.Save(ctx, final); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	return final, nil
}

// spend charges the budget for a successful generation.
func (o *Orchestrator) spend(ctx context.Context, level energy.Level, bypass bool) {
	var err error
	if bypass {
		err = o.deps.Energy.ConsumeBypass(ctx)
	} else {
		err = o.deps.Energy.Consume(ctx, o.deps.Energy.Config().Cost(level))
	}
	if err != nil {
		o.logger.Warn("Failed to charge energy", "level", level, "bypass", bypass, "error", err)
	}
}

// mergeEnvironment overlays a fresh snapshot on a frozen one.
func (o *Orchestrator) mergeEnvironment(ctx context.Context, frozen envcontext.Snapshot) envcontext.Snapshot {
	if o.deps.Environment == nil {
		return frozen
	}
	fresh, err := o.deps.Environment.Snapshot(ctx)
	if err != nil {
		o.logger.Warn("Failed to refresh environmental context", "error", err)
	}
	return envcontext.Merge(frozen, fresh)
}
