// Package orchestrator decides, for each trigger, whether to generate
// today's plan, and absorbs every recoverable failure into a pending record
// plus a deterministic fallback plan.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/viperdam/body-mode-sub006/breaker"
	"github.com/viperdam/body-mode-sub006/clock"
	"github.com/viperdam/body-mode-sub006/energy"
	"github.com/viperdam/body-mode-sub006/envcontext"
	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/generator"
	"github.com/viperdam/body-mode-sub006/network"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/profile"
	"github.com/viperdam/body-mode-sub006/retryqueue"
	"github.com/viperdam/body-mode-sub006/storage"
)

// Status is the outcome class of one generation attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPending Status = "PENDING"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// GenerationResult is returned for every trigger. GenerateTodayPlan never
// returns an error; unexpected failures become StatusFailed.
type GenerationResult struct {
	Status    Status       `json:"status"`
	Plan      *plan.Plan   `json:"plan,omitempty"`
	Reason    plan.Reason  `json:"reason,omitempty"`
	Message   string       `json:"message,omitempty"`
	IsOffline bool         `json:"is_offline,omitempty"`
	Trigger   plan.Trigger `json:"trigger"`
	DateKey   string       `json:"date_key"`
}

// Profiles loads and saves the user profile.
type Profiles interface {
	Load(ctx context.Context) (*profile.Profile, error)
	Save(ctx context.Context, p *profile.Profile) error
}

// Energy is the generation budget.
type Energy interface {
	Config() energy.Config
	Current(ctx context.Context) (int, error)
	HasBypass(ctx context.Context) (bool, error)
	Consume(ctx context.Context, n int) error
	ConsumeBypass(ctx context.Context) error
}

// Config holds orchestrator settings.
type Config struct {
	// DayStartOffset shifts the active day boundary away from midnight.
	DayStartOffset time.Duration `yaml:"day_start_offset"`

	// Location is the user's time zone. Nil means time.Local.
	Location *time.Location `yaml:"-"`

	// MaxLLMRetries is the number of consecutive LLM failures after which
	// the pending record is dropped and the result becomes FAILED.
	MaxLLMRetries int `yaml:"max_llm_retries"`

	// HistoryDays is how many previous days of adherence go into the context.
	HistoryDays int `yaml:"history_days"`

	// Dependency names the breaker entry guarding the provider.
	Dependency string `yaml:"dependency"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		MaxLLMRetries: 5,
		HistoryDays:   7,
		Dependency:    "plan_generation",
	}
}

// Deps are the collaborators an Orchestrator is built from. Retry,
// Environment and Notifier are optional.
type Deps struct {
	Store       storage.Store
	Profiles    Profiles
	Energy      Energy
	Network     network.Checker
	Provider    generator.Provider
	Breaker     *breaker.Breaker
	Events      events.Emitter
	Environment envcontext.Source
	Notifier    events.Notifier
	Retry       *retryqueue.Queue
}

// ResultHook observes every finished trigger.
type ResultHook func(trigger plan.Trigger, res GenerationResult, elapsed time.Duration)

// Orchestrator is the plan generation state machine. Construct one per
// process; it registers itself as the retry queue's attempter.
type Orchestrator struct {
	cfg   Config
	deps  Deps
	clock clock.Clock

	plans   *storage.PlanRepository
	pending *storage.PendingRepository

	logger *slog.Logger
	hooks  []ResultHook

	flight singleflight.Group
	// genMu serialises foreground generation and retry attempts.
	genMu sync.Mutex
	// planMu serialises every read-modify-write of the stored plan.
	planMu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithResultHook registers an observer of trigger results.
func WithResultHook(h ResultHook) Option {
	return func(o *Orchestrator) { o.hooks = append(o.hooks, h) }
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Profiles == nil:
		return nil, errors.New("profile repository is required")
	case deps.Energy == nil:
		return nil, errors.New("energy budget is required")
	case deps.Network == nil:
		return nil, errors.New("network checker is required")
	case deps.Provider == nil:
		return nil, errors.New("generation provider is required")
	case deps.Breaker == nil:
		return nil, errors.New("circuit breaker is required")
	case deps.Events == nil:
		return nil, errors.New("event emitter is required")
	}

	defaults := DefaultConfig()
	if cfg.MaxLLMRetries <= 0 {
		cfg.MaxLLMRetries = defaults.MaxLLMRetries
	}
	if cfg.HistoryDays < 0 {
		cfg.HistoryDays = 0
	}
	if cfg.Dependency == "" {
		cfg.Dependency = defaults.Dependency
	}

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		clock:   clock.System{},
		plans:   storage.NewPlanRepository(deps.Store),
		pending: storage.NewPendingRepository(deps.Store),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if deps.Retry != nil {
		deps.Retry.SetAttempter(o)
	}
	return o, nil
}

// Today returns the active day key.
func (o *Orchestrator) Today() string {
	return plan.ActiveDay(o.now(), o.cfg.DayStartOffset)
}

func (o *Orchestrator) now() time.Time {
	now := o.clock.Now()
	if o.cfg.Location != nil {
		now = now.In(o.cfg.Location)
	}
	return now
}

func (o *Orchestrator) planOptions() plan.Options {
	return plan.Options{DayStartOffset: o.cfg.DayStartOffset, Location: o.cfg.Location}
}

// loadPlan returns the stored plan for dateKey or nil.
func (o *Orchestrator) loadPlan(ctx context.Context, dateKey string) (*plan.Plan, error) {
	p, err := o.plans.Get(ctx, dateKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// loadPending returns the pending record for dateKey or nil. Records for
// another day are removed.
func (o *Orchestrator) loadPending(ctx context.Context, dateKey string) (*plan.PendingGeneration, error) {
	p, err := o.pending.Get(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if p.DateKey != dateKey {
		o.logger.Info("Dropping pending generation for another day",
			"pending_date_key", p.DateKey,
			"date_key", dateKey)
		if _, err := o.pending.Clear(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return p, nil
}

func (o *Orchestrator) emit(ctx context.Context, name events.Name, dateKey string, mutate func(*events.Event)) {
	e := events.New(name, o.clock.Now())
	e.DateKey = dateKey
	if mutate != nil {
		mutate(&e)
	}
	o.deps.Events.Emit(ctx, e)
}

func (o *Orchestrator) observe(trigger plan.Trigger, res GenerationResult, started time.Time) {
	elapsed := o.clock.Now().Sub(started)
	for _, h := range o.hooks {
		h(trigger, res, elapsed)
	}
}

// wakeKeyRecord is the persisted last wake instant.
type wakeKeyRecord struct {
	At time.Time `json:"at"`
}

// RecordWake stores the instant the user confirmed waking up. A WAKE
// trigger regenerates once for each recorded wake.
func (o *Orchestrator) RecordWake(ctx context.Context, at time.Time) error {
	if err := storage.SetJSON(ctx, o.deps.Store, storage.KeyLastWake, wakeKeyRecord{At: at}); err != nil {
		return fmt.Errorf("record wake: %w", err)
	}
	return nil
}

func (o *Orchestrator) lastWake(ctx context.Context) (time.Time, error) {
	var rec wakeKeyRecord
	if err := storage.GetJSON(ctx, o.deps.Store, storage.KeyLastWake, &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return rec.At, nil
}
