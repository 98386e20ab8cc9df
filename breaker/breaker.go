// Package breaker implements a per-dependency circuit breaker with a
// failure threshold and a cooldown window. Once the cooldown elapses a
// single probe call is let through; success closes the circuit and a
// failure reopens it for another cooldown.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viperdam/body-mode-sub006/clock"
)

// ErrOpen is returned by Do when the circuit rejects the call.
var ErrOpen = errors.New("circuit breaker open")

// Status is the externally visible breaker state.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half_open"
)

// Config configures thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long an open circuit rejects calls.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns a threshold of 3 and a 60 second cooldown.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, Cooldown: 60 * time.Second}
}

// State is the persisted state for one named dependency.
type State struct {
	Name          string    `json:"name"`
	FailureCount  int       `json:"failure_count"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
	OpenedAt      time.Time `json:"opened_at,omitzero"`
	LastFailure   time.Time `json:"last_failure,omitzero"`
	LastSuccess   time.Time `json:"last_success,omitzero"`
}

// TransitionFunc observes status changes.
type TransitionFunc func(name string, from, to Status)

// Breaker tracks any number of named dependencies.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	store  StateStore
	logger *slog.Logger

	states  map[string]*State
	probing map[string]time.Time
	onTrans []TransitionFunc
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithStore persists state so an open circuit survives restarts.
func WithStore(s StateStore) Option {
	return func(b *Breaker) { b.store = s }
}

// OnTransition registers an observer.
func OnTransition(fn TransitionFunc) Option {
	return func(b *Breaker) { b.onTrans = append(b.onTrans, fn) }
}

// New creates a Breaker.
func New(cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	b := &Breaker{
		cfg:     cfg,
		clock:   clock.System{},
		logger:  slog.Default(),
		states:  make(map[string]*State),
		probing: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether a call to name may proceed. When it may not, the
// remaining cooldown is returned.
func (b *Breaker) Allow(ctx context.Context, name string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(ctx, name)
	now := b.clock.Now()
	switch b.status(st, now) {
	case StatusClosed:
		return true, 0
	case StatusOpen:
		return false, st.CooldownUntil.Sub(now)
	}

	// half-open: one probe per cooldown window
	if started, ok := b.probing[name]; ok && now.Sub(started) < b.cfg.Cooldown {
		return false, b.cfg.Cooldown - now.Sub(started)
	}
	b.probing[name] = now
	b.logger.Info("Circuit half-open, allowing probe", "breaker", name)
	return true, 0
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess(ctx context.Context, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(ctx, name)
	now := b.clock.Now()
	from := b.status(st, now)

	st.FailureCount = 0
	st.CooldownUntil = time.Time{}
	st.OpenedAt = time.Time{}
	st.LastSuccess = now
	delete(b.probing, name)

	b.persist(ctx, st)
	b.transition(name, from, StatusClosed)
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (b *Breaker) RecordFailure(ctx context.Context, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(ctx, name)
	now := b.clock.Now()
	from := b.status(st, now)

	st.FailureCount++
	st.LastFailure = now
	if st.FailureCount >= b.cfg.FailureThreshold {
		st.OpenedAt = now
		st.CooldownUntil = now.Add(b.cfg.Cooldown)
	}
	delete(b.probing, name)

	b.persist(ctx, st)
	to := b.status(st, now)
	if to == StatusOpen && from != StatusOpen {
		b.logger.Warn("Circuit opened",
			"breaker", name,
			"failure_count", st.FailureCount,
			"cooldown", b.cfg.Cooldown)
	}
	b.transition(name, from, to)
}

// State returns a copy of the named state and its status.
func (b *Breaker) State(ctx context.Context, name string) (State, Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(ctx, name)
	return *st, b.status(st, b.clock.Now())
}

// Reset forgets all failures for name.
func (b *Breaker) Reset(ctx context.Context, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(ctx, name)
	from := b.status(st, b.clock.Now())
	*st = State{Name: name}
	delete(b.probing, name)
	b.persist(ctx, st)
	b.transition(name, from, StatusClosed)
}

// Do runs fn if the circuit allows it and records the outcome. isFailure
// decides which errors count against the circuit; nil counts every error.
func (b *Breaker) Do(ctx context.Context, name string, fn func(context.Context) error, isFailure func(error) bool) error {
	if ok, remaining := b.Allow(ctx, name); !ok {
		return fmt.Errorf("%w: %s retry in %s", ErrOpen, name, remaining.Round(time.Second))
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess(ctx, name)
	case isFailure == nil || isFailure(err):
		b.RecordFailure(ctx, name)
	default:
		b.mu.Lock()
		delete(b.probing, name)
		b.mu.Unlock()
	}
	return err
}

// get returns the cached state, loading it on first use. Caller holds mu.
func (b *Breaker) get(ctx context.Context, name string) *State {
	if st, ok := b.states[name]; ok {
		return st
	}
	st := &State{Name: name}
	if b.store != nil {
		loaded, err := b.store.Load(ctx, name)
		if err != nil {
			b.logger.Warn("Failed to load breaker state", "breaker", name, "error", err)
		} else if loaded != nil {
			st = loaded
			st.Name = name
		}
	}
	b.states[name] = st
	return st
}

func (b *Breaker) persist(ctx context.Context, st *State) {
	if b.store == nil {
		return
	}
	if err := b.store.Save(ctx, st); err != nil {
		b.logger.Warn("Failed to persist breaker state", "breaker", st.Name, "error", err)
	}
}

func (b *Breaker) status(st *State, now time.Time) Status {
	if st.FailureCount < b.cfg.FailureThreshold {
		return StatusClosed
	}
	if now.Before(st.CooldownUntil) {
		return StatusOpen
	}
	return StatusHalfOpen
}

func (b *Breaker) transition(name string, from, to Status) {
	if from == to {
		return
	}
	for _, fn := range b.onTrans {
		fn(name, from, to)
	}
}
