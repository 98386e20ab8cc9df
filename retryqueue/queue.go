// Package retryqueue keeps the single durable background retry for a failed
// plan generation. The slot survives process restarts, advances along a
// fixed backoff ladder, and is discarded once it no longer targets today.
package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viperdam/body-mode-sub006/clock"
	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/generator"
	"github.com/viperdam/body-mode-sub006/network"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/storage"
)

// ErrBusy is returned when another attempt is already running, in this
// process or in another holder of the persisted lock.
var ErrBusy = errors.New("retry already in progress")

// maxRateLimitDeferrals is how many rate-limited attempts in a row are
// deferred before the next one counts against the ladder.
const maxRateLimitDeferrals = 3

// Outcome classifies one retry attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeRateLimited
	// OutcomeDiscard ends the retry without counting it as a failure, for
	// example when a plan was produced by another path in the meantime.
	OutcomeDiscard
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeDiscard:
		return "discarded"
	}
	return "unknown"
}

// Result is what an Attempter reports back.
type Result struct {
	Outcome    Outcome
	RetryAfter time.Duration
	Err        error
}

// Attempter performs one generation attempt from a frozen context. On
// success it is responsible for persisting the plan.
type Attempter interface {
	AttemptRetry(ctx context.Context, state RetryState) Result
}

// RateLimiter reports a provider cooldown still in effect.
type RateLimiter interface {
	RateLimitStatus() (bool, time.Duration)
}

// EnqueueRequest describes a failure that wants background follow-up.
type EnqueueRequest struct {
	Trigger plan.Trigger
	Reason  plan.Reason
	Context generator.Context
	// RetryAfter is the provider cooldown reported with a rate limit.
	RetryAfter time.Duration
}

// Queue owns the retry slot. Construct one per process.
type Queue struct {
	cfg       Config
	repo      *Repository
	lock      *storage.Lock
	clock     clock.Clock
	attempter Attempter
	limiter   RateLimiter
	network   network.Checker
	notifier  events.Notifier
	logger    *slog.Logger

	onExhausted []func(ctx context.Context, s RetryState)
	onAttempt   []func(o Outcome)

	processing atomic.Bool

	mu      sync.Mutex
	baseCtx context.Context
	timer   clock.Timer
	gen     int
	stopped bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithRateLimiter makes attempts wait out provider cooldowns first.
func WithRateLimiter(r RateLimiter) Option {
	return func(q *Queue) { q.limiter = r }
}

// WithNetwork sets the connectivity check used by Resume.
func WithNetwork(n network.Checker) Option {
	return func(q *Queue) { q.network = n }
}

// WithNotifier sets where exhaustion notices go.
func WithNotifier(n events.Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// OnExhausted registers a callback run after the ladder is used up.
func OnExhausted(f func(ctx context.Context, s RetryState)) Option {
	return func(q *Queue) { q.onExhausted = append(q.onExhausted, f) }
}

// OnAttempt registers a callback observing every attempt outcome.
func OnAttempt(f func(o Outcome)) Option {
	return func(q *Queue) { q.onAttempt = append(q.onAttempt, f) }
}

// New creates a queue. The attempter may be set later with SetAttempter
// when it in turn depends on the queue.
func New(cfg Config, store storage.Store, attempter Attempter, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	q := &Queue{
		cfg:       cfg,
		repo:      NewRepository(store),
		clock:     clock.System{},
		attempter: attempter,
		logger:    slog.Default(),
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.lock = storage.NewLock(store, storage.KeyRetryLock, cfg.LockTTL, q.clock)
	return q, nil
}

// SetAttempter replaces the attempter.
func (q *Queue) SetAttempter(a Attempter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempter = a
}

// Config returns the queue configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Start loads the persisted slot. A stale slot is discarded without an
// attempt; a live one has its timer re-armed. ctx bounds timer-driven attempts.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	q.baseCtx = ctx
	q.stopped = false
	q.mu.Unlock()

	s, err := q.repo.Load(ctx)
	if err != nil {
		return err
	}
	if s == nil || !s.Queued {
		return nil
	}
	if reason := q.staleReason(s); reason != "" {
		q.logger.Info("Discarding stale plan retry",
			"date_key", s.DateKey,
			"attempt", s.Attempt,
			"reason", reason)
		return q.repo.Clear(ctx)
	}

	q.logger.Info("Resuming plan retry",
		"date_key", s.DateKey,
		"attempt", s.Attempt,
		"next_retry_at", s.NextRetryAt)
	q.arm(s.NextRetryAt)
	return nil
}

// Stop cancels the pending timer. The persisted slot is kept.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// Enqueue records a retry. An existing slot for the same day keeps its
// position on the ladder and only refreshes the context, so repeated
// failures cannot restart the ladder.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*RetryState, error) {
	now := q.clock.Now()

	existing, err := q.repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	var s *RetryState
	if existing != nil && existing.Queued && existing.DateKey == req.Context.DateKey && q.staleReason(existing) == "" {
		s = existing
		s.Reason = req.Reason
		s.Context = req.Context
		s.Language = req.Context.Language
		if at := q.cooldownEnd(now, req); at.After(s.NextRetryAt) {
			s.NextRetryAt = at
		}
	} else {
		s = &RetryState{
			Queued:      true,
			Attempt:     0,
			NextRetryAt: later(now.Add(q.cfg.Ladder[0]), q.cooldownEnd(now, req)),
			DateKey:     req.Context.DateKey,
			Language:    req.Context.Language,
			Trigger:     req.Trigger,
			Reason:      req.Reason,
			CreatedAt:   now,
			Context:     req.Context,
		}
	}

	if err := q.repo.Save(ctx, s); err != nil {
		return nil, err
	}
	q.logger.Info("Plan retry queued",
		"date_key", s.DateKey,
		"trigger", s.Trigger,
		"reason", s.Reason,
		"attempt", s.Attempt,
		"next_retry_at", s.NextRetryAt)
	q.arm(s.NextRetryAt)
	return s, nil
}

// cooldownEnd returns when a rate-limited request may next reach the
// provider, or the zero time for other failures.
func (q *Queue) cooldownEnd(now time.Time, req EnqueueRequest) time.Time {
	if req.Reason != plan.ReasonRateLimited || req.RetryAfter <= 0 {
		return time.Time{}
	}
	return now.Add(req.RetryAfter + q.cfg.RateLimitBuffer)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Cancel clears the slot and its timer.
func (q *Queue) Cancel(ctx context.Context) error {
	q.disarm()
	return q.repo.Clear(ctx)
}

// State returns the persisted slot, or nil.
func (q *Queue) State(ctx context.Context) (*RetryState, error) {
	return q.repo.Load(ctx)
}

// Resume runs a queued retry immediately when the device is online,
// instead of waiting for the timer. It reports whether an attempt ran.
func (q *Queue) Resume(ctx context.Context) (bool, error) {
	s, err := q.repo.Load(ctx)
	if err != nil || s == nil || !s.Queued {
		return false, err
	}
	if q.network != nil && !q.network.IsConnected(ctx) {
		return false, nil
	}
	if err := q.Process(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Process runs one attempt now. Concurrent calls, in-process or across
// processes sharing the store, get ErrBusy.
func (q *Queue) Process(ctx context.Context) error {
	if !q.processing.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer q.processing.Store(false)

	token, err := q.lock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return ErrBusy
		}
		return fmt.Errorf("acquire retry lock: %w", err)
	}
	defer func() {
		if err := q.lock.Release(context.WithoutCancel(ctx), token); err != nil {
			q.logger.Warn("Failed to release retry lock", "error", err)
		}
	}()

	s, err := q.repo.Load(ctx)
	if err != nil {
		return err
	}
	if s == nil || !s.Queued {
		return nil
	}

	if reason := q.staleReason(s); reason != "" {
		q.logger.Info("Discarding stale plan retry",
			"date_key", s.DateKey,
			"attempt", s.Attempt,
			"reason", reason)
		q.disarm()
		return q.repo.Clear(ctx)
	}

	now := q.clock.Now()
	if q.limiter != nil {
		if limited, remaining := q.limiter.RateLimitStatus(); limited {
			return q.reschedule(ctx, s, now.Add(remaining+q.cfg.RateLimitBuffer), "provider cooling down")
		}
	}

	q.mu.Lock()
	attempter := q.attempter
	q.mu.Unlock()
	if attempter == nil {
		return fmt.Errorf("retry queue has no attempter")
	}

	q.logger.Info("Attempting plan retry",
		"date_key", s.DateKey,
		"attempt", s.Attempt+1,
		"max_attempts", len(q.cfg.Ladder))
	res := attempter.AttemptRetry(ctx, *s)
	for _, f := range q.onAttempt {
		f(res.Outcome)
	}

	now = q.clock.Now()
	switch res.Outcome {
	case OutcomeSuccess:
		q.logger.Info("Plan retry succeeded", "date_key", s.DateKey, "attempt", s.Attempt+1)
		q.disarm()
		return q.repo.Clear(ctx)

	case OutcomeDiscard:
		q.logger.Info("Plan retry no longer needed", "date_key", s.DateKey)
		q.disarm()
		return q.repo.Clear(ctx)

	case OutcomeRateLimited:
		s.RateLimits++
		if s.RateLimits > maxRateLimitDeferrals {
			return q.fail(ctx, s, now, res.Err)
		}
		wait := res.RetryAfter
		if wait <= 0 {
			// no cooldown reported: wait out the current ladder step
			wait = q.cfg.Ladder[min(s.Attempt, len(q.cfg.Ladder)-1)]
		}
		return q.reschedule(ctx, s, now.Add(wait+q.cfg.RateLimitBuffer), "rate limited")

	default:
		return q.fail(ctx, s, now, res.Err)
	}
}

// reschedule moves the next attempt without advancing the ladder.
func (q *Queue) reschedule(ctx context.Context, s *RetryState, at time.Time, why string) error {
	s.NextRetryAt = at
	if err := q.repo.Save(ctx, s); err != nil {
		return err
	}
	q.logger.Info("Plan retry deferred",
		"date_key", s.DateKey,
		"attempt", s.Attempt,
		"next_retry_at", at,
		"reason", why)
	q.arm(at)
	return nil
}

func (q *Queue) fail(ctx context.Context, s *RetryState, now time.Time, cause error) error {
	s.Attempt++
	s.RateLimits = 0
	if cause != nil {
		s.LastError = cause.Error()
	}

	if s.Attempt >= len(q.cfg.Ladder) {
		q.logger.Warn("Plan retry attempts exhausted",
			"date_key", s.DateKey,
			"attempts", s.Attempt,
			"error", cause)
		q.disarm()
		if err := q.repo.Clear(ctx); err != nil {
			return err
		}
		if q.notifier != nil {
			notice := events.FailureNotice{
				DateKey:  s.DateKey,
				Trigger:  s.Trigger,
				Reason:   s.Reason,
				Attempts: s.Attempt,
				Message:  "We couldn't build today's plan. Open the app to try again.",
			}
			if err := q.notifier.ScheduleFailureNotice(ctx, notice); err != nil {
				q.logger.Warn("Failed to schedule failure notice", "error", err)
			}
		}
		for _, f := range q.onExhausted {
			f(ctx, *s)
		}
		return nil
	}

	s.NextRetryAt = now.Add(q.cfg.Ladder[s.Attempt])
	if err := q.repo.Save(ctx, s); err != nil {
		return err
	}
	q.logger.Info("Plan retry failed, backing off",
		"date_key", s.DateKey,
		"attempt", s.Attempt,
		"next_retry_at", s.NextRetryAt,
		"error", cause)
	q.arm(s.NextRetryAt)
	return nil
}

// staleReason returns why s can no longer run, or "" if it is still live.
func (q *Queue) staleReason(s *RetryState) string {
	now := q.clock.Now()
	if !s.CreatedAt.IsZero() && now.Sub(s.CreatedAt) > q.cfg.MaxAge {
		return "expired"
	}
	if s.DateKey != q.today(now) {
		return "different day"
	}
	return ""
}

func (q *Queue) today(now time.Time) string {
	if q.cfg.Location != nil {
		now = now.In(q.cfg.Location)
	}
	return plan.ActiveDay(now, q.cfg.DayStartOffset)
}

// arm schedules the timer for at, replacing any pending one.
func (q *Queue) arm(at time.Time) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
	gen := q.gen
	q.mu.Unlock()

	// The callback may run before AfterFunc returns, so only keep the
	// handle if nothing re-armed in the meantime.
	t := q.clock.AfterFunc(max(at.Sub(q.clock.Now()), 0), func() { q.fire(gen) })

	q.mu.Lock()
	if q.gen == gen {
		q.timer = t
	}
	q.mu.Unlock()
}

func (q *Queue) disarm() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) fire(gen int) {
	q.mu.Lock()
	current := gen == q.gen && !q.stopped
	ctx := q.baseCtx
	q.mu.Unlock()
	if !current {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := q.Process(ctx); err != nil && !errors.Is(err, ErrBusy) {
		q.logger.Error("Plan retry attempt failed", "error", err)
	}
}
