// Package scheduler fires the time- and system-driven triggers: MIDNIGHT on
// a cron schedule, BOOT once at start, and NETWORK_RESTORED when
// connectivity returns. It also sweeps past-due plan items into missed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/viperdam/body-mode-sub006/network"
	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/plan"
)

// Generator is the subset of the orchestrator the scheduler drives.
type Generator interface {
	GenerateTodayPlan(ctx context.Context, trigger plan.Trigger) orchestrator.GenerationResult
	MarkPastDueMissed(ctx context.Context) (int, error)
}

// Resumer runs a queued retry immediately.
type Resumer interface {
	Resume(ctx context.Context) (bool, error)
}

// Config holds scheduler settings.
type Config struct {
	// MidnightSpec is a five-field cron spec. Empty derives it from
	// DayStartOffset.
	MidnightSpec string `yaml:"midnight_spec"`

	// MissedSweep is the cron spec of the past-due sweep. Empty disables it.
	MissedSweep string `yaml:"missed_sweep"`

	// Boot fires a BOOT trigger on Start.
	Boot bool `yaml:"boot"`

	DayStartOffset time.Duration  `yaml:"-"`
	Location       *time.Location `yaml:"-"`
}

// DefaultConfig returns a midnight trigger, a BOOT trigger, and a sweep
// every fifteen minutes.
func DefaultConfig() Config {
	return Config{
		MissedSweep: "@every 15m",
		Boot:        true,
	}
}

// MidnightSpec returns the cron spec firing at the start of the active day.
func MidnightSpec(offset time.Duration) string {
	mins := int(offset/time.Minute) % (24 * 60)
	if mins < 0 {
		mins += 24 * 60
	}
	return fmt.Sprintf("%d %d * * *", mins%60, mins/60)
}

// Scheduler owns the cron runner and the network monitor hookup.
type Scheduler struct {
	cfg     Config
	gen     Generator
	monitor *network.Monitor
	retry   Resumer
	logger  *slog.Logger

	cron *cron.Cron
	wg   sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMonitor fires NETWORK_RESTORED from m's transitions. The scheduler
// starts and stops m.
func WithMonitor(m *network.Monitor) Option {
	return func(s *Scheduler) { s.monitor = m }
}

// WithResumer resumes a queued retry when the network comes back.
func WithResumer(r Resumer) Option {
	return func(s *Scheduler) { s.retry = r }
}

// New creates a Scheduler.
func New(cfg Config, gen Generator, opts ...Option) (*Scheduler, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.MidnightSpec == "" {
		cfg.MidnightSpec = MidnightSpec(cfg.DayStartOffset)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Scheduler{
		cfg:    cfg,
		gen:    gen,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return s, nil
}

// Start registers the jobs and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.MidnightSpec, func() { s.Fire(ctx, plan.TriggerMidnight) }); err != nil {
		return fmt.Errorf("schedule midnight trigger %q: %w", s.cfg.MidnightSpec, err)
	}
	if s.cfg.MissedSweep != "" {
		if _, err := s.cron.AddFunc(s.cfg.MissedSweep, func() { s.sweep(ctx) }); err != nil {
			return fmt.Errorf("schedule missed sweep %q: %w", s.cfg.MissedSweep, err)
		}
	}

	if s.monitor != nil {
		s.monitor.OnRestored(s.networkRestored)
		s.monitor.Start(ctx)
	}
	s.cron.Start()

	if s.cfg.Boot {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Fire(ctx, plan.TriggerBoot)
		}()
	}

	s.logger.Info("Scheduler started",
		"midnight_spec", s.cfg.MidnightSpec,
		"missed_sweep", s.cfg.MissedSweep,
		"network_monitor", s.monitor != nil)
	return nil
}

// Stop halts the cron runner and monitor and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.wg.Wait()
}

// Fire runs one trigger and logs its result.
func (s *Scheduler) Fire(ctx context.Context, trigger plan.Trigger) orchestrator.GenerationResult {
	res := s.gen.GenerateTodayPlan(ctx, trigger)
	s.logger.Info("Trigger handled",
		"trigger", trigger,
		"status", res.Status,
		"reason", res.Reason,
		"date_key", res.DateKey)
	return res
}

func (s *Scheduler) networkRestored(ctx context.Context) {
	if s.retry != nil {
		ran, err := s.retry.Resume(ctx)
		if err != nil {
			s.logger.Warn("Failed to resume plan retry", "error", err)
		}
		if ran {
			return
		}
	}
	s.Fire(ctx, plan.TriggerNetworkRestored)
}

func (s *Scheduler) sweep(ctx context.Context) {
	n, err := s.gen.MarkPastDueMissed(ctx)
	if err != nil {
		s.logger.Warn("Failed to mark past due items", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("Past due sweep", "missed", n)
	}
}
