// Package nativesync keeps the stored plan and the snapshot file shared with
// the native background layer in agreement. Each side bumps the plan
// revision on every write; the higher revision wins.
package nativesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/viperdam/body-mode-sub006/clock"
	"github.com/viperdam/body-mode-sub006/events"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/storage"
)

// ErrNoSnapshot is returned when the snapshot file does not exist.
var ErrNoSnapshot = errors.New("no native snapshot")

// Snapshot is the file format shared with the native layer.
type Snapshot struct {
	SchemaVersion int        `json:"schema_version"`
	DateKey       string     `json:"date_key"`
	Revision      int64      `json:"revision"`
	Plan          *plan.Plan `json:"plan,omitempty"`
	WrittenAt     time.Time  `json:"written_at"`
	Writer        string     `json:"writer,omitempty"`
}

// Direction reports what a Sync did.
type Direction string

const (
	DirectionNone     Direction = "none"
	DirectionImported Direction = "imported"
	DirectionExported Direction = "exported"
)

// Plans is the local plan store.
type Plans interface {
	Get(ctx context.Context, dateKey string) (*plan.Plan, error)
	Save(ctx context.Context, p *plan.Plan) error
}

// Syncer reconciles the local plan with the snapshot file.
type Syncer struct {
	path   string
	plans  Plans
	today  func() string
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(s *Syncer) { s.clock = c }
}

// New creates a Syncer for the snapshot at path. today returns the active
// day key.
func New(path string, plans Plans, today func() string, opts ...Option) *Syncer {
	s := &Syncer{
		path:   filepath.Clean(path),
		plans:  plans,
		today:  today,
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file path.
func (s *Syncer) Path() string {
	return s.path
}

// Read loads the snapshot file.
func (s *Syncer) Read() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

// Export writes p to the snapshot file. The write goes through a temporary
// file and a rename so the native side never reads a torn file.
func (s *Syncer) Export(p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(p)
}

func (s *Syncer) write(p *plan.Plan) error {
	snap := Snapshot{
		SchemaVersion: 1,
		DateKey:       p.DateKey,
		Revision:      p.Revision,
		Plan:          p,
		WrittenAt:     s.clock.Now(),
		Writer:        "service",
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Sync compares today's local plan with the snapshot. The side with the
// higher revision overwrites the other; a side with nothing for today is
// bootstrapped from the side that has data. Equal revisions are left alone.
func (s *Syncer) Sync(ctx context.Context) (Direction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dateKey := s.today()

	local, err := s.plans.Get(ctx, dateKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return DirectionNone, fmt.Errorf("load local plan: %w", err)
	}
	if err != nil {
		local = nil
	}

	snap, err := s.Read()
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return DirectionNone, err
	}
	var remote *plan.Plan
	if snap != nil && snap.Plan != nil && snap.DateKey == dateKey && snap.Plan.DateKey == dateKey {
		remote = snap.Plan
		// the envelope revision is authoritative if the native side only bumped it
		if snap.Revision > remote.Revision {
			remote.Revision = snap.Revision
		}
	}

	switch {
	case local == nil && remote == nil:
		return DirectionNone, nil
	case remote == nil, local != nil && local.Revision > remote.Revision:
		if err := s.write(local); err != nil {
			return DirectionNone, err
		}
		s.logger.Debug("Exported plan snapshot", "date_key", dateKey, "revision", local.Revision)
		return DirectionExported, nil
	case local == nil, remote.Revision > local.Revision:
		if err := s.plans.Save(ctx, remote); err != nil {
			return DirectionNone, fmt.Errorf("save imported plan: %w", err)
		}
		s.logger.Info("Imported plan from native snapshot",
			"date_key", dateKey,
			"revision", remote.Revision)
		return DirectionImported, nil
	}
	return DirectionNone, nil
}

// Handler exports the snapshot whenever a plan for today is produced or
// changed locally.
func (s *Syncer) Handler() events.Handler {
	return func(_ context.Context, e events.Event) {
		switch e.Name {
		case events.PlanGenerated, events.PlanUpdated, events.PlanGenerationRecovered:
		default:
			return
		}
		if e.Plan == nil || e.Plan.DateKey != s.today() {
			return
		}
		if err := s.Export(e.Plan); err != nil {
			s.logger.Warn("Failed to export plan snapshot",
				"date_key", e.Plan.DateKey,
				"event", e.Name,
				"error", err)
		}
	}
}
