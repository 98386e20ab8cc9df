// Package energy tracks the consumable generation budget that gates how often
// and at what fidelity plans may be generated.
package energy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/viperdam/body-mode-sub006/clock"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/storage"
)

// ErrInsufficient is returned when a consume exceeds the balance.
var ErrInsufficient = errors.New("insufficient energy")

// Level is the generation fidelity a balance affords.
type Level int

const (
	LevelInsufficient Level = iota
	LevelDegraded
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelDegraded:
		return "degraded"
	default:
		return "insufficient"
	}
}

// Config holds thresholds and costs.
type Config struct {
	HighThreshold  int           `yaml:"high_threshold"`
	LowThreshold   int           `yaml:"low_threshold"`
	FullCost       int           `yaml:"full_cost"`
	DegradedCost   int           `yaml:"degraded_cost"`
	DailyAllowance int           `yaml:"daily_allowance"`
	DayStartOffset time.Duration `yaml:"-"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		HighThreshold:  15,
		LowThreshold:   5,
		FullCost:       10,
		DegradedCost:   5,
		DailyAllowance: 20,
	}
}

// Classify maps a balance to a generation level. A bypass token always
// affords at least degraded generation.
func (c Config) Classify(balance int, bypass bool) Level {
	switch {
	case balance >= c.HighThreshold:
		return LevelFull
	case balance >= c.LowThreshold:
		return LevelDegraded
	case bypass:
		return LevelDegraded
	default:
		return LevelInsufficient
	}
}

// Cost returns what a successful generation at level consumes.
func (c Config) Cost(l Level) int {
	switch l {
	case LevelFull:
		return c.FullCost
	case LevelDegraded:
		return c.DegradedCost
	}
	return 0
}

// Budget is the persisted ledger state.
type Budget struct {
	SchemaVersion int       `json:"schema_version"`
	Balance       int       `json:"balance"`
	BypassTokens  int       `json:"bypass_tokens"`
	RefilledFor   string    `json:"refilled_for,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Ledger is the store-backed energy budget.
type Ledger struct {
	mu    sync.Mutex
	store storage.Store
	clock clock.Clock
	cfg   Config
}

// NewLedger creates a Ledger.
func NewLedger(store storage.Store, clk clock.Clock, cfg Config) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	return &Ledger{store: store, clock: clk, cfg: cfg}
}

// Config returns the ledger's thresholds.
func (l *Ledger) Config() Config {
	return l.cfg
}

// Current returns the balance, refilling first if the active day rolled over.
func (l *Ledger) Current(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// Consume deducts n from the balance.
func (l *Ledger) Consume(ctx context.Context, n int) error {
	return l.update(ctx, func(b *Budget) error {
		if b.Balance < n {
			return fmt.Errorf("%w: balance %d, need %d", ErrInsufficient, b.Balance, n)
		}
		b.Balance -= n
		return nil
	})
}

// TopUp adds n to the balance.
func (l *Ledger) TopUp(ctx context.Context, n int) error {
	return l.update(ctx, func(b *Budget) error {
		b.Balance += n
		return nil
	})
}

// GrantBypass adds a single-use token that allows generation regardless of balance.
func (l *Ledger) GrantBypass(ctx context.Context) error {
	return l.update(ctx, func(b *Budget) error {
		b.BypassTokens++
		return nil
	})
}

// HasBypass reports whether a bypass token is available.
func (l *Ledger) HasBypass(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	return b.BypassTokens > 0, nil
}

// ConsumeBypass uses one bypass token.
func (l *Ledger) ConsumeBypass(ctx context.Context) error {
	return l.update(ctx, func(b *Budget) error {
		if b.BypassTokens == 0 {
			return fmt.Errorf("%w: no bypass token", ErrInsufficient)
		}
		b.BypassTokens--
		return nil
	})
}

func (l *Ledger) update(ctx context.Context, fn func(*Budget) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		return err
	}
	return l.save(ctx, b)
}

// load reads the budget and applies the daily refill. Caller holds mu.
func (l *Ledger) load(ctx context.Context) (*Budget, error) {
	var b Budget
	err := storage.GetJSON(ctx, l.store, storage.KeyEnergyBudget, &b)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load energy budget: %w", err)
	}
	today := plan.ActiveDay(l.clock.Now(), l.cfg.DayStartOffset)
	if b.RefilledFor != today {
		b.RefilledFor = today
		if b.Balance < l.cfg.DailyAllowance {
			b.Balance = l.cfg.DailyAllowance
		}
		if err := l.save(ctx, &b); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func (l *Ledger) save(ctx context.Context, b *Budget) error {
	b.SchemaVersion = 1
	b.UpdatedAt = l.clock.Now()
	if err := storage.SetJSON(ctx, l.store, storage.KeyEnergyBudget, b); err != nil {
		return fmt.Errorf("save energy budget: %w", err)
	}
	return nil
}
