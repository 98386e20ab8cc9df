package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viperdam/body-mode-sub006/generator"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/storage"
)

// RetryState is the single persisted retry slot.
type RetryState struct {
	SchemaVersion int               `json:"schema_version"`
	Queued        bool              `json:"queued"`
	Attempt       int               `json:"attempt"`
	NextRetryAt   time.Time         `json:"next_retry_at"`
	DateKey       string            `json:"date_key"`
	Language      string            `json:"language,omitempty"`
	Trigger       plan.Trigger      `json:"trigger"`
	Reason        plan.Reason       `json:"reason"`
	CreatedAt     time.Time         `json:"created_at"`
	LastError     string            `json:"last_error,omitempty"`
	RateLimits    int               `json:"rate_limits,omitempty"`
	Context       generator.Context `json:"context"`
}

// Repository persists the retry slot.
type Repository struct {
	store storage.Store
}

// NewRepository creates a Repository over store.
func NewRepository(store storage.Store) *Repository {
	return &Repository{store: store}
}

// Load returns the stored state, or nil if there is none.
func (r *Repository) Load(ctx context.Context) (*RetryState, error) {
	var s RetryState
	if err := storage.GetJSON(ctx, r.store, storage.KeyRetryState, &s); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load retry state: %w", err)
	}
	return &s, nil
}

// Save replaces the stored state.
func (r *Repository) Save(ctx context.Context, s *RetryState) error {
	s.SchemaVersion = plan.SchemaVersion
	if err := storage.SetJSON(ctx, r.store, storage.KeyRetryState, s); err != nil {
		return fmt.Errorf("save retry state: %w", err)
	}
	return nil
}

// Clear removes the stored state.
func (r *Repository) Clear(ctx context.Context) error {
	if err := storage.RemoveIfExists(ctx, r.store, storage.KeyRetryState); err != nil {
		return fmt.Errorf("clear retry state: %w", err)
	}
	return nil
}
