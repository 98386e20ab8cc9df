// Package storage provides the keyed persistent store behind plans, pending
// generation records, retry state, and breaker state, with memory, SQLite,
// and NATS KV backends.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is a keyed blob store with get/set/remove semantics plus the two
// conditional writes needed for advisory locking.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Create writes value only if key is absent, otherwise ErrExists.
	Create(ctx context.Context, key string, value []byte) error

	// CompareAndSwap replaces old with value, or returns ErrConflict if the
	// stored bytes differ from old.
	CompareAndSwap(ctx context.Context, key string, old, value []byte) error
}

// Well-known keys.
const (
	KeyCurrentPlan       = "current_plan"
	KeyPendingGeneration = "pending_plan_generation"
	KeyRetryState        = "plan_retry_state"
	KeyRetryLock         = "plan_retry_lock"
	KeyUserProfile       = "user_profile"
	KeyEnergyBudget      = "energy_budget"
	KeyLastWake          = "last_wake_time"

	planKeyPrefix    = "plan_"
	breakerKeyPrefix = "circuit_breaker_"
)

// PlanKey returns the key of the plan stored for a day.
func PlanKey(dateKey string) string {
	return planKeyPrefix + dateKey
}

// BreakerKey returns the key of a named circuit breaker's state.
func BreakerKey(name string) string {
	return breakerKeyPrefix + name
}

// GetJSON loads key into v. It returns ErrNotFound when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// RemoveIfExists deletes key, treating an absent key as success.
func RemoveIfExists(ctx context.Context, s Store, key string) error {
	if err := s.Remove(ctx, key); err != nil && !isNotFound(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
