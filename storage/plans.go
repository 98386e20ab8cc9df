package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/viperdam/body-mode-sub006/plan"
)

// PlanRepository stores one plan per day key, mirroring the latest write
// into the legacy unkeyed current_plan slot for older readers.
type PlanRepository struct {
	store Store
}

// NewPlanRepository creates a PlanRepository over store.
func NewPlanRepository(store Store) *PlanRepository {
	return &PlanRepository{store: store}
}

// Get returns the plan for dateKey. When no keyed plan exists it falls back
// to the legacy slot, but only if that plan is for the same day.
func (r *PlanRepository) Get(ctx context.Context, dateKey string) (*plan.Plan, error) {
	var p plan.Plan
	err := GetJSON(ctx, r.store, PlanKey(dateKey), &p)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get plan %s: %w", dateKey, err)
	}

	cur, err := r.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur.DateKey != dateKey {
		return nil, ErrNotFound
	}
	return cur, nil
}

// Current returns whatever plan occupies the legacy slot.
func (r *PlanRepository) Current(ctx context.Context) (*plan.Plan, error) {
	var p plan.Plan
	if err := GetJSON(ctx, r.store, KeyCurrentPlan, &p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get current plan: %w", err)
	}
	return &p, nil
}

// Save writes p to its keyed slot and the legacy slot.
func (r *PlanRepository) Save(ctx context.Context, p *plan.Plan) error {
	if p == nil || p.DateKey == "" {
		return fmt.Errorf("save plan: missing date key")
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = plan.SchemaVersion
	}
	if err := SetJSON(ctx, r.store, PlanKey(p.DateKey), p); err != nil {
		return err
	}
	return SetJSON(ctx, r.store, KeyCurrentPlan, p)
}

// Delete removes the plan for dateKey, and the legacy slot if it holds that day.
func (r *PlanRepository) Delete(ctx context.Context, dateKey string) error {
	if err := RemoveIfExists(ctx, r.store, PlanKey(dateKey)); err != nil {
		return err
	}
	cur, err := r.Current(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if cur.DateKey == dateKey {
		return RemoveIfExists(ctx, r.store, KeyCurrentPlan)
	}
	return nil
}

// Dates returns the day keys with a stored plan, oldest first.
func (r *PlanRepository) Dates(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx, planKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	dates := make([]string, 0, len(keys))
	for _, k := range keys {
		d := strings.TrimPrefix(k, planKeyPrefix)
		// plan_retry_state and plan_retry_lock share the prefix
		if _, err := plan.ParseDayKey(d, nil); err != nil {
			continue
		}
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

// Recent returns up to n stored plans for days strictly before dateKey,
// newest first.
func (r *PlanRepository) Recent(ctx context.Context, dateKey string, n int) ([]*plan.Plan, error) {
	dates, err := r.Dates(ctx)
	if err != nil {
		return nil, err
	}
	var out []*plan.Plan
	for i := len(dates) - 1; i >= 0 && len(out) < n; i-- {
		if dates[i] >= dateKey {
			continue
		}
		var p plan.Plan
		if err := GetJSON(ctx, r.store, PlanKey(dates[i]), &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// Prune deletes keyed plans for days strictly before dateKey and returns
// how many were removed.
func (r *PlanRepository) Prune(ctx context.Context, dateKey string) (int, error) {
	dates, err := r.Dates(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range dates {
		if d >= dateKey {
			break
		}
		if err := RemoveIfExists(ctx, r.store, PlanKey(d)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PendingRepository stores the single pending generation record.
type PendingRepository struct {
	store Store
}

// NewPendingRepository creates a PendingRepository over store.
func NewPendingRepository(store Store) *PendingRepository {
	return &PendingRepository{store: store}
}

// Get returns the pending record or ErrNotFound.
func (r *PendingRepository) Get(ctx context.Context) (*plan.PendingGeneration, error) {
	var p plan.PendingGeneration
	if err := GetJSON(ctx, r.store, KeyPendingGeneration, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save replaces the pending record.
func (r *PendingRepository) Save(ctx context.Context, p *plan.PendingGeneration) error {
	p.SchemaVersion = plan.SchemaVersion
	return SetJSON(ctx, r.store, KeyPendingGeneration, p)
}

// Clear removes the pending record and reports whether one existed.
func (r *PendingRepository) Clear(ctx context.Context) (bool, error) {
	err := r.store.Remove(ctx, KeyPendingGeneration)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("clear pending generation: %w", err)
}
