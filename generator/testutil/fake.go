// Package testutil provides a scripted generator.Provider for tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/viperdam/body-mode-sub006/generator"
	"github.com/viperdam/body-mode-sub006/plan"
)

// FakeProvider returns scripted results in order. When the script runs out
// the last entry repeats; with no script it returns SamplePlan.
type FakeProvider struct {
	mu       sync.Mutex
	results  []result
	calls    []generator.Context
	limited  bool
	limitFor time.Duration
}

type result struct {
	plan *plan.Plan
	err  error
}

// NewFakeProvider creates an empty fake.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{}
}

// ReturnPlan appends a successful result.
func (f *FakeProvider) ReturnPlan(p *plan.Plan) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result{plan: p})
	return f
}

// ReturnError appends a failing result.
func (f *FakeProvider) ReturnError(err error) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result{err: err})
	return f
}

// SetRateLimited sets what RateLimitStatus reports.
func (f *FakeProvider) SetRateLimited(limited bool, retryAfter time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limited, f.limitFor = limited, retryAfter
}

// Generate implements generator.Provider.
func (f *FakeProvider) Generate(_ context.Context, gc generator.Context) (*plan.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := len(f.calls)
	f.calls = append(f.calls, gc)

	var r result
	switch {
	case len(f.results) == 0:
		r = result{plan: SamplePlan(gc.DateKey)}
	case i < len(f.results):
		r = f.results[i]
	default:
		r = f.results[len(f.results)-1]
	}
	if r.err != nil {
		return nil, r.err
	}
	p := r.plan.Clone()
	p.DateKey = gc.DateKey
	return p, nil
}

// RateLimitStatus implements generator.Provider.
func (f *FakeProvider) RateLimitStatus() (bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limited, f.limitFor
}

// Calls returns the contexts passed to Generate.
func (f *FakeProvider) Calls() []generator.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]generator.Context, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of Generate calls.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// SamplePlan is a small raw plan as a provider would return it.
func SamplePlan(dateKey string) *plan.Plan {
	return &plan.Plan{
		DateKey: dateKey,
		Summary: "A steady day with a lunchtime walk.",
		Source:  plan.SourceCloud,
		Items: []plan.Item{
			{Time: "08:00", Category: plan.CategoryMeal, Title: "Oats with berries"},
			{Time: "10:30", Category: plan.CategoryHydration, Title: "Water break"},
			{Time: "12:45", Category: plan.CategoryActivity, Title: "20 minute walk"},
			{Time: "13:15", Category: plan.CategoryMeal, Title: "Chicken salad"},
			{Time: "19:30", Category: plan.CategoryMeal, Title: "Salmon and rice"},
			{Time: "22:30", Category: plan.CategorySleep, Title: "Lights out"},
		},
	}
}

var _ generator.Provider = (*FakeProvider)(nil)
