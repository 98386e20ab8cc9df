// Package generator produces raw daily plans from a generation context. The
// orchestrator treats a Provider as a black box that returns a plan or a
// classified failure.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viperdam/body-mode-sub006/envcontext"
	"github.com/viperdam/body-mode-sub006/model"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/profile"
)

// ErrBudgetExhausted is returned when the provider itself reports that the
// account cannot pay for another generation.
var ErrBudgetExhausted = errors.New("generation budget exhausted")

// ErrInvalidPlan is returned when the provider answered but no usable plan
// could be read from the answer.
var ErrInvalidPlan = errors.New("invalid generated plan")

// RateLimitedError signals a provider-imposed cooldown.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("generation rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a rate-limit signal and the
// requested wait.
func IsRateLimited(err error) (bool, time.Duration) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true, rl.RetryAfter
	}
	return false, 0
}

// Context is everything a provider needs to generate one day. It is
// serialized into the retry state so a retry can run without re-collecting it.
type Context struct {
	DateKey      string              `json:"date_key"`
	Tier         model.Tier          `json:"tier"`
	Language     string              `json:"language,omitempty"`
	Profile      *profile.Profile    `json:"profile,omitempty"`
	History      []plan.Adherence    `json:"history,omitempty"`
	Environment  envcontext.Snapshot `json:"environment,omitempty"`
	PreviousPlan *plan.Plan          `json:"previous_plan,omitempty"`
}

// Provider generates a raw, not yet normalized, plan.
type Provider interface {
	Generate(ctx context.Context, gc Context) (*plan.Plan, error)

	// RateLimitStatus reports whether the provider is cooling down after a
	// rate limit and how long is left.
	RateLimitStatus() (limited bool, retryAfter time.Duration)
}
