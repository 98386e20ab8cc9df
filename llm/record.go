package llm

import (
	"time"

	"github.com/viperdam/body-mode-sub006/model"
)

// CallRecord summarises one Complete call across all endpoints it touched.
type CallRecord struct {
	RequestID     string
	Tier          model.Tier
	Endpoint      string
	Provider      string
	Model         string
	Usage         TokenUsage
	StartedAt     time.Time
	Duration      time.Duration
	Retries       int
	FallbacksUsed []string
	Err           error
}

// Outcome classifies the call result for metrics labels.
func (r CallRecord) Outcome() string {
	switch {
	case r.Err == nil:
		return "success"
	case IsBudgetExhausted(r.Err):
		return "budget"
	case IsFatal(r.Err):
		return "fatal"
	}
	if limited, _ := IsRateLimited(r.Err); limited {
		return "rate_limited"
	}
	return "error"
}

// CallHook observes completed calls. Hooks run synchronously on the
// calling goroutine and must not block.
type CallHook func(CallRecord)
