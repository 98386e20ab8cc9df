package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// RateLimitError is returned when the provider asks the caller to back off.
// It is never retried inside the client so the caller can schedule the wait.
type RateLimitError struct {
	RetryAfter time.Duration
	err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", e.err, e.RetryAfter)
	}
	return e.err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// NewRateLimitError wraps err with a retry-after hint.
func NewRateLimitError(err error, retryAfter time.Duration) error {
	return &RateLimitError{RetryAfter: retryAfter, err: err}
}

// BudgetError is returned when the provider account has no remaining quota
// or credit. Retrying cannot help until the budget is replenished.
type BudgetError struct {
	err error
}

func (e *BudgetError) Error() string {
	return e.err.Error()
}

func (e *BudgetError) Unwrap() error {
	return e.err
}

// NewBudgetError wraps err as a budget exhaustion.
func NewBudgetError(err error) error {
	return &BudgetError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsRateLimited reports whether err carries a rate-limit signal, and the
// requested wait if the provider gave one.
func IsRateLimited(err error) (bool, time.Duration) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true, rl.RetryAfter
	}
	return false, 0
}

// IsBudgetExhausted returns true if the provider reported insufficient budget.
func IsBudgetExhausted(err error) bool {
	var b *BudgetError
	return errors.As(err, &b)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns zero when the header is absent or unparsable.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// classifyHTTPError maps a non-200 response to a typed error.
func classifyHTTPError(statusCode int, header http.Header, body []byte, now time.Time) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(err, parseRetryAfter(header.Get("Retry-After"), now))
	case statusCode == http.StatusPaymentRequired:
		return NewBudgetError(err)
	case statusCode == http.StatusServiceUnavailable && header.Get("Retry-After") != "":
		return NewRateLimitError(err, parseRetryAfter(header.Get("Retry-After"), now))
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusRequestTimeout:
		return NewTransientError(err)
	default:
		// auth, bad request and anything unexpected
		return NewFatalError(err)
	}
}
