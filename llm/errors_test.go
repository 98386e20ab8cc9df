package llm

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTPError(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(error) bool
		wantAfter  time.Duration
	}{
		{"rate limited seconds", http.StatusTooManyRequests, "5", nil, 5 * time.Second},
		{"rate limited date", http.StatusTooManyRequests, now.Add(90 * time.Second).Format(http.TimeFormat), nil, 90 * time.Second},
		{"rate limited no header", http.StatusTooManyRequests, "", nil, 0},
		{"unavailable with retry-after", http.StatusServiceUnavailable, "2", nil, 2 * time.Second},
		{"budget", http.StatusPaymentRequired, "", IsBudgetExhausted, 0},
		{"server error", http.StatusBadGateway, "", IsTransient, 0},
		{"timeout", http.StatusRequestTimeout, "", IsTransient, 0},
		{"auth", http.StatusUnauthorized, "", IsFatal, 0},
		{"bad request", http.StatusBadRequest, "", IsFatal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.retryAfter != "" {
				h.Set("Retry-After", tt.retryAfter)
			}
			err := classifyHTTPError(tt.status, h, []byte("body"), now)
			if tt.check != nil {
				assert.True(t, tt.check(err), "%T", err)
				return
			}
			limited, after := IsRateLimited(err)
			assert.True(t, limited)
			assert.Equal(t, tt.wantAfter, after)
		})
	}
}

func TestErrorHelpersUnwrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := errors.Join(errors.New("context"), NewRateLimitError(base, time.Second))

	limited, after := IsRateLimited(wrapped)
	assert.True(t, limited)
	assert.Equal(t, time.Second, after)
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsTransient(wrapped))
	assert.False(t, IsBudgetExhausted(wrapped))
}

func TestBackoffCapped(t *testing.T) {
	cfg := RetryConfig{BackoffBase: time.Second, BackoffMultiplier: 2, MaxBackoff: 3 * time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := cfg.Backoff(attempt)
		assert.LessOrEqual(t, d, 3*time.Second+750*time.Millisecond)
		assert.Greater(t, d, time.Duration(0))
	}
}
