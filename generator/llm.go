package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viperdam/body-mode-sub006/clock"
	"github.com/viperdam/body-mode-sub006/llm"
	"github.com/viperdam/body-mode-sub006/model"
	"github.com/viperdam/body-mode-sub006/plan"
)

// maxFormatRetries bounds how many times a malformed answer is fed back to
// the model for correction.
const maxFormatRetries = 2

// LLMProvider generates plans through an llm.Completer.
type LLMProvider struct {
	client      llm.Completer
	clock       clock.Clock
	logger      *slog.Logger
	temperature float64

	mu           sync.Mutex
	limitedUntil time.Time
}

// Option configures an LLMProvider.
type Option func(*LLMProvider)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *LLMProvider) { p.logger = l }
}

// WithClock sets the clock used for rate-limit deadlines.
func WithClock(c clock.Clock) Option {
	return func(p *LLMProvider) { p.clock = c }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *LLMProvider) { p.temperature = t }
}

// NewLLMProvider creates a provider over client.
func NewLLMProvider(client llm.Completer, opts ...Option) *LLMProvider {
	p := &LLMProvider{
		client:      client,
		clock:       clock.System{},
		logger:      slog.Default(),
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate asks the model for a plan, retrying once with a correction prompt
// when the answer cannot be parsed.
func (p *LLMProvider) Generate(ctx context.Context, gc Context) (*plan.Plan, error) {
	if gc.DateKey == "" {
		return nil, fmt.Errorf("generate plan: date key is required")
	}
	if limited, wait := p.RateLimitStatus(); limited {
		return nil, &RateLimitedError{RetryAfter: wait}
	}

	tier := gc.Tier
	if tier == "" {
		tier = model.TierDegraded
	}
	userPrompt, err := buildUserPrompt(gc)
	if err != nil {
		return nil, err
	}
	messages := []llm.Message{
		{Role: "system", Content: buildSystemPrompt(gc)},
		{Role: "user", Content: userPrompt},
	}

	temperature := p.temperature
	var lastErr error
	for attempt := range maxFormatRetries {
		resp, err := p.client.Complete(ctx, llm.Request{
			Tier:        tier,
			Messages:    messages,
			Temperature: &temperature,
			JSON:        true,
		})
		if err != nil {
			return nil, p.classify(err)
		}

		p.logger.Debug("Plan completion received",
			"date_key", gc.DateKey,
			"model", resp.Model,
			"tokens_used", resp.Usage.TotalTokens,
			"attempt", attempt+1)

		generated, parseErr := parsePlan(resp.Content, gc.DateKey)
		if parseErr == nil {
			generated.Source = plan.SourceCloud
			generated.Tier = string(tier)
			generated.Language = gc.Language
			generated.GeneratedAt = p.clock.Now()
			return generated, nil
		}

		lastErr = parseErr
		if attempt+1 >= maxFormatRetries {
			break
		}
		p.logger.Warn("Plan format retry",
			"date_key", gc.DateKey,
			"attempt", attempt+1,
			"error", parseErr)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: formatCorrectionPrompt(parseErr)},
		)
	}

	return nil, fmt.Errorf("parse plan from response: %w", lastErr)
}

// RateLimitStatus reports whether a previous call hit a rate limit whose
// cooldown has not yet elapsed.
func (p *LLMProvider) RateLimitStatus() (bool, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.limitedUntil.Sub(p.clock.Now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// classify translates client errors into generator errors and remembers
// rate-limit deadlines.
func (p *LLMProvider) classify(err error) error {
	if limited, wait := llm.IsRateLimited(err); limited {
		if wait > 0 {
			p.mu.Lock()
			p.limitedUntil = p.clock.Now().Add(wait)
			p.mu.Unlock()
		}
		return &RateLimitedError{RetryAfter: wait, Err: err}
	}
	if llm.IsBudgetExhausted(err) {
		return fmt.Errorf("%w: %w", ErrBudgetExhausted, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("generation timed out: %w", err)
	}
	return fmt.Errorf("LLM completion: %w", err)
}

var _ Provider = (*LLMProvider)(nil)
