// Package llm provides a provider-agnostic LLM client with retry and fallback support.
// Requests name a model tier and the model.Registry resolves it to endpoints.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/viperdam/body-mode-sub006/model"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Completer is the subset of Client used by plan generation.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client is a provider-agnostic LLM client with retry and fallback support.
type Client struct {
	registry    *model.Registry
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
	hooks       []CallHook
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines an LLM completion request.
type Request struct {
	// Tier selects the endpoint chain from the registry.
	Tier model.Tier

	// Messages is the chat history to send to the LLM.
	Messages []Message

	// Temperature controls randomness. nil uses endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses endpoint default.
	MaxTokens int

	// JSON asks providers that support it to constrain output to a JSON object.
	JSON bool
}

// TokenUsage represents token consumption details for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the LLM completion result.
type Response struct {
	// RequestID uniquely identifies this call in logs and call records.
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the model reported by the provider.
	Model string

	// Endpoint is the registry endpoint name that served the request.
	Endpoint string

	// Usage contains token consumption metrics.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithCallHook registers a function that observes every completed call.
func WithCallHook(h CallHook) ClientOption {
	return func(client *Client) {
		client.hooks = append(client.hooks, h)
	}
}

// NewClient creates a new LLM client with the given model registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:    registry,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete sends a completion request along the tier's fallback chain.
//
// Transient failures are retried on the same endpoint and then fall through
// to the next one. Rate limits, budget exhaustion and fatal errors stop the
// walk and are returned as-is so callers can inspect them.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Tier == "" {
		return nil, fmt.Errorf("tier is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	rec := CallRecord{
		RequestID: uuid.New().String(),
		Tier:      req.Tier,
		StartedAt: time.Now(),
	}

	chain := c.registry.GetAvailableFallbackChain(req.Tier)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no models configured for tier %s", req.Tier)
	}

	var lastErr error
	for _, name := range chain {
		endpoint := c.registry.GetEndpoint(name)
		if endpoint == nil {
			c.logger.Debug("No endpoint for model, skipping", "model", name)
			continue
		}
		if !c.registry.IsEndpointAvailable(name) {
			c.logger.Debug("Endpoint circuit open, skipping", "model", name)
			continue
		}

		rec.Endpoint = name
		rec.Provider = endpoint.Provider

		resp, attempts, err := c.tryEndpoint(ctx, endpoint, name, req)
		rec.Retries += attempts - 1
		if err == nil {
			resp.RequestID = rec.RequestID
			resp.Endpoint = name
			rec.Model = resp.Model
			rec.Usage = resp.Usage
			c.finish(rec, nil)
			return resp, nil
		}

		lastErr = err
		if limited, after := IsRateLimited(err); limited {
			c.logger.Warn("Endpoint rate limited",
				"model", name,
				"provider", endpoint.Provider,
				"retry_after", after)
			c.finish(rec, err)
			return nil, err
		}
		if IsBudgetExhausted(err) || IsFatal(err) {
			c.logger.Warn("Endpoint rejected request, not trying fallbacks",
				"model", name,
				"provider", endpoint.Provider,
				"error", err)
			c.finish(rec, err)
			return nil, err
		}
		if ctx.Err() != nil {
			c.finish(rec, ctx.Err())
			return nil, ctx.Err()
		}

		rec.FallbacksUsed = append(rec.FallbacksUsed, name)
		c.logger.Warn("Endpoint failed, trying fallback",
			"model", name,
			"provider", endpoint.Provider,
			"error", err)
	}

	if lastErr == nil {
		lastErr = errors.New("no reachable endpoint")
	}
	err := fmt.Errorf("all endpoints failed for tier %s: %w", req.Tier, lastErr)
	c.finish(rec, err)
	return nil, err
}

func (c *Client) finish(rec CallRecord, err error) {
	rec.Duration = time.Since(rec.StartedAt)
	rec.Err = err
	for _, h := range c.hooks {
		h(rec)
	}
}

// tryEndpoint attempts a request with retry logic and returns the attempt count.
func (c *Client) tryEndpoint(ctx context.Context, ep *model.EndpointConfig, name string, req Request) (*Response, int, error) {
	var lastErr error

	maxAttempts := max(c.retryConfig.MaxAttempts, 1)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, ep, req)
		if err == nil {
			c.registry.MarkEndpointSuccess(name)
			return resp, attempt, nil
		}

		lastErr = err
		if !IsTransient(err) {
			// Rate limits and config errors say nothing about endpoint health.
			return nil, attempt, err
		}

		if attempt < maxAttempts {
			backoff := c.retryConfig.Backoff(attempt)
			c.logger.Debug("Request failed, retrying",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	c.registry.MarkEndpointFailure(name)
	return nil, maxAttempts, lastErr
}

// doRequest executes a single HTTP request to the LLM endpoint.
func (c *Client) doRequest(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := provider.BuildURL(ep.URL)

	if req.MaxTokens == 0 {
		req.MaxTokens = ep.MaxTokens
	}
	body, err := provider.BuildRequestBody(ep.Model, req)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending LLM request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq, ep)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, httpResp.Header, respBody, time.Now())
	}

	resp, err := provider.ParseResponse(respBody, ep.Model)
	if err != nil {
		// a garbled body from a healthy endpoint is worth one more try
		return nil, NewTransientError(err)
	}
	return resp, nil
}
