package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/llm"
	_ "github.com/viperdam/body-mode-sub006/llm/providers" // Register providers
	"github.com/viperdam/body-mode-sub006/model"
)

func fastRetry() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func writeChat(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":    "chatcmpl-1",
		"model": "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
	})
}

func singleEndpoint(url string) *model.Registry {
	return model.NewRegistry(
		map[model.Tier]*model.TierConfig{
			model.TierFull: {Preferred: []string{"primary"}},
		},
		map[string]*model.EndpointConfig{
			"primary": {Provider: "ollama", URL: url, Model: "test-model"},
		},
	)
}

func userRequest() llm.Request {
	return llm.Request{
		Tier:     model.TierFull,
		Messages: []llm.Message{{Role: "user", Content: "plan my day"}},
	}
}

func TestClientCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeChat(w, `{"items":[]}`)
	}))
	defer server.Close()

	var records []llm.CallRecord
	client := llm.NewClient(singleEndpoint(server.URL),
		llm.WithCallHook(func(r llm.CallRecord) { records = append(records, r) }))

	resp, err := client.Complete(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, resp.Content)
	assert.Equal(t, "primary", resp.Endpoint)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 18, resp.Usage.TotalTokens)

	require.Len(t, records, 1)
	assert.Equal(t, "success", records[0].Outcome())
	assert.Equal(t, resp.RequestID, records[0].RequestID)
	assert.Equal(t, model.TierFull, records[0].Tier)
}

func TestClientRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeChat(w, "ok")
	}))
	defer server.Close()

	client := llm.NewClient(singleEndpoint(server.URL), llm.WithRetryConfig(fastRetry()))

	resp, err := client.Complete(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryFatalErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	client := llm.NewClient(singleEndpoint(server.URL), llm.WithRetryConfig(fastRetry()))

	_, err := client.Complete(context.Background(), userRequest())
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientRateLimitSurfacesImmediately(t *testing.T) {
	var primary, secondary atomic.Int32
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primary.Add(1)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		secondary.Add(1)
		writeChat(w, "should not be reached")
	}))
	defer backup.Close()

	registry := model.NewRegistry(
		map[model.Tier]*model.TierConfig{
			model.TierFull: {Preferred: []string{"primary"}, Fallback: []string{"backup"}},
		},
		map[string]*model.EndpointConfig{
			"primary": {Provider: "ollama", URL: limited.URL, Model: "a"},
			"backup":  {Provider: "ollama", URL: backup.URL, Model: "b"},
		},
	)
	var outcome string
	client := llm.NewClient(registry,
		llm.WithRetryConfig(fastRetry()),
		llm.WithCallHook(func(r llm.CallRecord) { outcome = r.Outcome() }))

	_, err := client.Complete(context.Background(), userRequest())
	require.Error(t, err)

	isLimited, after := llm.IsRateLimited(err)
	assert.True(t, isLimited)
	assert.Equal(t, 5*time.Second, after)
	assert.Equal(t, int32(1), primary.Load(), "rate limit is not retried")
	assert.Zero(t, secondary.Load(), "rate limit does not fall back")
	assert.Equal(t, "rate_limited", outcome)
	assert.True(t, registry.IsEndpointAvailable("primary"), "rate limit leaves endpoint healthy")
}

func TestClientBudgetExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := llm.NewClient(singleEndpoint(server.URL), llm.WithRetryConfig(fastRetry()))

	_, err := client.Complete(context.Background(), userRequest())
	require.Error(t, err)
	assert.True(t, llm.IsBudgetExhausted(err))
	assert.False(t, llm.IsTransient(err))
}

func TestClientFallsBackAfterTransientFailures(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeChat(w, "from backup")
	}))
	defer up.Close()

	registry := model.NewRegistry(
		map[model.Tier]*model.TierConfig{
			model.TierDegraded: {Preferred: []string{"primary"}, Fallback: []string{"backup"}},
		},
		map[string]*model.EndpointConfig{
			"primary": {Provider: "ollama", URL: down.URL, Model: "a"},
			"backup":  {Provider: "ollama", URL: up.URL, Model: "b"},
		},
	)
	var record llm.CallRecord
	client := llm.NewClient(registry,
		llm.WithRetryConfig(fastRetry()),
		llm.WithCallHook(func(r llm.CallRecord) { record = r }))

	resp, err := client.Complete(context.Background(), llm.Request{
		Tier:     model.TierDegraded,
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Content)
	assert.Equal(t, "backup", resp.Endpoint)
	assert.Equal(t, []string{"primary"}, record.FallbacksUsed)
	assert.Equal(t, 2, record.Retries)
}

func TestClientContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeChat(w, "late")
	}))
	defer server.Close()

	client := llm.NewClient(singleEndpoint(server.URL), llm.WithRetryConfig(fastRetry()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, userRequest())
	require.Error(t, err)
}

func TestClientValidation(t *testing.T) {
	client := llm.NewClient(model.NewDefaultRegistry())

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	assert.ErrorContains(t, err, "tier is required")

	_, err = client.Complete(context.Background(), llm.Request{Tier: model.TierFull})
	assert.ErrorContains(t, err, "at least one message")
}
