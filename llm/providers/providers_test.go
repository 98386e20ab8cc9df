package providers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperdam/body-mode-sub006/llm"
	"github.com/viperdam/body-mode-sub006/model"
)

func TestRegistered(t *testing.T) {
	for _, name := range []string{"anthropic", "ollama", "openai"} {
		assert.NotNil(t, llm.GetProvider(name), name)
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
		baseURL  string
		want     string
	}{
		{"ollama default", &OllamaProvider{}, "", "http://localhost:11434/v1/chat/completions"},
		{"ollama trailing slash", &OllamaProvider{}, "http://gpu-box:8080/v1/", "http://gpu-box:8080/v1/chat/completions"},
		{"ollama already complete", &OllamaProvider{}, "http://gpu-box:8080/v1/chat/completions", "http://gpu-box:8080/v1/chat/completions"},
		{"openai default", &OpenAIProvider{}, "", "https://api.openai.com/v1/chat/completions"},
		{"openai gateway", &OpenAIProvider{}, "https://openrouter.ai/api/v1", "https://openrouter.ai/api/v1/chat/completions"},
		{"anthropic default", &AnthropicProvider{}, "", "https://api.anthropic.com/v1/messages"},
		{"anthropic trailing slash", &AnthropicProvider{}, "https://proxy.local/", "https://proxy.local/v1/messages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.provider.BuildURL(tt.baseURL))
		})
	}
}

func TestChatRequestBody(t *testing.T) {
	p := &OpenAIProvider{}
	temp := 0.0

	body, err := p.BuildRequestBody("gpt-4o-mini", llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You plan days."},
			{Role: "user", Content: "Plan 2026-03-10"},
		},
		Temperature: &temp,
		MaxTokens:   1024,
		JSON:        true,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "gpt-4o-mini", decoded["model"])
	assert.Equal(t, float64(0), decoded["temperature"], "zero temperature is sent")
	assert.Equal(t, float64(1024), decoded["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, decoded["response_format"])
	assert.Len(t, decoded["messages"], 2)
}

func TestChatRequestBodyOmitsDefaults(t *testing.T) {
	p := &OllamaProvider{}
	body, err := p.BuildRequestBody("llama3.2", llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.NotContains(t, string(body), `"temperature"`)
	assert.NotContains(t, string(body), `"max_tokens"`)
	assert.NotContains(t, string(body), `"response_format"`)
}

func TestChatParseResponse(t *testing.T) {
	p := &OllamaProvider{}

	resp, err := p.ParseResponse([]byte(`{
		"id": "chatcmpl-1",
		"model": "llama3.2",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"items\":[]}"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 6, "total_tokens": 16}
	}`), "fallback-name")
	require.NoError(t, err)

	assert.Equal(t, `{"items":[]}`, resp.Content)
	assert.Equal(t, "llama3.2", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, llm.TokenUsage{PromptTokens: 10, CompletionTokens: 6, TotalTokens: 16}, resp.Usage)

	_, err = p.ParseResponse([]byte(`{"choices": []}`), "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestAnthropicRequestBody(t *testing.T) {
	p := &AnthropicProvider{}

	body, err := p.BuildRequestBody("claude-haiku", llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You plan days."},
			{Role: "user", Content: "Plan 2026-03-10"},
		},
		JSON: true,
	})
	require.NoError(t, err)

	var decoded anthropicRequest
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, 4096, decoded.MaxTokens, "default max tokens")
	assert.Len(t, decoded.Messages, 1, "system message lifted out")
	assert.Equal(t, "user", decoded.Messages[0].Role)
	assert.Contains(t, decoded.System, "You plan days.")
	assert.Contains(t, decoded.System, jsonInstruction)
	assert.Nil(t, decoded.Temperature)
}

func TestAnthropicParseResponse(t *testing.T) {
	p := &AnthropicProvider{}

	resp, err := p.ParseResponse([]byte(`{
		"id": "msg_1",
		"content": [{"type": "text", "text": "part one "}, {"type": "tool_use"}, {"type": "text", "text": "part two"}],
		"model": "claude-haiku-3-5",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 15, "output_tokens": 8}
	}`), "claude-haiku")
	require.NoError(t, err)

	assert.Equal(t, "part one part two", resp.Content)
	assert.Equal(t, 23, resp.Usage.TotalTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestSetHeaders(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("PLAN_GATEWAY_KEY", "sk-gateway")
	t.Setenv("ANTHROPIC_API_KEY", "ant-key")

	tests := []struct {
		name     string
		provider llm.Provider
		ep       *model.EndpointConfig
		header   string
		want     string
	}{
		{"openai default env", &OpenAIProvider{}, &model.EndpointConfig{}, "Authorization", "Bearer sk-default"},
		{"openai custom env", &OpenAIProvider{}, &model.EndpointConfig{APIKeyEnv: "PLAN_GATEWAY_KEY"}, "Authorization", "Bearer sk-gateway"},
		{"ollama without env", &OllamaProvider{}, &model.EndpointConfig{}, "Authorization", ""},
		{"ollama with env", &OllamaProvider{}, &model.EndpointConfig{APIKeyEnv: "PLAN_GATEWAY_KEY"}, "Authorization", "Bearer sk-gateway"},
		{"anthropic key", &AnthropicProvider{}, &model.EndpointConfig{}, "x-api-key", "ant-key"},
		{"anthropic version", &AnthropicProvider{}, nil, "anthropic-version", anthropicVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "http://example.invalid", nil)
			tt.provider.SetHeaders(req, tt.ep)
			assert.Equal(t, tt.want, req.Header.Get(tt.header))
		})
	}
}
