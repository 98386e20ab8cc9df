package providers

import (
	"net/http"
	"os"

	"github.com/viperdam/body-mode-sub006/llm"
	"github.com/viperdam/body-mode-sub006/model"
)

// OpenAIProvider talks to OpenAI or any hosted OpenAI-compatible gateway.
// It shares the wire format with OllamaProvider and differs in defaults and auth.
type OpenAIProvider struct {
	OllamaProvider
}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// BuildURL constructs the OpenAI API endpoint.
func (o *OpenAIProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return chatCompletionsURL(baseURL)
}

// SetHeaders adds bearer authentication, reading OPENAI_API_KEY unless the
// endpoint names another variable.
func (o *OpenAIProvider) SetHeaders(req *http.Request, ep *model.EndpointConfig) {
	env := "OPENAI_API_KEY"
	if ep != nil && ep.APIKeyEnv != "" {
		env = ep.APIKeyEnv
	}
	if apiKey := os.Getenv(env); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
