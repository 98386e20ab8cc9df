package model

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/viperdam/body-mode-sub006/breaker"
)

// Registry maps tiers to preferred endpoints with fallback chains.
type Registry struct {
	mu        sync.RWMutex
	tiers     map[Tier]*TierConfig
	endpoints map[string]*EndpointConfig
	defaults  *DefaultsConfig

	health *breaker.Breaker
}

// TierConfig defines endpoint preferences for a tier.
type TierConfig struct {
	// Description explains what this tier is for.
	Description string `json:"description" yaml:"description"`

	// Preferred lists endpoints in order of preference.
	Preferred []string `json:"preferred" yaml:"preferred"`

	// Fallback lists backup endpoints if all preferred fail.
	Fallback []string `json:"fallback" yaml:"fallback"`
}

// EndpointConfig defines an available model endpoint.
type EndpointConfig struct {
	// Provider is the API dialect (openai, ollama, anthropic).
	Provider string `json:"provider" yaml:"provider"`

	// URL is the API base URL. Empty uses the provider default.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the model identifier sent to the provider.
	Model string `json:"model" yaml:"model"`

	// MaxTokens caps the response length.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// Empty uses the provider's conventional variable.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
}

// DefaultsConfig holds default model settings.
type DefaultsConfig struct {
	// Model is the endpoint used when a tier has no configuration.
	Model string `json:"model" yaml:"model"`
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(tiers map[Tier]*TierConfig, endpoints map[string]*EndpointConfig) *Registry {
	return &Registry{
		tiers:     tiers,
		endpoints: endpoints,
		defaults:  &DefaultsConfig{Model: "default"},
	}
}

// NewDefaultRegistry creates a registry with hosted models for the full tier
// and a cheaper model, then a local model, for the degraded tier.
func NewDefaultRegistry() *Registry {
	return &Registry{
		tiers: map[Tier]*TierConfig{
			TierFull: {
				Description: "Full daily plan with personalised rationale",
				Preferred:   []string{"gpt-4o"},
				Fallback:    []string{"claude-sonnet"},
			},
			TierDegraded: {
				Description: "Compact plan when budget is limited",
				Preferred:   []string{"gpt-4o-mini"},
				Fallback:    []string{"claude-haiku", "llama3.2"},
			},
		},
		endpoints: map[string]*EndpointConfig{
			"gpt-4o": {
				Provider:  "openai",
				Model:     "gpt-4o",
				MaxTokens: 4096,
			},
			"gpt-4o-mini": {
				Provider:  "openai",
				Model:     "gpt-4o-mini",
				MaxTokens: 2048,
			},
			"claude-sonnet": {
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 4096,
			},
			"claude-haiku": {
				Provider:  "anthropic",
				Model:     "claude-haiku-3-5-20241022",
				MaxTokens: 2048,
			},
			"llama3.2": {
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "llama3.2",
				MaxTokens: 2048,
			},
		},
		defaults: &DefaultsConfig{
			Model: "gpt-4o-mini",
		},
	}
}

// Resolve returns the preferred endpoint for a tier.
func (r *Registry) Resolve(t Tier) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.tiers[t]; ok && len(cfg.Preferred) > 0 {
		return cfg.Preferred[0]
	}
	return r.defaults.Model
}

// GetFallbackChain returns all endpoints for a tier in order of preference.
func (r *Registry) GetFallbackChain(t Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.tiers[t]; ok {
		chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
		chain = append(chain, cfg.Preferred...)
		chain = append(chain, cfg.Fallback...)
		return chain
	}
	return []string{r.defaults.Model}
}

// GetEndpoint returns the endpoint configuration for a name, or nil.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.endpoints[name]
}

// SetTier updates or adds a tier configuration.
func (r *Registry) SetTier(t Tier, cfg *TierConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tiers == nil {
		r.tiers = make(map[Tier]*TierConfig)
	}
	r.tiers[t] = cfg
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	r.endpoints[name] = cfg
}

// ListTiers returns all configured tiers, sorted.
func (r *Registry) ListTiers() []Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tiers := make([]Tier, 0, len(r.tiers))
	for t := range r.tiers {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	return tiers
}

// ListEndpoints returns all configured endpoint names, sorted.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON implements json.Marshaler for the registry.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToConfig())
}

// UnmarshalJSON implements json.Unmarshaler for the registry.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	loaded := registryFromConfig(&cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers = loaded.tiers
	r.endpoints = loaded.endpoints
	r.defaults = loaded.defaults
	return nil
}
