package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// RegistryConfig is the serialised form of a Registry. It appears under
// "model" in the service configuration.
type RegistryConfig struct {
	Tiers     map[string]*TierConfig     `json:"tiers" yaml:"tiers"`
	Endpoints map[string]*EndpointConfig `json:"endpoints" yaml:"endpoints"`
	Defaults  *DefaultsConfig            `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// LoadFromFile loads a registry configuration from a JSON file.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return LoadFromJSON(data)
}

// LoadFromJSON loads a registry from JSON data. It accepts either a wrapper
// object with a "model_registry" key or the registry config itself.
func LoadFromJSON(data []byte) (*Registry, error) {
	var wrapped struct {
		ModelRegistry *RegistryConfig `json:"model_registry"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.ModelRegistry != nil {
		return FromConfig(wrapped.ModelRegistry)
	}

	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}

	return FromConfig(&cfg)
}

// FromConfig builds a Registry and rejects unknown tiers.
func FromConfig(cfg *RegistryConfig) (*Registry, error) {
	for k := range cfg.Tiers {
		if ParseTier(k) == "" {
			return nil, fmt.Errorf("unknown tier %q", k)
		}
	}
	return registryFromConfig(cfg), nil
}

func registryFromConfig(cfg *RegistryConfig) *Registry {
	tiers := make(map[Tier]*TierConfig, len(cfg.Tiers))
	for k, v := range cfg.Tiers {
		tiers[Tier(k)] = v
	}

	endpoints := cfg.Endpoints
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}

	defaults := cfg.Defaults
	if defaults == nil {
		defaults = &DefaultsConfig{Model: "default"}
	}

	return &Registry{
		tiers:     tiers,
		endpoints: endpoints,
		defaults:  defaults,
	}
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tiers := make(map[string]*TierConfig, len(r.tiers))
	for k, v := range r.tiers {
		tiers[string(k)] = v
	}

	return &RegistryConfig{
		Tiers:     tiers,
		Endpoints: r.endpoints,
		Defaults:  r.defaults,
	}
}

// MergeFromConfig merges configuration into an existing registry.
// Existing entries are overwritten by the new config.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tiers == nil {
		r.tiers = make(map[Tier]*TierConfig)
	}
	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	for k, v := range cfg.Tiers {
		r.tiers[Tier(k)] = v
	}
	for k, v := range cfg.Endpoints {
		r.endpoints[k] = v
	}
	if cfg.Defaults != nil {
		r.defaults = cfg.Defaults
	}
}
