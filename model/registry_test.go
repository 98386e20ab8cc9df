package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/viperdam/body-mode-sub006/breaker"
	"github.com/viperdam/body-mode-sub006/clock"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	if got := len(r.ListTiers()); got != 2 {
		t.Errorf("expected 2 tiers, got %d", got)
	}
	for _, tier := range r.ListTiers() {
		for _, name := range r.GetFallbackChain(tier) {
			if r.GetEndpoint(name) == nil {
				t.Errorf("tier %s references unknown endpoint %q", tier, name)
			}
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		tier     Tier
		expected string
	}{
		{TierFull, "gpt-4o"},
		{TierDegraded, "gpt-4o-mini"},
		{Tier("unknown"), "gpt-4o-mini"},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			if got := r.Resolve(tt.tier); got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.tier, got, tt.expected)
			}
		})
	}
}

func TestRegistryGetFallbackChain(t *testing.T) {
	r := NewDefaultRegistry()
	chain := r.GetFallbackChain(TierDegraded)
	want := []string{"gpt-4o-mini", "claude-haiku", "llama3.2"}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %q, want %q", i, chain[i], want[i])
		}
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input    string
		expected Tier
	}{
		{"full", TierFull},
		{"degraded", TierDegraded},
		{"rule_based", ""},
		{"FULL", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseTier(tt.input); got != tt.expected {
			t.Errorf("ParseTier(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFromJSON(t *testing.T) {
	t.Run("wrapped", func(t *testing.T) {
		r, err := LoadFromJSON([]byte(`{
			"model_registry": {
				"tiers": {"full": {"preferred": ["a"], "fallback": ["b"]}},
				"endpoints": {"a": {"provider": "openai", "model": "m-a"}, "b": {"provider": "ollama", "model": "m-b"}},
				"defaults": {"model": "b"}
			}
		}`))
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}
		if got := r.Resolve(TierFull); got != "a" {
			t.Errorf("expected a, got %q", got)
		}
		if got := r.Resolve(TierDegraded); got != "b" {
			t.Errorf("expected default b, got %q", got)
		}
	})

	t.Run("unknown tier rejected", func(t *testing.T) {
		_, err := LoadFromJSON([]byte(`{"tiers": {"rule_based": {"preferred": ["x"]}}}`))
		if err == nil {
			t.Fatal("expected error for unknown tier")
		}
	})

	t.Run("round trip", func(t *testing.T) {
		data, err := json.Marshal(NewDefaultRegistry())
		if err != nil {
			t.Fatal(err)
		}
		var r Registry
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatal(err)
		}
		if got := r.Resolve(TierFull); got != "gpt-4o" {
			t.Errorf("expected gpt-4o, got %q", got)
		}
	})
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()
	r.MergeFromConfig(&RegistryConfig{
		Tiers:     map[string]*TierConfig{"full": {Preferred: []string{"local"}}},
		Endpoints: map[string]*EndpointConfig{"local": {Provider: "ollama", Model: "qwen2.5"}},
	})
	if got := r.Resolve(TierFull); got != "local" {
		t.Errorf("expected local, got %q", got)
	}
	if r.GetEndpoint("gpt-4o") == nil {
		t.Error("existing endpoints should survive a merge")
	}
}

func TestEndpointCircuit(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}, breaker.WithClock(clk))

	r.MarkEndpointFailure("gpt-4o")
	if !r.IsEndpointAvailable("gpt-4o") {
		t.Error("expected gpt-4o available after 1 failure")
	}
	r.MarkEndpointFailure("gpt-4o")
	if r.IsEndpointAvailable("gpt-4o") {
		t.Error("expected gpt-4o unavailable after circuit opens")
	}

	chain := r.GetAvailableFallbackChain(TierFull)
	if len(chain) != 1 || chain[0] != "claude-sonnet" {
		t.Errorf("expected only claude-sonnet, got %v", chain)
	}

	clk.Advance(time.Minute)
	if !r.IsEndpointAvailable("gpt-4o") {
		t.Error("expected probe allowed after recovery timeout")
	}
	r.MarkEndpointSuccess("gpt-4o")
	if got := r.EndpointStatus("gpt-4o"); got != breaker.StatusClosed {
		t.Errorf("expected closed, got %s", got)
	}
}

func TestAvailableChainNeverEmpty(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	for _, name := range r.GetFallbackChain(TierFull) {
		r.MarkEndpointFailure(name)
	}
	if got := len(r.GetAvailableFallbackChain(TierFull)); got != 2 {
		t.Errorf("expected full chain when all open, got %d", got)
	}
}
