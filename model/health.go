package model

import (
	"context"
	"time"

	"github.com/viperdam/body-mode-sub006/breaker"
)

// HealthConfig configures per-endpoint circuit breaking.
type HealthConfig struct {
	// FailureThreshold is the number of failures before opening the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long to wait before trying a failed endpoint again.
	RecoveryTimeout time.Duration
}

// DefaultHealthConfig returns defaults for endpoint health tracking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// SetHealthConfig replaces endpoint health tracking, forgetting prior state.
func (r *Registry) SetHealthConfig(cfg HealthConfig, opts ...breaker.Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = breaker.New(breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.RecoveryTimeout,
	}, opts...)
}

func (r *Registry) healthBreaker() *breaker.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.health == nil {
		d := DefaultHealthConfig()
		r.health = breaker.New(breaker.Config{FailureThreshold: d.FailureThreshold, Cooldown: d.RecoveryTimeout})
	}
	return r.health
}

// MarkEndpointSuccess records a successful request to an endpoint.
func (r *Registry) MarkEndpointSuccess(name string) {
	r.healthBreaker().RecordSuccess(context.Background(), name)
}

// MarkEndpointFailure records a failed request to an endpoint.
func (r *Registry) MarkEndpointFailure(name string) {
	r.healthBreaker().RecordFailure(context.Background(), name)
}

// IsEndpointAvailable reports whether requests may be sent to an endpoint.
// After the recovery timeout one probe request is let through.
func (r *Registry) IsEndpointAvailable(name string) bool {
	ok, _ := r.healthBreaker().Allow(context.Background(), name)
	return ok
}

// EndpointStatus returns the breaker status of an endpoint.
func (r *Registry) EndpointStatus(name string) breaker.Status {
	_, status := r.healthBreaker().State(context.Background(), name)
	return status
}

// GetAvailableFallbackChain returns the tier's chain without endpoints whose
// circuit is open. If every endpoint is open the full chain is returned.
func (r *Registry) GetAvailableFallbackChain(t Tier) []string {
	chain := r.GetFallbackChain(t)
	h := r.healthBreaker()

	available := make([]string, 0, len(chain))
	for _, name := range chain {
		if _, status := h.State(context.Background(), name); status != breaker.StatusOpen {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return chain
	}
	return available
}
