// Package model resolves generation tiers to LLM endpoints. Callers ask for a
// fidelity tier rather than a model name, and the registry returns the
// endpoint chain for that tier, skipping endpoints whose circuit is open.
package model

// Tier is the generation fidelity requested from the provider.
type Tier string

const (
	// TierFull is full-fidelity generation with the richest model.
	TierFull Tier = "full"

	// TierDegraded is cheaper generation used when budget is limited.
	TierDegraded Tier = "degraded"
)

// IsValid checks if a tier string is a known tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierFull, TierDegraded:
		return true
	}
	return false
}

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// ParseTier converts a string to a Tier, returning empty for invalid values.
func ParseTier(s string) Tier {
	t := Tier(s)
	if t.IsValid() {
		return t
	}
	return ""
}
