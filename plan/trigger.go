package plan

import (
	"strings"
	"time"
)

// Trigger is the event that caused a generation attempt.
type Trigger string

const (
	TriggerWake            Trigger = "WAKE"
	TriggerMidnight        Trigger = "MIDNIGHT"
	TriggerBoot            Trigger = "BOOT"
	TriggerAppForeground   Trigger = "APP_FOREGROUND"
	TriggerNetworkRestored Trigger = "NETWORK_RESTORED"
	TriggerManual          Trigger = "MANUAL"
)

// Triggers lists every known trigger.
var Triggers = []Trigger{
	TriggerWake, TriggerMidnight, TriggerBoot,
	TriggerAppForeground, TriggerNetworkRestored, TriggerManual,
}

// IsValid reports whether t is a known trigger.
func (t Trigger) IsValid() bool {
	for _, k := range Triggers {
		if k == t {
			return true
		}
	}
	return false
}

// IsBackground reports whether the user is not actively waiting on this trigger.
func (t Trigger) IsBackground() bool {
	switch t {
	case TriggerMidnight, TriggerBoot, TriggerNetworkRestored:
		return true
	}
	return false
}

// ParseTrigger accepts a trigger name case-insensitively, with '-' or '_'.
func ParseTrigger(s string) Trigger {
	t := Trigger(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if t.IsValid() {
		return t
	}
	return ""
}

// Reason classifies why generation could not produce a fresh plan.
type Reason string

const (
	ReasonLowEnergy   Reason = "LOW_ENERGY"
	ReasonOffline     Reason = "OFFLINE"
	ReasonNoProfile   Reason = "NO_PROFILE"
	ReasonLLMError    Reason = "LLM_ERROR"
	ReasonRateLimited Reason = "RATE_LIMITED"
)

// PendingGeneration records a recoverable failure awaiting regeneration.
type PendingGeneration struct {
	SchemaVersion int       `json:"schema_version"`
	Trigger       Trigger   `json:"trigger"`
	Reason        Reason    `json:"reason"`
	DateKey       string    `json:"date_key"`
	Timestamp     time.Time `json:"timestamp"`
	RetryCount    int       `json:"retry_count"`
}
