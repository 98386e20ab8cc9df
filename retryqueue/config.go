package retryqueue

import (
	"fmt"
	"strings"
	"time"
)

// Platform selects a backoff ladder.
type Platform string

const (
	// PlatformAndroid suspends background work aggressively, so retries
	// are bunched into the first half hour.
	PlatformAndroid Platform = "android"
	PlatformDefault Platform = "default"
)

// ParsePlatform returns PlatformDefault for anything it does not recognise.
func ParsePlatform(s string) Platform {
	if Platform(strings.ToLower(strings.TrimSpace(s))) == PlatformAndroid {
		return PlatformAndroid
	}
	return PlatformDefault
}

// Ladder returns the delay before each attempt for a platform.
func Ladder(p Platform) []time.Duration {
	if p == PlatformAndroid {
		return []time.Duration{
			30 * time.Second,
			2 * time.Minute,
			5 * time.Minute,
			10 * time.Minute,
			15 * time.Minute,
		}
	}
	return []time.Duration{
		time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		60 * time.Minute,
	}
}

// Config holds retry queue settings.
type Config struct {
	// Ladder is the delay before each attempt. Its length is the attempt cap.
	Ladder []time.Duration

	// MaxAge discards retries created longer ago than this.
	MaxAge time.Duration

	// RateLimitBuffer is added to provider cooldowns before rescheduling.
	RateLimitBuffer time.Duration

	// LockTTL bounds how long a crashed attempt can hold the advisory lock.
	LockTTL time.Duration

	// DayStartOffset and Location resolve the active day for staleness checks.
	DayStartOffset time.Duration
	Location       *time.Location
}

// DefaultConfig returns the settings for a platform.
func DefaultConfig(p Platform) Config {
	return Config{
		Ladder:          Ladder(p),
		MaxAge:          24 * time.Hour,
		RateLimitBuffer: 2 * time.Second,
		LockTTL:         2 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Ladder) == 0 {
		return fmt.Errorf("ladder must have at least one step")
	}
	for i, d := range c.Ladder {
		if d <= 0 {
			return fmt.Errorf("ladder step %d must be positive", i)
		}
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max age must be positive")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}
	return nil
}
