// Package config loads the daily plan service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viperdam/body-mode-sub006/breaker"
	"github.com/viperdam/body-mode-sub006/energy"
	"github.com/viperdam/body-mode-sub006/llm"
	"github.com/viperdam/body-mode-sub006/model"
	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/retryqueue"
	"github.com/viperdam/body-mode-sub006/scheduler"
)

// Config represents the complete service configuration.
type Config struct {
	Store      StoreConfig           `yaml:"store"`
	NATS       NATSConfig            `yaml:"nats"`
	Model      *model.RegistryConfig `yaml:"model,omitempty"`
	LLM        LLMConfig             `yaml:"llm"`
	Generation GenerationConfig      `yaml:"generation"`
	Energy     energy.Config         `yaml:"energy"`
	Breaker    breaker.Config        `yaml:"breaker"`
	Retry      RetryConfig           `yaml:"retry"`
	Sync       SyncConfig            `yaml:"sync"`
	Schedule   ScheduleConfig        `yaml:"schedule"`
	Metrics    MetricsConfig         `yaml:"metrics"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// StoreConfig selects and configures the persistent store.
type StoreConfig struct {
	// Backend is memory, sqlite or nats.
	Backend string `yaml:"backend"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// Bucket is the JetStream key-value bucket.
	Bucket string `yaml:"bucket"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL. Empty disables the request/reply service
	// and event publishing.
	URL string `yaml:"url"`
	// Name identifies the connection on the server.
	Name string `yaml:"name"`
}

// LLMConfig configures completion calls.
type LLMConfig struct {
	Temperature float64         `yaml:"temperature"`
	Timeout     time.Duration   `yaml:"timeout"`
	Retry       llm.RetryConfig `yaml:"retry"`
}

// GenerationConfig configures the orchestrator.
type GenerationConfig struct {
	// DayStartOffset shifts the active day boundary, e.g. 4h for a day
	// that starts at 04:00.
	DayStartOffset time.Duration `yaml:"day_start_offset"`
	// Timezone is an IANA zone name. Empty uses the local zone.
	Timezone      string `yaml:"timezone"`
	MaxLLMRetries int    `yaml:"max_llm_retries"`
	HistoryDays   int    `yaml:"history_days"`
	// Dependency names the circuit breaker entry guarding generation.
	Dependency string `yaml:"dependency"`
}

// RetryConfig configures the background retry queue.
type RetryConfig struct {
	// Platform selects the default ladder: android or default.
	Platform string `yaml:"platform"`
	// Ladder overrides the platform ladder.
	Ladder          []time.Duration `yaml:"ladder,omitempty"`
	MaxAge          time.Duration   `yaml:"max_age"`
	RateLimitBuffer time.Duration   `yaml:"rate_limit_buffer"`
	LockTTL         time.Duration   `yaml:"lock_ttl"`
}

// SyncConfig configures the native snapshot file.
type SyncConfig struct {
	// SnapshotPath is the shared file. Empty disables native sync.
	SnapshotPath string        `yaml:"snapshot_path"`
	Debounce     time.Duration `yaml:"debounce"`
}

// ScheduleConfig configures the scheduled triggers.
type ScheduleConfig struct {
	MidnightSpec string `yaml:"midnight_spec"`
	MissedSweep  string `yaml:"missed_sweep"`
	Boot         bool   `yaml:"boot"`
	// NetworkPoll is how often connectivity is probed.
	NetworkPoll time.Duration `yaml:"network_poll"`
	// ProbeHosts are host:port pairs dialled to decide connectivity.
	ProbeHosts   []string      `yaml:"probe_hosts"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics. Empty disables it.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	orch := orchestrator.DefaultConfig()
	retry := retryqueue.DefaultConfig(retryqueue.PlatformDefault)
	sched := scheduler.DefaultConfig()
	return &Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "dailyplan.db",
			Bucket:  "dailyplan",
		},
		NATS: NATSConfig{
			Name: "dailyplan",
		},
		LLM: LLMConfig{
			Temperature: 0.7,
			Timeout:     90 * time.Second,
			Retry:       llm.DefaultRetryConfig(),
		},
		Generation: GenerationConfig{
			MaxLLMRetries: orch.MaxLLMRetries,
			HistoryDays:   orch.HistoryDays,
			Dependency:    orch.Dependency,
		},
		Energy:  energy.DefaultConfig(),
		Breaker: breaker.DefaultConfig(),
		Retry: RetryConfig{
			Platform:        string(retryqueue.PlatformDefault),
			MaxAge:          retry.MaxAge,
			RateLimitBuffer: retry.RateLimitBuffer,
			LockTTL:         retry.LockTTL,
		},
		Sync: SyncConfig{
			Debounce: 250 * time.Millisecond,
		},
		Schedule: ScheduleConfig{
			MissedSweep:  sched.MissedSweep,
			Boot:         sched.Boot,
			NetworkPoll:  30 * time.Second,
			ProbeHosts:   []string{"1.1.1.1:443", "8.8.8.8:53"},
			ProbeTimeout: 3 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats store backend")
		}
		if c.Store.Bucket == "" {
			return fmt.Errorf("store.bucket is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Generation.DayStartOffset < 0 || c.Generation.DayStartOffset >= 24*time.Hour {
		return fmt.Errorf("generation.day_start_offset must be within [0, 24h)")
	}
	if c.Generation.MaxLLMRetries <= 0 {
		return fmt.Errorf("generation.max_llm_retries must be positive")
	}
	if c.Energy.LowThreshold > c.Energy.HighThreshold {
		return fmt.Errorf("energy.low_threshold must not exceed energy.high_threshold")
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker.failure_threshold and breaker.cooldown must be positive")
	}
	if err := c.RetryQueueConfig().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Model != nil {
		if _, err := model.FromConfig(c.Model); err != nil {
			return fmt.Errorf("model: %w", err)
		}
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Generation.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Generation.Timezone)
	if err != nil {
		return nil, fmt.Errorf("generation.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) location() *time.Location {
	loc, err := c.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

// OrchestratorConfig returns the orchestrator settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.DayStartOffset = c.Generation.DayStartOffset
	cfg.Location = c.location()
	cfg.MaxLLMRetries = c.Generation.MaxLLMRetries
	cfg.HistoryDays = c.Generation.HistoryDays
	if c.Generation.Dependency != "" {
		cfg.Dependency = c.Generation.Dependency
	}
	return cfg
}

// EnergyConfig returns the energy settings aligned to the active day.
func (c *Config) EnergyConfig() energy.Config {
	cfg := c.Energy
	cfg.DayStartOffset = c.Generation.DayStartOffset
	return cfg
}

// RetryQueueConfig returns the retry queue settings.
func (c *Config) RetryQueueConfig() retryqueue.Config {
	cfg := retryqueue.DefaultConfig(retryqueue.ParsePlatform(c.Retry.Platform))
	if len(c.Retry.Ladder) > 0 {
		cfg.Ladder = c.Retry.Ladder
	}
	if c.Retry.MaxAge > 0 {
		cfg.MaxAge = c.Retry.MaxAge
	}
	if c.Retry.RateLimitBuffer > 0 {
		cfg.RateLimitBuffer = c.Retry.RateLimitBuffer
	}
	if c.Retry.LockTTL > 0 {
		cfg.LockTTL = c.Retry.LockTTL
	}
	cfg.DayStartOffset = c.Generation.DayStartOffset
	cfg.Location = c.location()
	return cfg
}

// SchedulerConfig returns the scheduler settings.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		MidnightSpec:   c.Schedule.MidnightSpec,
		MissedSweep:    c.Schedule.MissedSweep,
		Boot:           c.Schedule.Boot,
		DayStartOffset: c.Generation.DayStartOffset,
		Location:       c.location(),
	}
}

// Registry builds the model registry: the defaults, overlaid with any
// configured tiers and endpoints.
func (c *Config) Registry() *model.Registry {
	r := model.NewDefaultRegistry()
	if c.Model != nil {
		r.MergeFromConfig(c.Model)
	}
	return r
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := overlayFile(config, path); err != nil {
		return nil, err
	}
	return config, nil
}

// overlayFile decodes path onto config. Keys absent from the file keep
// their current values.
func overlayFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
