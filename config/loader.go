package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "dailyplan.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/dailyplan"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Environment variables that override file configuration.
const (
	EnvNATSURL      = "DAILYPLAN_NATS_URL"
	EnvStoreBackend = "DAILYPLAN_STORE_BACKEND"
	EnvStorePath    = "DAILYPLAN_STORE_PATH"
	EnvTimezone     = "DAILYPLAN_TIMEZONE"
	EnvSnapshotPath = "DAILYPLAN_SNAPSHOT_PATH"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger   *slog.Logger
	explicit string
	getenv   func(string) string
	workDir  string
	homeDir  string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFile loads only the given file on top of the defaults, skipping the
// user and project layers.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.explicit = path }
}

// WithEnv replaces the environment lookup.
func WithEnv(getenv func(string) string) LoaderOption {
	return func(l *Loader) { l.getenv = getenv }
}

// WithDirs sets the working and home directories used to find config files.
func WithDirs(work, home string) LoaderOption {
	return func(l *Loader) {
		l.workDir = work
		l.homeDir = home
	}
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, getenv: os.Getenv}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/dailyplan/config.yaml)
// 3. Project config (dailyplan.yaml in current or parent directories)
// 4. Environment variables
//
// An explicit file replaces layers 2 and 3.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	if l.explicit != "" {
		if err := overlayFile(config, l.explicit); err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", slog.String("path", l.explicit))
	} else {
		l.loadLayers(config)
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func (l *Loader) loadLayers(config *Config) {
	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		err := overlayFile(config, userConfigPath)
		switch {
		case err == nil:
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		case errors.Is(err, fs.ErrNotExist):
		default:
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath == "" {
		l.logger.Debug("No project config found")
		return
	}
	if err := overlayFile(config, projectConfigPath); err != nil {
		l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		return
	}
	l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
}

func (l *Loader) applyEnv(config *Config) {
	set := func(name string, dst *string) {
		if v := l.getenv(name); v != "" {
			*dst = v
			l.logger.Debug("Config overridden from environment", slog.String("var", name))
		}
	}
	set(EnvNATSURL, &config.NATS.URL)
	set(EnvStoreBackend, &config.Store.Backend)
	set(EnvStorePath, &config.Store.Path)
	set(EnvTimezone, &config.Generation.Timezone)
	set(EnvSnapshotPath, &config.Sync.SnapshotPath)
}

// EnsureUserConfig creates the user config directory and default config if needed
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine home directory")
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("Created default user config", slog.String("path", path))
	return nil
}

func (l *Loader) userConfigPath() string {
	home := l.homeDir
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig walks up from the working directory looking for the
// project config file.
func (l *Loader) findProjectConfig() string {
	dir := l.workDir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return ""
		}
	}

	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
