// Package main provides the dailyplan binary entry point.
// dailyplan generates the user's daily health plan and keeps it available
// through outages, rate limits and low energy budgets.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/viperdam/body-mode-sub006/llm/providers"

	"github.com/viperdam/body-mode-sub006/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dailyplan"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	envFile    string
	logLevel   string
	logger     *slog.Logger
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Daily health plan generation service",
		Long: `dailyplan builds the user's plan for the active day from their profile,
recent adherence and environment, using an LLM when budget and connectivity
allow and a fallback plan otherwise.

Failed generations are retried in the background with backoff. Plans are
shared with the native layer through a snapshot file and over NATS.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup()
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Dotenv file with API keys")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(g),
		generateCmd(g),
		planCmd(g),
		pendingCmd(g),
		retryCmd(g),
		itemCmd(g),
		sweepCmd(g),
		profileCmd(g),
		syncCmd(g),
		initConfigCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func (g *globals) setup() error {
	g.logger = newLogger(g.logLevel)
	slog.SetDefault(g.logger)

	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	return nil
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (g *globals) loader() *config.Loader {
	var opts []config.LoaderOption
	if g.configPath != "" {
		opts = append(opts, config.WithFile(g.configPath))
	}
	return config.NewLoader(g.logger, opts...)
}

// withApp loads configuration, builds the App and runs fn against it.
func (g *globals) withApp(fn func(ctx context.Context, a *App) error) error {
	cfg, err := g.loader().Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := NewApp(ctx, cfg, g.logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}
