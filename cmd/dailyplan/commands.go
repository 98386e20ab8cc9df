package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/viperdam/body-mode-sub006/orchestrator"
	"github.com/viperdam/body-mode-sub006/plan"
	"github.com/viperdam/body-mode-sub006/profile"
)

func serveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, retry queue, NATS service and native sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(ctx context.Context, a *App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func generateCmd(g *globals) *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate today's plan once",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := plan.ParseTrigger(trigger)
			if t == "" {
				return fmt.Errorf("unknown trigger %q", trigger)
			}
			return g.withApp(func(ctx context.Context, a *App) error {
				res := a.orch.GenerateTodayPlan(ctx, t)
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Status == orchestrator.StatusFailed {
					return fmt.Errorf("generation failed: %s", res.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&trigger, "trigger", "t", string(plan.TriggerManual), "Trigger to report")
	return cmd
}

func planCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print today's stored plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(ctx context.Context, a *App) error {
				p, err := a.orch.GetTodaysPlan(ctx)
				if err != nil {
					return err
				}
				if p == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No plan for", a.orch.Today())
					return nil
				}
				return writeJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func pendingCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the pending generation record and retry slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(ctx context.Context, a *App) error {
				pending, err := a.orch.GetPendingGeneration(ctx)
				if err != nil {
					return err
				}
				retry, err := a.queue.State(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"pending": pending,
					"retry":   retry,
				})
			})
		},
	}
}

func retryCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Retry the pending generation now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(ctx context.Context, a *App) error {
				return writeJSON(cmd.OutOrStdout(), a.orch.RetryPendingGeneration(ctx))
			})
		},
	}
}

func itemCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Update an item of today's plan",
	}
	ops := []struct {
		use   string
		short string
		fn    func(*orchestrator.Orchestrator, context.Context, string) (*plan.Plan, error)
	}{
		{"complete <id>", "Mark an item completed", (*orchestrator.Orchestrator).CompleteItem},
		{"skip <id>", "Mark an item skipped", (*orchestrator.Orchestrator).SkipItem},
		{"undo <id>", "Return an item to pending", (*orchestrator.Orchestrator).UndoItem},
	}
	for _, op := range ops {
		cmd.AddCommand(&cobra.Command{
			Use:   op.use,
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(func(ctx context.Context, a *App) error {
					p, err := op.fn(a.orch, ctx, args[0])
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), p)
				})
			},
		})
	}
	return cmd
}

func sweepCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark past-due pending items as missed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(ctx context.Context, a *App) error {
				n, err := a.orch.MarkPastDueMissed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d item(s) missed\n", n)
				return nil
			})
		},
	}
}

func profileCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or set the user profile",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored profile",
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(func(ctx context.Context, a *App) error {
					p, err := a.profiles.Load(ctx)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), p)
				})
			},
		},
		&cobra.Command{
			Use:   "set <file>",
			Short: "Store a profile from a JSON file (- for stdin)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := readProfile(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				return g.withApp(func(ctx context.Context, a *App) error {
					if err := a.profiles.Save(ctx, p); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Profile saved")
					return nil
				})
			},
		},
	)
	return cmd
}

func syncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile today's plan with the native snapshot file once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(ctx context.Context, a *App) error {
				if a.syncer == nil {
					return fmt.Errorf("sync.snapshot_path is not configured")
				}
				dir, err := a.syncer.Sync(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sync: %s\n", dir)
				return nil
			})
		},
	}
}

func initConfigCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default user config if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.loader().EnsureUserConfig()
		},
	}
}

func readProfile(stdin io.Reader, path string) (*profile.Profile, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p profile.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
