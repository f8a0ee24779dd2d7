package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/agentplatform"
	"github.com/hupe1980/agentplatform/config"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/internal/app"
	"github.com/hupe1980/agentplatform/orchestrator"
	"github.com/hupe1980/agentplatform/store"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentplatform",
		Short:        "Tenant scoped agent execution service",
		Long:         "agentplatform runs LLM agent tasks for a single tenant and records every execution.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newListCommand())
	return rootCmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := cfg.Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			platform, err := agentplatform.New(ctx, cfg, func(o *agentplatform.Options) { o.Logger = logger })
			if err != nil {
				return err
			}

			a, err := app.New(platform, logger)
			if err != nil {
				_ = platform.Close(context.Background())
				return err
			}
			return a.Run(ctx, cfg.ShutdownTimeout)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			s, err := store.Open(ctx, cfg.DatabaseURL, func(o *store.Options) { o.Logger = cfg.Logger() })
			if err != nil {
				return err
			}
			defer s.Close()

			sqlStore, ok := s.(*store.SQLStore)
			if !ok {
				return fmt.Errorf("DATABASE_URL %q has no schema to migrate", cfg.DatabaseURL)
			}

			out := cmd.OutOrStdout()
			switch action {
			case "up":
				if err := sqlStore.Migrate(ctx); err != nil {
					return err
				}
			case "down":
				if err := sqlStore.Rollback(ctx); err != nil {
					return err
				}
			case "version":
			default:
				return fmt.Errorf("unknown migrate action %q", action)
			}

			version, dirty, err := sqlStore.Version()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderSchemaVersion(sqlStore.Dialect(), version, dirty))
			return nil
		},
	}
	return cmd
}

func newRunCommand() *cobra.Command {
	var (
		req     orchestrator.Request
		noTools bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a task and print the resulting record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noTools {
				req.Tools = []string{}
			}
			return withPlatform(cmd, func(ctx context.Context, p *agentplatform.Platform) error {
				rec, err := p.Execute(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRecord(rec))
				if rec.Status == execution.StatusFailed {
					return fmt.Errorf("execution %s failed", rec.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&req.Task, "task", "t", "", "Task for the agent (required)")
	cmd.Flags().StringVarP(&req.Model, "model", "m", "", "Model identifier (defaults to DEFAULT_MODEL)")
	cmd.Flags().StringSliceVar(&req.Tools, "tool", nil, "Tool to enable (repeatable; defaults to all built-in tools)")
	cmd.Flags().BoolVar(&noTools, "no-tools", false, "Run without tools")
	cmd.Flags().IntVar(&req.MaxSteps, "max-steps", 0, "Step budget (defaults to AGENT_DEFAULT_MAX_STEPS)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlatform(cmd, func(ctx context.Context, p *agentplatform.Platform) error {
				rec, err := p.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRecord(rec))
				return nil
			})
		},
	}
}

func newListCommand() *cobra.Command {
	var page execution.Page

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPlatform(cmd, func(ctx context.Context, p *agentplatform.Platform) error {
				recs, err := p.List(ctx, page)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderList(recs))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&page.Limit, "limit", "l", execution.DefaultPageLimit, "Maximum number of executions")
	cmd.Flags().IntVarP(&page.Offset, "offset", "o", 0, "Number of executions to skip")
	return cmd
}

func withPlatform(cmd *cobra.Command, fn func(ctx context.Context, p *agentplatform.Platform) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	p, err := agentplatform.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		_ = p.Close(closeCtx)
	}()

	return fn(ctx, p)
}
