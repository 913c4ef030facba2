// Package cmd defines the CLI commands for the brandkit executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/config"
	"github.com/JakeFAU/brandkit-crawler/internal/logging"
	"github.com/JakeFAU/brandkit-crawler/internal/reconcile"
	"github.com/JakeFAU/brandkit-crawler/internal/sequencer"
	"github.com/JakeFAU/brandkit-crawler/internal/server"
)

// App is what the subcommands drive. Tests swap in a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Tick(ctx context.Context) (sequencer.Report, error)
	Reconcile(ctx context.Context, provisional, final string) (reconcile.Result, error)
	Close(ctx context.Context) error
}

var (
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		return server.Build(ctx, cfg, logger)
	}
	migrate = server.Migrate
)

type envKey struct{}

// env is the loaded configuration and logger shared by subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "brandkit",
		Short: "Generates brand kits from websites.",
		Long: `brandkit runs the job orchestration core: it accepts brand kit jobs over
HTTP, advances them one step per tick (fetch, render, generate, finalize) and
reconciles provisional owner IDs once the caller's owner exists.`,
		SilenceUsage: true,

		// Config and logging are ready before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd(), newTickCmd(), newReconcileCmd(), newMigrateCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// withApp builds the application, runs fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app App, logger *zap.Logger) error) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			e.logger.Warn("close failed", zap.Error(cerr))
		}
	}()
	return fn(cmd.Context(), app, e.logger)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
