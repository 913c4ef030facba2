package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and, when enabled, the tick scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app App, _ *zap.Logger) error {
				if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			})
		},
	}
}

func newTickCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Advances claimable jobs by one step and exits",
		Long: `tick performs the same invocation as POST /internal/tick. It is meant
for cron-style schedulers that start a fresh process per trigger.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app App, logger *zap.Logger) error {
				for i := 0; i < count; i++ {
					report, err := app.Tick(ctx)
					if err != nil {
						return err
					}
					logger.Info("tick finished",
						zap.Int("tick", i+1),
						zap.Int("claimed", report.Claimed),
						zap.Int("continued", report.Continued),
						zap.Int("retried", report.Retried),
						zap.Int("completed", report.Completed),
						zap.Int("failed", report.Failed),
					)
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of consecutive ticks to run")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <provisional-owner-id> <final-owner-id>",
		Short: "Moves records from a provisional owner ID to a final one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app App, _ *zap.Logger) error {
				res, err := app.Reconcile(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
				if !res.Success {
					return errors.New("reconcile rejected the owner ids")
				}
				return nil
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if err := migrate(cmd.Context(), e.cfg); err != nil {
				return err
			}
			e.logger.Info("schema applied")
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
