package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/paracore/internal/app"
	"github.com/devrev/paracore/internal/server"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var healthInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rivers and the ops server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting paracore",
				zap.String("node_id", cfg.Server.NodeID),
				zap.String("environment", cfg.Server.Environment))

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := a.Init(ctx); err != nil {
				_ = a.Shutdown(context.Background())
				return err
			}

			go a.Health.Run(ctx, healthInterval)

			ops := server.NewOpsServer(cfg.Server.OpsAddr, a.Registry, a.Health, logger)
			serveErr := make(chan error, 1)
			go func() { serveErr <- ops.ListenAndServe() }()

			var result error
			select {
			case <-ctx.Done():
				logger.Info("Received shutdown signal")
			case err := <-serveErr:
				if err != nil {
					result = multierror.Append(result, err)
				}
			}
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := ops.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, err)
			}
			if err := a.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, err)
			}
			return result
		},
	}

	cmd.Flags().DurationVar(&healthInterval, "health-interval", 15*time.Second, "interval between background backend checks")
	return cmd
}
