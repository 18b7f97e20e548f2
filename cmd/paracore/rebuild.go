package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/paracore/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRebuildIndexCommand(opts *rootOptions) *cobra.Command {
	var tenantID, destination string

	cmd := &cobra.Command{
		Use:   "rebuild-index",
		Short: "Re-index every indexable object of a tenant from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Shutdown(context.Background()); err != nil {
					logger.Warn("Shutdown failed", zap.Error(err))
				}
			}()

			n, err := a.Index.RebuildIndex(ctx, a.Store, tenantID, destination)
			if err != nil {
				return err
			}
			if destination == "" {
				destination = tenantID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d objects of %s into %s\n", n, tenantID, destination)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to rebuild")
	cmd.Flags().StringVar(&destination, "destination", "", "index to write into (defaults to the tenant)")
	return cmd
}
