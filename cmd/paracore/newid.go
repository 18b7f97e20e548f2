package main

import (
	"fmt"

	"github.com/devrev/paracore/internal/idgen"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIDCommand(opts *rootOptions) *cobra.Command {
	var count int
	var decompose bool

	cmd := &cobra.Command{
		Use:   "newid",
		Short: "Print ids from the configured generator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			gen := idgen.NewGenerator(idgen.Config{
				WorkerID:     cfg.IDGen.WorkerID,
				DatacenterID: cfg.IDGen.DatacenterID,
				Epoch:        cfg.IDGen.Epoch,
			}, zap.NewNop())

			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				id, err := gen.Next()
				if err != nil {
					return err
				}
				if !decompose {
					fmt.Fprintln(out, id)
					continue
				}
				p := gen.Decompose(id)
				fmt.Fprintf(out, "%d time=%d datacenter=%d worker=%d sequence=%d\n",
					id, p.Timestamp, p.DatacenterID, p.WorkerID, p.Sequence)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids")
	cmd.Flags().BoolVar(&decompose, "decompose", false, "print the parts of every id")
	return cmd
}
