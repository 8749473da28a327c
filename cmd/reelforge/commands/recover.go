package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/recovery"
)

func newRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover <movie-id>",
		Short: "Reconcile recoverable failures against their providers",
		Long: `Probe every failed artifact event that carries a pollable provider
request id. Completed provider-side work is downloaded and appended as a
succeeded event, so the next run reuses it instead of regenerating.

The pass is additive-only: it never rewrites or removes existing events.
Providers without a registered status prober stay pending.`,
		Example: `  # Reconcile movie m1
  reelforge recover m1

  # Machine-readable summary
  reelforge recover m1 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			movieID := args[0]

			env := openStorage()
			prepass := recovery.NewPrepass(env.events, env.blobs, nil, nil, log.Logger)
			summary, err := prepass.Run(ctx, movieID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return emit(summary)
			}
			fmt.Printf("recovery for %s: %d checked, %d recovered, %d pending, %d failed\n",
				movieID, summary.Checked, len(summary.Recovered), len(summary.Pending), len(summary.Failed))
			for _, id := range summary.Recovered {
				fmt.Printf("  recovered: %s\n", id)
			}
			for _, id := range summary.Pending {
				fmt.Printf("  pending:   %s\n", id)
			}
			for _, id := range summary.Failed {
				fmt.Printf("  failed:    %s\n", id)
			}
			return nil
		},
	}
	return cmd
}
