package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	dataDir    string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reelforge",
		Short: "ReelForge - Blueprint-Driven Content Pipeline Engine",
		Long: `ReelForge turns declarative YAML blueprints into layered execution
plans and runs them against generative providers.

Features:
  - Blueprint tree loading, linking and cross-reference validation
  - Deterministic planning with loop expansion and Kahn layering
  - Bounded-parallel execution with retries and input-hash caching
  - Append-only event log plus content-addressed blob storage
  - Manifest materialization and surgical regeneration
  - Condition dry-run coverage and provider recovery prepass`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				// The configured logger carries its own level, so lower both.
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				log.Logger = log.Logger.Level(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", ".reelforge", "build data directory (blobs, events, manifests, run index)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newEstimateCommand())
	rootCmd.AddCommand(newRecoverCommand())
	rootCmd.AddCommand(newManifestCommand())
	rootCmd.AddCommand(newDryrunCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
