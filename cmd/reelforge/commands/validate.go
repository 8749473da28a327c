package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <blueprint>",
		Short: "Validate a blueprint tree",
		Long: `Load a blueprint entry document, link its imports and cross-check every
connection, collector, loop and condition against the declared symbols.

Errors block planning; warnings (such as unreachable producers) are
informational.`,
		Example: `  # Validate a blueprint
  reelforge validate blueprints/movie.yaml

  # Machine-readable report
  reelforge validate blueprints/movie.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, report, err := loadTree(args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := emit(report); err != nil {
					return err
				}
			} else {
				for _, w := range report.Warnings {
					log.Warn().Str("path", w.Path).Str("ref", w.Ref).Msg(w.Msg)
				}
				for _, e := range report.Errors {
					log.Error().Msg(e.Error())
				}
			}

			if !report.OK() {
				return fmt.Errorf("blueprint has %d validation errors", len(report.Errors))
			}
			log.Info().
				Int("documents", len(tree.Nodes)).
				Int("warnings", len(report.Warnings)).
				Msg("Blueprint is valid")
			return nil
		},
	}
	return cmd
}
