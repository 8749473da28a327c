package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge/pkg/dryrun"
)

func newDryrunCommand() *cobra.Command {
	var (
		dims      map[string]int
		casesFile string
		hintsFile string
		seed      int
		caseCount int
	)

	cmd := &cobra.Command{
		Use:   "dryrun <blueprint>",
		Short: "Measure condition coverage without running producers",
		Long: `Evaluate every connection condition of the blueprint against synthetic
input cases and report coverage: each condition field must observe both a
true and a false outcome, and for every loop dimension with more than one
coordinate the outcome must vary along that dimension.

Cases come from a YAML file (--cases), from rotation-synthesized value
assignments (--hints with candidate values per condition path), or both.`,
		Example: `  # Hand-written cases
  reelforge dryrun blueprints/movie.yaml --dim segment=2 --cases cases.yaml

  # Synthesize 4 cases from candidate values
  reelforge dryrun blueprints/movie.yaml --dim segment=2 --hints hints.yaml --count 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tree, err := requireValidTree(args[0])
			if err != nil {
				return err
			}

			var cases []dryrun.Case
			if casesFile != "" {
				data, err := os.ReadFile(casesFile)
				if err != nil {
					return fmt.Errorf("failed to read cases file: %w", err)
				}
				if err := yaml.Unmarshal(data, &cases); err != nil {
					return fmt.Errorf("failed to parse cases file %s: %w", casesFile, err)
				}
			}
			if hintsFile != "" {
				data, err := os.ReadFile(hintsFile)
				if err != nil {
					return fmt.Errorf("failed to read hints file: %w", err)
				}
				var hints []dryrun.Hint
				if err := yaml.Unmarshal(data, &hints); err != nil {
					return fmt.Errorf("failed to parse hints file %s: %w", hintsFile, err)
				}
				synthesized, err := dryrun.SynthesizeCases(hints, dims, seed, caseCount)
				if err != nil {
					return err
				}
				cases = append(cases, synthesized...)
			}
			if len(cases) == 0 {
				return fmt.Errorf("no cases: provide --cases and/or --hints")
			}

			report, err := dryrun.New(log.Logger).Run(ctx, tree, dims, cases)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := emit(report); err != nil {
					return err
				}
			} else {
				printCoverage(report)
			}

			if !report.Covered() {
				return fmt.Errorf("condition coverage incomplete: %d gaps", len(report.Gaps))
			}
			log.Info().Int("fields", len(report.Fields)).Int("cases", report.Cases).
				Msg("All condition fields covered")
			return nil
		},
	}

	cmd.Flags().StringToIntVar(&dims, "dim", nil, "loop dimension cardinality (name=count)")
	cmd.Flags().StringVar(&casesFile, "cases", "", "YAML file with input cases")
	cmd.Flags().StringVar(&hintsFile, "hints", "", "YAML file with candidate values per condition path")
	cmd.Flags().IntVar(&seed, "seed", 0, "rotation seed for case synthesis")
	cmd.Flags().IntVarP(&caseCount, "count", "n", 2, "number of cases to synthesize")

	return cmd
}

func printCoverage(report *dryrun.Report) {
	fmt.Printf("coverage: %d cases, %d condition fields, %d gaps\n",
		report.Cases, len(report.Fields), len(report.Gaps))

	for _, field := range report.Fields {
		status := "covered"
		if !field.TrueOutcomeObserved || !field.FalseOutcomeObserved {
			status = "PARTIAL"
		}
		fmt.Printf("  %-7s %s %s (matched %d, %d values)\n",
			status, field.When, field.Operator, field.MatchedArtifacts, len(field.ObservedValues))
	}
	for _, gap := range report.Gaps {
		fmt.Printf("  gap [%s]: %s\n", gap.ErrorCode, gap.Message)
	}
}
