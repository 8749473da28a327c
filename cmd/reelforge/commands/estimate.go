package commands

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/engine"
)

func newEstimateCommand() *cobra.Command {
	var (
		movieID     string
		inputPairs  []string
		inputsFile  string
		catalogPath string
		reRunFrom   int
		upToLayer   int
		targets     []string
	)

	cmd := &cobra.Command{
		Use:   "estimate <blueprint>",
		Short: "Predict the cost of a run without executing it",
		Long: `Build the plan and sum per-job cost estimates without invoking any
handler. Estimates come from the model catalog; providers the catalog does
not price contribute a zero placeholder and are listed as missing.

Scoped plans estimate exactly the jobs they would run, so --re-run-from
prices an incremental run, not the whole blueprint.`,
		Example: `  # Price a full run
  reelforge estimate blueprints/movie.yaml --movie m1 --catalog models.yaml

  # Price only the layers a re-run would execute
  reelforge estimate blueprints/movie.yaml --movie m1 --catalog models.yaml --re-run-from 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tree, err := requireValidTree(args[0])
			if err != nil {
				return err
			}
			inputs, err := parseInputs(inputPairs, inputsFile)
			if err != nil {
				return err
			}
			scope, err := buildScope(reRunFrom, upToLayer, targets)
			if err != nil {
				return err
			}
			cat, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}

			env := openStorage()
			base, err := env.manifests.LoadCurrent(ctx, movieID)
			if err != nil {
				return err
			}
			plan, err := engine.NewPlanner(log.Logger).BuildPlan(ctx, tree, inputs, movieID, base, scope)
			if err != nil {
				return err
			}
			if cat != nil {
				cat.ApplyToPlan(plan)
			}

			registry, err := buildRegistry(plan, cat)
			if err != nil {
				return err
			}
			summary, err := engine.EstimateCost(plan, registry)
			if err != nil {
				return err
			}

			if jsonOutput {
				return emit(summary)
			}
			printCostSummary(summary)
			return nil
		},
	}

	cmd.Flags().StringVarP(&movieID, "movie", "m", "", "movie id the plan targets")
	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "root input (key=value, value parsed as JSON)")
	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "YAML file with root inputs")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "model catalog YAML (rate keys, costs, deadlines)")
	cmd.Flags().IntVar(&reRunFrom, "re-run-from", -1, "re-plan from this layer, reusing everything below")
	cmd.Flags().IntVar(&upToLayer, "up-to-layer", -1, "plan only layers at or below this index")
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "surgical regeneration targets (canonical artifact ids)")
	cmd.MarkFlagRequired("movie")

	return cmd
}

func printCostSummary(summary *engine.CostSummary) {
	if summary.HasRanges {
		fmt.Printf("estimated cost for %d jobs: %.4f (range %.4f - %.4f)\n",
			summary.Jobs, summary.Total, summary.Min, summary.Max)
	} else {
		fmt.Printf("estimated cost for %d jobs: %.4f\n", summary.Jobs, summary.Total)
	}

	producers := make([]string, 0, len(summary.ByProducer))
	for name := range summary.ByProducer {
		producers = append(producers, name)
	}
	sort.Strings(producers)
	for _, name := range producers {
		fmt.Printf("  %s: %.4f\n", name, summary.ByProducer[name])
	}

	if summary.HasPlaceholders {
		fmt.Println("  note: some figures are placeholders, not provider-backed estimates")
	}
	for _, provider := range summary.MissingProviders {
		fmt.Printf("  missing estimator: %s\n", provider)
	}
}
