package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		movieID     string
		inputPairs  []string
		inputsFile  string
		catalogPath string
		reRunFrom   int
		upToLayer   int
		targets     []string
		dot         bool
		outPath     string
	)

	cmd := &cobra.Command{
		Use:   "plan <blueprint>",
		Short: "Build the layered execution plan without running it",
		Long: `Expand the blueprint into concrete jobs, wire their dependencies and
order them into topological layers. The plan builds on the movie's current
manifest when one exists, so job ids and the next revision are exactly what
a subsequent run would use.`,
		Example: `  # Full plan
  reelforge plan blueprints/movie.yaml --movie m1 --input segments=4

  # Surgical plan regenerating one artifact and its dependents
  reelforge plan blueprints/movie.yaml --movie m1 -t "Artifact:Voice.Audio[2]"

  # Graphviz rendering of the job graph
  reelforge plan blueprints/movie.yaml --movie m1 --dot | dot -Tsvg -o plan.svg`,
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

			if dot {
				builder := engine.NewDAGBuilder()
				if _, err := builder.Build(plan.Jobs); err != nil {
					return err
				}
				fmt.Println(builder.ToDOT())
				return nil
			}

			if outPath != "" {
				data, err := planJSON(plan)
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write plan: %w", err)
				}
				log.Info().Str("path", outPath).Msg("Plan written")
			}

			if jsonOutput {
				return emit(plan)
			}
			printPlanSummary(plan)
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
	cmd.Flags().BoolVar(&dot, "dot", false, "print the job graph in Graphviz DOT format")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the plan JSON to a file")
	cmd.MarkFlagRequired("movie")

	return cmd
}

func planJSON(plan *engine.ExecutionPlan) ([]byte, error) {
	return marshalIndent(plan)
}

func printPlanSummary(plan *engine.ExecutionPlan) {
	fmt.Printf("plan for %s: revision %s", plan.MovieID, plan.Revision)
	if plan.BaseRevision != "" {
		fmt.Printf(" (base %s)", plan.BaseRevision)
	}
	fmt.Printf(", %d jobs in %d layers\n", plan.JobCount(), len(plan.Layers))

	for layerIdx, layer := range plan.Layers {
		if len(layer) == 0 {
			fmt.Printf("  layer %d: (reused)\n", layerIdx)
			continue
		}
		fmt.Printf("  layer %d:\n", layerIdx)
		for _, jobIdx := range layer {
			job := &plan.Jobs[jobIdx]
			line := fmt.Sprintf("    %s", job.ID)
			if job.Provider != "" {
				line += fmt.Sprintf("  [%s/%s]", job.Provider, job.Model)
			}
			fmt.Println(line)
		}
	}
	for _, target := range plan.Surgical {
		fmt.Printf("  surgical: %s -> %s\n", target.ArtifactID, target.JobID)
	}
}
