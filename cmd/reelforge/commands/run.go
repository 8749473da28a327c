package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/engine"
	"github.com/reelforge/reelforge/pkg/producer"
	"github.com/reelforge/reelforge/pkg/recovery"
	"github.com/reelforge/reelforge/pkg/secrets"
	"github.com/reelforge/reelforge/pkg/stores"
	"github.com/reelforge/reelforge/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		movieID      string
		inputPairs   []string
		inputsFile   string
		catalogPath  string
		concurrency  int
		simulate     bool
		failFast     bool
		reRunFrom    int
		upToLayer    int
		targets      []string
		metricsAddr  string
		storePath    string
		skipRecovery bool
	)

	cmd := &cobra.Command{
		Use:   "run <blueprint>",
		Short: "Plan and execute a build",
		Long: `Plan the blueprint against the movie's current manifest and execute the
resulting layers with a bounded worker pool. Every produced artifact is
appended to the movie's event log; blobs are stored content-addressed. A
successful run materializes the new manifest and moves the current pointer.

Before planning, recoverable failures from earlier runs are probed against
their providers so completed provider-side work is not regenerated.`,
		Example: `  # Simulated end-to-end run, no provider traffic
  reelforge run blueprints/movie.yaml --movie m1 --input segments=4 --simulate

  # Re-run everything from layer 2 with 8 workers
  reelforge run blueprints/movie.yaml --movie m1 --re-run-from 2 --concurrency 8

  # Regenerate one artifact and its dependents
  reelforge run blueprints/movie.yaml --movie m1 -t "Artifact:Voice.Audio[2]"

  # Expose prometheus metrics while running
  reelforge run blueprints/movie.yaml --movie m1 --metrics-addr :9090`,
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

			if !skipRecovery {
				prepass := recovery.NewPrepass(env.events, env.blobs, nil, nil, log.Logger)
				rsum, err := prepass.Run(ctx, movieID)
				if err != nil {
					return err
				}
				if rsum.Checked > 0 {
					log.Info().
						Int("checked", rsum.Checked).
						Int("recovered", len(rsum.Recovered)).
						Int("pending", len(rsum.Pending)).
						Msg("Recovery prepass finished")
				}
			}

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

			store, err := openRunIndex(ctx, storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			recorder, err := stores.StartRun(ctx, store, plan, "cli", log.Logger)
			if err != nil {
				return err
			}

			var metrics *telemetry.Metrics
			if metricsAddr != "" {
				metrics, err = telemetry.NewMetrics(telemetry.MetricsConfig{
					Enabled:       true,
					ListenAddress: metricsAddr,
					Path:          "/metrics",
					Namespace:     "reelforge",
				})
				if err != nil {
					return err
				}
				if err := metrics.StartMetricsServer(); err != nil {
					return err
				}
				metrics.RecordRunStarted(movieID)
			}

			mode := producer.ModeNormal
			if simulate {
				mode = producer.ModeSimulated
			}
			executor := engine.NewExecutor(engine.ExecutorConfig{
				Concurrency: concurrency,
				Registry:    registry,
				Blobs:       env.blobs,
				Events:      env.events,
				Secrets:     secrets.NewEnvResolver("REELFORGE"),
				Mode:        mode,
				FailFast:    failFast,
				Observer: engine.ObserverFunc(func(n engine.Notification) {
					recorder.Notify(n)
					logNotification(n)
				}),
				Logger:  log.Logger,
				Metrics: metrics,
			})

			summary, err := executor.Execute(ctx, plan, tree)
			if err != nil {
				return err
			}

			switch summary.Status {
			case engine.RunStatusSucceeded, engine.RunStatusPartial:
				if _, err := env.manifests.Materialize(ctx, movieID, plan.Revision, inputs); err != nil {
					return err
				}
			}

			if jsonOutput {
				if err := emit(summary); err != nil {
					return err
				}
			} else {
				printSummary(summary, recorder.RunID())
			}

			if summary.Status != engine.RunStatusSucceeded {
				return fmt.Errorf("run %s finished %s: %d failed, %d cancelled",
					recorder.RunID(), summary.Status, summary.Failed, summary.Cancelled)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&movieID, "movie", "m", "", "movie id the run writes into")
	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "root input (key=value, value parsed as JSON)")
	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "YAML file with root inputs")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "model catalog YAML (rate keys, costs, deadlines)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "worker pool size")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "run with deterministic placeholders, no provider traffic")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop scheduling new layers after a failed layer")
	cmd.Flags().IntVar(&reRunFrom, "re-run-from", -1, "re-plan from this layer, reusing everything below")
	cmd.Flags().IntVar(&upToLayer, "up-to-layer", -1, "plan only layers at or below this index")
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "surgical regeneration targets (canonical artifact ids)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().StringVar(&storePath, "store", "", "run index database path (default <data-dir>/reelforge.db)")
	cmd.Flags().BoolVar(&skipRecovery, "skip-recovery", false, "skip the provider recovery prepass")
	cmd.MarkFlagRequired("movie")

	return cmd
}

// logNotification mirrors executor progress onto the console log.
func logNotification(n engine.Notification) {
	switch n.Type {
	case engine.NotifyLayerStart:
		log.Info().Int("layer", n.Layer).Int("jobs", n.JobCount).Msg("Layer started")
	case engine.NotifyJobComplete:
		event := log.Info()
		if n.Status == engine.JobStatusFailed {
			event = log.Error()
		}
		event.Str("job_id", n.JobID).Str("status", string(n.Status))
		if n.ErrorMessage != "" {
			event = event.Str("error", n.ErrorMessage)
		}
		event.Msg("Job finished")
	case engine.NotifyProducerProgress:
		log.Debug().Str("job_id", n.JobID).Fields(n.Fields).Msg(n.Message)
	case engine.NotifyExecutionCancelled:
		log.Warn().Msg("Execution cancelled")
	}
}

func printSummary(summary *engine.BuildSummary, runID string) {
	fmt.Printf("run %s: %s (revision %s)\n", runID, summary.Status, summary.Revision)
	fmt.Printf("  %d total, %d succeeded, %d cached, %d skipped, %d failed, %d cancelled in %s\n",
		summary.Total, summary.Succeeded, summary.Cached, summary.Skipped,
		summary.Failed, summary.Cancelled, summary.Duration.Round(time.Millisecond))

	for jobID, result := range summary.Results {
		if result.Status != engine.JobStatusFailed {
			continue
		}
		msg := ""
		if result.Error != nil {
			msg = result.Error.Message
		}
		fmt.Printf("  failed: %s (%d attempts) %s\n", jobID, result.Attempts, msg)
	}
}
