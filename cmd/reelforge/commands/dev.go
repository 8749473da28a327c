package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/catalog"
	"github.com/reelforge/reelforge/pkg/engine"
)

func newDevCommand() *cobra.Command {
	var (
		movieID     string
		inputPairs  []string
		inputsFile  string
		catalogPath string
	)

	cmd := &cobra.Command{
		Use:   "dev <blueprint>",
		Short: "Watch a blueprint and re-plan on every change",
		Long: `Watch the blueprint's directory and re-run load, validate and plan on
every file change, printing errors as they appear. With --catalog, catalog
changes also trigger a re-plan. Runs until interrupted.`,
		Example: `  # Live feedback while editing a blueprint
  reelforge dev blueprints/movie.yaml --movie m1 --input segments=4

  # Watch the model catalog too
  reelforge dev blueprints/movie.yaml --movie m1 --catalog models.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			entry := args[0]

			inputs, err := parseInputs(inputPairs, inputsFile)
			if err != nil {
				return err
			}
			cat, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}

			env := openStorage()
			cycle := func() {
				started := time.Now()
				tree, report, err := loadTree(entry)
				if err != nil {
					log.Error().Err(err).Msg("Blueprint failed to load")
					return
				}
				for _, e := range report.Errors {
					log.Error().Msg(e.Error())
				}
				for _, w := range report.Warnings {
					log.Warn().Str("ref", w.Ref).Msg(w.Msg)
				}
				if !report.OK() {
					return
				}

				base, err := env.manifests.LoadCurrent(ctx, movieID)
				if err != nil {
					log.Error().Err(err).Msg("Failed to load current manifest")
					return
				}
				plan, err := engine.NewPlanner(log.Logger).BuildPlan(
					ctx, tree, inputs, movieID, base, engine.FullScope())
				if err != nil {
					log.Error().Err(err).Msg("Planning failed")
					return
				}
				if cat != nil {
					cat.ApplyToPlan(plan)
				}
				log.Info().
					Str("revision", plan.Revision).
					Int("jobs", plan.JobCount()).
					Int("layers", len(plan.Layers)).
					Dur("took", time.Since(started)).
					Msg("Plan OK")
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(filepath.Dir(entry)); err != nil {
				return fmt.Errorf("failed to watch %s: %w", filepath.Dir(entry), err)
			}

			if cat != nil {
				catWatcher := catalog.NewWatcher(cat, log.Logger)
				if err := catWatcher.Watch(ctx, func(*catalog.Catalog) { cycle() }); err != nil {
					return err
				}
				defer catWatcher.Stop()
			}

			log.Info().Str("dir", filepath.Dir(entry)).Msg("Watching for changes")
			cycle()
			watchLoop(ctx, watcher, cycle)
			return nil
		},
	}

	cmd.Flags().StringVarP(&movieID, "movie", "m", "dev", "movie id planned against")
	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "root input (key=value, value parsed as JSON)")
	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "YAML file with root inputs")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "model catalog YAML to watch alongside the blueprint")

	return cmd
}

// watchLoop debounces filesystem events so editor write bursts trigger one
// re-plan, and returns when the context is cancelled.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, cycle func()) {
	var mu sync.Mutex
	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(500*time.Millisecond, func() {
				log.Debug().Str("file", event.Name).Msg("Change detected")
				cycle()
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}
