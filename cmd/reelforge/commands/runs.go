package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	var (
		movieID   string
		runID     string
		limit     int
		offset    int
		storePath string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs from the run index",
		Long: `Query the SQLite run index: runs newest first, optionally filtered by
movie, or the per-job breakdown of one run. The index is a projection; the
event log stays the source of truth for artifacts.`,
		Example: `  # Latest runs across all movies
  reelforge runs

  # Runs of one movie
  reelforge runs --movie m1

  # Job breakdown of a run
  reelforge runs --run 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openRunIndex(ctx, storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				jobs, err := store.ListJobsByRun(ctx, runID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return emit(jobs)
				}
				for _, job := range jobs {
					line := fmt.Sprintf("  %-9s %s", job.Status, job.JobID)
					if job.Attempts > 1 {
						line += fmt.Sprintf(" (%d attempts)", job.Attempts)
					}
					if job.Error != nil {
						line += "  " + *job.Error
					}
					fmt.Println(line)
				}
				return nil
			}

			runs, err := store.ListRuns(ctx, movieID, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return emit(runs)
			}
			for _, run := range runs {
				duration := ""
				if run.CompletedAt != nil {
					duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
				}
				fmt.Printf("%s  %-9s %-12s rev %s  %s %s\n",
					run.StartedAt.Format(time.RFC3339), run.Status, run.MovieID,
					run.Revision, run.ID, duration)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&movieID, "movie", "m", "", "filter runs by movie id")
	cmd.Flags().StringVar(&runID, "run", "", "show the job breakdown of one run")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	cmd.Flags().StringVar(&storePath, "store", "", "run index database path (default <data-dir>/reelforge.db)")

	return cmd
}
