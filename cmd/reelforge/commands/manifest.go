package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/storage"
)

func newManifestCommand() *cobra.Command {
	var (
		revision    string
		materialize bool
		inputPairs  []string
		inputsFile  string
	)

	cmd := &cobra.Command{
		Use:   "manifest <movie-id>",
		Short: "Show or materialize a movie's manifest",
		Long: `Without flags, print the manifest the current pointer names. With
--revision, print that revision's materialized manifest. With --materialize,
rebuild the manifest from the event log (latest event per artifact id at or
before the target revision, keeping succeeded and skipped entries) and move
the current pointer.`,
		Example: `  # Show the current manifest
  reelforge manifest m1

  # Show a specific revision
  reelforge manifest m1 --revision 000002

  # Rebuild the latest manifest from the event log
  reelforge manifest m1 --materialize`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			movieID := args[0]
			env := openStorage()

			var manifest *storage.Manifest
			var err error

			if materialize {
				rev := revision
				if rev == "" {
					rev, err = env.events.LatestRevision(ctx, movieID)
					if err != nil {
						return err
					}
					if rev == "" {
						return fmt.Errorf("movie %s has no events to materialize from", movieID)
					}
				}
				inputs, err := parseInputs(inputPairs, inputsFile)
				if err != nil {
					return err
				}
				manifest, err = env.manifests.Materialize(ctx, movieID, rev, inputs)
				if err != nil {
					return err
				}
			} else if revision != "" {
				manifest, err = env.manifests.Load(ctx, movieID, revision)
				if err != nil {
					return err
				}
			} else {
				manifest, err = env.manifests.LoadCurrent(ctx, movieID)
				if err != nil {
					return err
				}
				if manifest == nil {
					return fmt.Errorf("movie %s has no materialized manifest", movieID)
				}
			}

			if jsonOutput {
				return emit(manifest)
			}
			printManifest(manifest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&revision, "revision", "r", "", "manifest revision (default: current pointer)")
	cmd.Flags().BoolVar(&materialize, "materialize", false, "rebuild the manifest from the event log")
	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "root input recorded in a materialized manifest")
	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "YAML file with root inputs")

	return cmd
}

func printManifest(manifest *storage.Manifest) {
	fmt.Printf("manifest revision %s", manifest.Revision)
	if manifest.BaseRevision != "" {
		fmt.Printf(" (base %s)", manifest.BaseRevision)
	}
	fmt.Printf(", %d artifacts\n", len(manifest.Artifacts))

	ids := make([]string, 0, len(manifest.Artifacts))
	for id := range manifest.Artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		entry := manifest.Artifacts[id]
		line := fmt.Sprintf("  %-9s %s (rev %s)", entry.Status, id, entry.Revision)
		if entry.Output != nil && entry.Output.Blob != nil {
			line += fmt.Sprintf("  blob %s %dB %s",
				entry.Output.Blob.Hash[:12], entry.Output.Blob.Size, entry.Output.Blob.MimeType)
		}
		fmt.Println(line)
	}
}
