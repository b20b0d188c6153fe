package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alakhanpal23/codebase-qa/internal/output"
)

func newStatsCmd() *cobra.Command {
	var verify bool
	var repair bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Show per-repository index statistics and the active embedding model.

With --verify the vector index is cross-checked against the metadata
store; --repair additionally removes orphan vectors and quarantines
repositories that lost vectors and need a re-ingest.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			ctx := cmd.Context()

			eng, cfg, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			model, dims := eng.EmbedderInfo()
			out.Header("Index")
			out.Statusf("", "data dir:   %s", cfg.Storage.DataDir)
			out.Statusf("", "embeddings: %s (%d dimensions)", model, dims)
			out.Newline()

			repos, err := eng.Repositories(ctx)
			if err != nil {
				return err
			}

			totalFiles, totalChunks := 0, 0
			out.Header("Repositories")
			if len(repos) == 0 {
				out.Status("", "none")
			}
			for _, r := range repos {
				out.Statusf("", "%-20s %-10s %5d files %6d chunks %6d vectors",
					r.ID, r.Status, r.FileCount, r.ChunkCount, eng.VectorCount(r.ID))
				totalFiles += r.FileCount
				totalChunks += r.ChunkCount
			}
			out.Newline()
			out.Statusf("", "total: %d repositories, %d files, %d chunks",
				len(repos), totalFiles, totalChunks)

			if !verify && !repair {
				return nil
			}

			result, quarantined, err := eng.CheckConsistency(ctx, repair)
			if err != nil {
				return err
			}
			out.Newline()
			if result.Clean() {
				out.Successf("Consistency check passed (%d chunks in %d repositories)",
					result.ChunksChecked, result.ReposChecked)
				return nil
			}

			out.Warningf("Found %d inconsistencies", len(result.Inconsistencies))
			for _, issue := range result.Inconsistencies {
				out.Dim(issue.RepoID + ": " + issue.Type.String() + " " + issue.ChunkID)
			}
			if repair {
				out.Success("Orphan vectors removed")
				for _, id := range quarantined {
					out.Warningf("Repository %q quarantined; re-ingest it to restore search", id)
				}
			} else {
				out.Status("", "Run 'codeqa stats --repair' to fix repairable issues.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "Cross-check vectors against metadata")
	cmd.Flags().BoolVar(&repair, "repair", false, "Verify and repair what can be repaired")

	return cmd
}
