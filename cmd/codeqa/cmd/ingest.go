package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/alakhanpal23/codebase-qa/internal/index"
	"github.com/alakhanpal23/codebase-qa/internal/output"
)

func newIngestCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "ingest <repo-id> <path>",
		Short: "Index a repository directory",
		Long: `Index the source files under a directory into the named repository.

Re-running ingest on the same directory is cheap: unchanged files are
skipped and only modified content is re-embedded.

Examples:
  codeqa ingest backend ./services/backend
  codeqa ingest docs ~/work/docs --name "Product docs"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoID, dir := args[0], args[1]
			out := output.New(cmd.OutOrStdout())

			eng, _, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			out.Statusf("📦", "Indexing %s into repository %q...", dir, repoID)

			result, err := eng.IngestDir(cmd.Context(), repoID, name, dir)
			if err != nil {
				return err
			}

			out.Successf("Indexed %d files (%d chunks) in %s",
				result.FilesChunked, result.ChunksIndexed, result.Duration.Round(10*time.Millisecond))
			if result.FilesSkipped > 0 {
				out.Statusf("", "%d files unchanged or skipped", result.FilesSkipped)
			}
			if result.FilesFailed > 0 {
				out.Warningf("%d files failed; see the log for details", result.FilesFailed)
				for _, f := range result.Files {
					if f.Status == index.FileFailed {
						out.Dim(f.Path + ": " + f.Reason)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the repository (default: repo id)")

	return cmd
}
