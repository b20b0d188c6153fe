package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alakhanpal23/codebase-qa/internal/output"
)

func newDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <repo-id>",
		Short: "Remove a repository and all its indexed data",
		Long: `Remove a repository: its metadata, chunks, and vectors.

Deletion is crash safe. If the process dies partway through, the removal
finishes automatically on the next engine start.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoID := args[0]
			out := output.New(cmd.OutOrStdout())

			eng, _, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			repo, err := eng.Repository(cmd.Context(), repoID)
			if err != nil {
				return err
			}
			if repo == nil {
				return fmt.Errorf("unknown repository %q", repoID)
			}

			if !force {
				out.Statusf("", "Delete repository %q (%d files, %d chunks)? [y/N] ",
					repoID, repo.FileCount, repo.ChunkCount)
				reader := bufio.NewReader(cmd.InOrStdin())
				answer, _ := reader.ReadString('\n')
				if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
					out.Status("", "Aborted.")
					return nil
				}
			}

			if err := eng.Delete(cmd.Context(), repoID); err != nil {
				return err
			}
			out.Successf("Deleted repository %q", repoID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Delete without confirmation")

	return cmd
}
