package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/alakhanpal23/codebase-qa/internal/output"
)

func newReposCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List indexed repositories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			eng, _, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			repos, err := eng.Repositories(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				type jsonRepo struct {
					ID         string `json:"id"`
					Name       string `json:"name"`
					Status     string `json:"status"`
					FileCount  int    `json:"file_count"`
					ChunkCount int    `json:"chunk_count"`
					IndexedAt  string `json:"indexed_at,omitempty"`
				}
				list := make([]jsonRepo, len(repos))
				for i, r := range repos {
					indexed := ""
					if !r.IndexedAt.IsZero() {
						indexed = r.IndexedAt.Format(time.RFC3339)
					}
					list[i] = jsonRepo{
						ID: r.ID, Name: r.Name, Status: string(r.Status),
						FileCount: r.FileCount, ChunkCount: r.ChunkCount,
						IndexedAt: indexed,
					}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			if len(repos) == 0 {
				out.Status("", "No repositories indexed. Run 'codeqa ingest <repo-id> <path>'.")
				return nil
			}

			out.Header("Repositories")
			for _, r := range repos {
				out.Statusf("", "%-20s %-10s %5d files %6d chunks",
					r.ID, r.Status, r.FileCount, r.ChunkCount)
				if !r.IndexedAt.IsZero() {
					out.Dim("last indexed " + r.IndexedAt.Format("2006-01-02 15:04"))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
