package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
	"github.com/alakhanpal23/codebase-qa/internal/output"
	"github.com/alakhanpal23/codebase-qa/internal/snippet"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	repos   []string
	k       int
	format  string // "text", "json"
	preview int    // non-blank preview lines per result, 0 shows full snippets
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question about indexed repositories",
		Long: `Ask a natural-language question and get the most relevant code
chunks with file citations.

Without --repo the question runs against every indexed repository.

Examples:
  codeqa query "where are JWT tokens validated"
  codeqa query "how does retry backoff work" --repo backend -k 3
  codeqa query "database schema migrations" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return runQuery(cmd.Context(), cmd, question, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.repos, "repo", "r", nil, "Repository to search (repeatable; default: all)")
	cmd.Flags().IntVarP(&opts.k, "limit", "k", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().IntVar(&opts.preview, "preview", 0, "Show only the first N non-blank lines per snippet")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, question string, opts queryOptions) error {
	out := output.New(cmd.OutOrStdout())

	eng, _, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	repoIDs := opts.repos
	if len(repoIDs) == 0 {
		repos, err := eng.Repositories(ctx)
		if err != nil {
			return err
		}
		for _, r := range repos {
			repoIDs = append(repoIDs, r.ID)
		}
		if len(repoIDs) == 0 {
			out.Warning("No repositories indexed yet. Run 'codeqa ingest' first.")
			return nil
		}
	}

	result, err := eng.Query(ctx, question, repoIDs, opts.k)
	if err != nil {
		if engerr.HasCode(err, engerr.ErrCodeEmbeddingUnavailable) {
			out.Error("Embedding backend is unavailable.")
			out.Status("", "Check that Ollama is running, or switch embeddings.provider to \"static\".")
		}
		return err
	}

	switch opts.format {
	case "json":
		return formatQueryJSON(cmd, result)
	default:
		formatQueryText(out, result, opts.preview)
		return nil
	}
}

func formatQueryText(out *output.Writer, result *snippet.QueryResult, preview int) {
	if len(result.Entries) == 0 {
		out.Statusf("🔍", "No matches for %q", result.Question)
		return
	}

	out.Statusf("🔍", "Found %d matches for %q:", len(result.Entries), result.Question)
	if result.Partial {
		out.Warning("Query deadline reached; some snippets show indexed content only.")
	}
	out.Newline()

	for i, e := range result.Entries {
		out.Statusf("", "%d. [%s] %s (score: %s)",
			i+1, e.Match.RepoID, e.Citation.String(), out.Score(e.Match.Score))

		text := e.Snippet.Text
		if preview > 0 {
			text = snippet.Preview(text, preview)
		}
		out.Code(text)

		if e.Snippet.Source == snippet.SourceStored {
			out.Dim("(file changed since indexing; showing indexed content)")
		}
		if e.Snippet.Truncated {
			out.Dim("(snippet truncated)")
		}
	}

	out.Header("Sources")
	for _, c := range result.Citations() {
		out.Status("", c)
	}
}

func formatQueryJSON(cmd *cobra.Command, result *snippet.QueryResult) error {
	type jsonEntry struct {
		RepoID    string  `json:"repo_id"`
		FilePath  string  `json:"file_path"`
		StartLine int     `json:"start_line"`
		EndLine   int     `json:"end_line"`
		Score     float32 `json:"score"`
		Language  string  `json:"language,omitempty"`
		Citation  string  `json:"citation"`
		Preview   string  `json:"preview,omitempty"`
		Snippet   string  `json:"snippet"`
		Source    string  `json:"snippet_source"`
	}

	entries := make([]jsonEntry, len(result.Entries))
	for i, e := range result.Entries {
		entries[i] = jsonEntry{
			RepoID:    e.Match.RepoID,
			FilePath:  e.Match.FilePath,
			StartLine: e.Match.StartLine,
			EndLine:   e.Match.EndLine,
			Score:     e.Match.Score,
			Language:  e.Match.Language,
			Citation:  e.Citation.String(),
			Preview:   e.Citation.Preview,
			Snippet:   e.Snippet.Text,
			Source:    string(e.Snippet.Source),
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Question string      `json:"question"`
		Partial  bool        `json:"partial,omitempty"`
		Results  []jsonEntry `json:"results"`
	}{Question: result.Question, Partial: result.Partial, Results: entries})
}
