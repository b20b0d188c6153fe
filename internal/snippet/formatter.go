package snippet

import (
	"fmt"
	"strings"

	"github.com/alakhanpal23/codebase-qa/internal/search"
)

// DefaultPreviewLines is the number of non-blank lines carried in a
// citation preview when the caller does not configure one.
const DefaultPreviewLines = 6

// Citation points at the source lines behind a match.
type Citation struct {
	RepoID    string
	FilePath  string
	StartLine int
	EndLine   int
	Score     float32
	// Preview is the first few non-blank lines of the snippet, for compact
	// listings that do not show the full text.
	Preview string
}

// String renders "path:start-end", collapsing to "path:line" for
// single-line chunks.
func (c Citation) String() string {
	if c.StartLine == c.EndLine {
		return fmt.Sprintf("%s:%d", c.FilePath, c.StartLine)
	}
	return fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)
}

// ResultEntry pairs one match with its snippet and citation.
type ResultEntry struct {
	Match    *search.Match
	Snippet  *Snippet
	Citation Citation
}

// QueryResult is the full answer to one retrieval query.
type QueryResult struct {
	Question string
	Entries  []ResultEntry
	// Partial is set when the query deadline expired during snippet
	// extraction and some snippets fell back to stored chunk text.
	Partial bool
}

// Citations lists all citations in match order.
func (r *QueryResult) Citations() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Citation.String()
	}
	return out
}

// BuildResult assembles the query result. matches and snippets must be
// index-aligned; order is preserved from retrieval. previewLines bounds the
// citation previews; zero falls back to DefaultPreviewLines.
func BuildResult(question string, matches []*search.Match, snippets []*Snippet, previewLines int) *QueryResult {
	if previewLines <= 0 {
		previewLines = DefaultPreviewLines
	}
	entries := make([]ResultEntry, len(matches))
	for i, m := range matches {
		entries[i] = ResultEntry{
			Match:   m,
			Snippet: snippets[i],
			Citation: Citation{
				RepoID:    m.RepoID,
				FilePath:  m.FilePath,
				StartLine: m.StartLine,
				EndLine:   m.EndLine,
				Score:     m.Score,
				Preview:   Preview(snippets[i].Text, previewLines),
			},
		}
	}
	return &QueryResult{Question: question, Entries: entries}
}

// Preview returns the first n non-blank lines of text, for compact listings.
func Preview(text string, n int) string {
	if n <= 0 {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == n {
			break
		}
	}
	return strings.Join(kept, "\n")
}
