package snippet

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/alakhanpal23/codebase-qa/internal/chunk"
	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
	"github.com/alakhanpal23/codebase-qa/internal/search"
)

// Extraction defaults.
const (
	// DefaultContextLines is how many lines are shown around the chunk.
	DefaultContextLines = 6

	// DefaultMaxSnippetChars caps snippet size in runes.
	DefaultMaxSnippetChars = 1200
)

// Options tunes snippet extraction. Zero fields fall back to defaults.
type Options struct {
	// ContextLines is the number of lines included before and after the
	// chunk's own lines.
	ContextLines int
	// MaxChars caps snippet text in runes.
	MaxChars int
}

// Source says where the snippet text came from.
type Source string

const (
	// SourceFile means the snippet was read from the file on disk.
	SourceFile Source = "file"
	// SourceStored means the file was unreadable and the snippet is the
	// chunk text saved at ingest time, without surrounding context.
	SourceStored Source = "stored"
)

// Snippet is a presentable excerpt for one match.
type Snippet struct {
	FilePath  string
	StartLine int // First line actually included, 1-indexed
	EndLine   int // Last line actually included
	Text      string
	Source    Source
	Truncated bool // Char cap dropped part of the window
}

// Extractor builds snippets from matches. Extraction is best effort per
// match; a failure on one never affects the others.
type Extractor struct {
	opts Options
	log  *slog.Logger
}

// NewExtractor creates an extractor with default options.
func NewExtractor(log *slog.Logger) *Extractor {
	return NewExtractorWithOptions(Options{}, log)
}

// NewExtractorWithOptions creates an extractor with custom options.
func NewExtractorWithOptions(opts Options, log *slog.Logger) *Extractor {
	if opts.ContextLines <= 0 {
		opts.ContextLines = DefaultContextLines
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxSnippetChars
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{opts: opts, log: log}
}

// Extract returns the snippet for a match. repoRoot is the repository's
// indexed root path; the match's file path is resolved against it with
// symlink and traversal checks. When the file cannot be read safely, or the
// context deadline has already passed, the stored chunk text is used
// instead.
func (e *Extractor) Extract(ctx context.Context, repoRoot string, m *search.Match) *Snippet {
	if ctx.Err() != nil {
		return e.fromStored(m)
	}

	s, err := e.fromFile(repoRoot, m)
	if err == nil {
		return s
	}

	if engerr.HasCode(err, engerr.ErrCodePathTraversal) {
		e.log.Warn("snippet_path_rejected",
			slog.String("repo_id", m.RepoID),
			slog.String("path", m.FilePath))
	} else {
		e.log.Debug("snippet_fallback_to_stored",
			slog.String("repo_id", m.RepoID),
			slog.String("path", m.FilePath),
			slog.String("reason", err.Error()))
	}
	return e.fromStored(m)
}

func (e *Extractor) fromFile(repoRoot string, m *search.Match) (*Snippet, error) {
	path, err := ResolveWithin(repoRoot, m.FilePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !chunk.IsLikelyText(data) {
		return nil, engerr.NotTextContent(m.FilePath)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	// The file may have changed since ingest. If the chunk's lines no
	// longer exist, the stored text is more honest than unrelated lines.
	if m.StartLine > len(lines) {
		return nil, engerr.New(engerr.ErrCodeInvalidInput, "chunk lines beyond current file length", nil)
	}

	start := m.StartLine - e.opts.ContextLines
	if start < 1 {
		start = 1
	}
	end := m.EndLine + e.opts.ContextLines
	if end > len(lines) {
		end = len(lines)
	}
	chunkEnd := m.EndLine
	if chunkEnd > len(lines) {
		chunkEnd = len(lines)
	}

	text, first, last, truncated := assembleWindow(lines, start, end, m.StartLine, chunkEnd, e.opts.MaxChars)
	return &Snippet{
		FilePath:  m.FilePath,
		StartLine: first,
		EndLine:   last,
		Text:      text,
		Source:    SourceFile,
		Truncated: truncated,
	}, nil
}

func (e *Extractor) fromStored(m *search.Match) *Snippet {
	text := m.Text
	truncated := m.Truncated
	if utf8.RuneCountInString(text) > e.opts.MaxChars {
		text = truncateRunes(text, e.opts.MaxChars)
		truncated = true
	}
	return &Snippet{
		FilePath:  m.FilePath,
		StartLine: m.StartLine,
		EndLine:   m.EndLine,
		Text:      text,
		Source:    SourceStored,
		Truncated: truncated,
	}
}

// assembleWindow builds the snippet text from lines[start..end] (1-indexed,
// inclusive) under the char cap. The chunk's own lines take priority over
// context: they are laid down first, then context lines are added before and
// after while budget remains, so capping trims context, not the match.
func assembleWindow(lines []string, start, end, chunkStart, chunkEnd, maxChars int) (text string, first, last int, truncated bool) {
	budget := maxChars

	line := func(n int) string { return lines[n-1] }
	cost := func(s string) int { return utf8.RuneCountInString(s) + 1 } // +1 newline

	var body []string
	first, last = chunkStart, chunkStart-1
	for n := chunkStart; n <= chunkEnd; n++ {
		c := cost(line(n))
		if c > budget {
			if len(body) == 0 {
				// A single enormous line still yields something, and it
				// spends the whole budget: no context rides along.
				body = append(body, truncateRunes(line(n), budget))
				last = n
				budget = 0
			}
			truncated = true
			break
		}
		body = append(body, line(n))
		budget -= c
		last = n
	}
	if last < chunkEnd {
		truncated = true
	}

	for n := chunkStart - 1; n >= start; n-- {
		c := cost(line(n))
		if c > budget {
			truncated = true
			break
		}
		body = append([]string{line(n)}, body...)
		budget -= c
		first = n
	}

	if last == chunkEnd {
		for n := chunkEnd + 1; n <= end; n++ {
			c := cost(line(n))
			if c > budget {
				truncated = true
				break
			}
			body = append(body, line(n))
			budget -= c
			last = n
		}
	}

	return strings.Join(body, "\n"), first, last, truncated
}

// truncateRunes cuts s to at most n runes without splitting one.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
