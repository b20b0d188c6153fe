package chunk

import (
	"context"
	"strings"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

// Chunker splits file content into chunks. It is a pure transform: all I/O
// is the caller's responsibility.
type Chunker struct {
	parser   *Parser
	registry *LanguageRegistry
	opts     Options
}

// NewChunker creates a chunker with default options.
func NewChunker() *Chunker {
	return NewChunkerWithOptions(Options{})
}

// NewChunkerWithOptions creates a chunker with custom options.
func NewChunkerWithOptions(opts Options) *Chunker {
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens <= 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.OverlapTokens >= opts.MaxChunkTokens {
		opts.OverlapTokens = opts.MaxChunkTokens / 4
	}
	if opts.MaxFileSizeBytes <= 0 {
		opts.MaxFileSizeBytes = 1 << 20
	}

	registry := DefaultRegistry()
	return &Chunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
		opts:     opts,
	}
}

// Close releases parser resources.
func (c *Chunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// Chunk splits a file into chunks.
//
// Files above the size limit are rejected with ERR_204_FILE_TOO_LARGE and
// binary content with ERR_207_NOT_TEXT_CONTENT. An empty file yields zero
// chunks and no error. If a grammar is registered for the file's language,
// chunking follows syntactic boundaries; any parse failure falls back to
// deterministic line windows.
func (c *Chunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if int64(len(file.Content)) > c.opts.MaxFileSizeBytes {
		return nil, engerr.FileTooLarge(file.Path, int64(len(file.Content)), c.opts.MaxFileSizeBytes)
	}
	if len(file.Content) == 0 {
		return nil, nil
	}
	if !IsLikelyText(file.Content) {
		return nil, engerr.NotTextContent(file.Path)
	}

	language := file.Language
	if language == "" {
		language = DetectLanguage(file.Path)
	}

	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	lines := splitLines(content)

	if _, supported := c.registry.GetByName(language); supported {
		tree, err := c.parser.Parse(ctx, file.Content, language)
		if err == nil {
			if chunks := c.chunkSyntactic(tree, lines, file.Path, language); len(chunks) > 0 {
				return chunks, nil
			}
		}
		// Parse failure or no top-level units: fall through to line windows.
	}

	return c.chunkByLines(lines, file.Path, language, Strategy{Kind: StrategyLineBased}), nil
}

// splitLines splits content into lines, dropping the phantom empty element
// produced by a trailing newline.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// unit is a contiguous top-level span of the file, 1-based inclusive lines.
type unit struct {
	start, end int
}

// chunkSyntactic chunks along top-level syntactic boundaries: each top-level
// node is a unit, gap lines attach to the following unit, small adjacent
// units merge until the token budget, and oversized units split by line.
func (c *Chunker) chunkSyntactic(tree *Tree, lines []string, path, language string) []*Chunk {
	lang, _ := c.registry.GetByName(language)
	units := c.topLevelUnits(tree, len(lines), lang)
	if len(units) == 0 {
		return nil
	}

	strategy := Strategy{Kind: StrategySyntactic, Language: language}
	var chunks []*Chunk

	groupStart := units[0].start
	groupEnd := units[0].end

	flush := func() {
		chunks = append(chunks, c.emitSpan(lines, groupStart, groupEnd, path, language, strategy)...)
	}

	for _, u := range units[1:] {
		mergedTokens := spanTokens(lines, groupStart, u.end)
		if mergedTokens <= c.opts.MaxChunkTokens {
			groupEnd = u.end
			continue
		}
		flush()
		groupStart = u.start
		groupEnd = u.end
	}
	flush()

	for i, ch := range chunks {
		ch.Seq = i
	}
	return chunks
}

// topLevelUnits derives contiguous line spans from the root's children whose
// node type is a unit boundary for the language (functions, classes, type
// declarations). Preamble and gap nodes like package clauses, imports, and
// comments ride along with the following unit; trailing non-unit nodes
// extend the last one. Spans never overlap and the first starts at line 1
// for full coverage.
func (c *Chunker) topLevelUnits(tree *Tree, lineCount int, lang *LanguageConfig) []unit {
	var units []unit
	prevEnd := 0
	trailing := 0

	for _, child := range tree.Root.Children {
		start := int(child.StartRow) + 1
		end := int(child.EndRow) + 1
		if end > lineCount {
			end = lineCount
		}
		if end > trailing {
			trailing = end
		}

		if lang != nil && !lang.IsUnitType(child.Type) {
			continue
		}

		if start <= prevEnd {
			// Overlaps the previous span (same-line sibling): extend it.
			if end > prevEnd && len(units) > 0 {
				units[len(units)-1].end = end
				prevEnd = end
			}
			continue
		}

		// Attach gap lines (blanks between declarations) to this unit.
		units = append(units, unit{start: prevEnd + 1, end: end})
		prevEnd = end
	}

	if len(units) > 0 && trailing > units[len(units)-1].end {
		units[len(units)-1].end = trailing
	}
	return units
}

// spanTokens estimates tokens for lines[start..end] (1-based inclusive).
func spanTokens(lines []string, start, end int) int {
	total := 0
	for i := start - 1; i < end && i < len(lines); i++ {
		total += len(lines[i]) + 1
	}
	return total / TokensPerChar
}

// emitSpan creates one or more chunks covering [start, end]. Spans within
// the token budget become a single chunk; larger spans split by line with
// bounded overlap.
func (c *Chunker) emitSpan(lines []string, start, end int, path, language string, strategy Strategy) []*Chunk {
	if spanTokens(lines, start, end) <= c.opts.MaxChunkTokens {
		return []*Chunk{c.buildChunk(lines, start, end, path, language, strategy)}
	}
	return c.windowSpan(lines, start, end, path, language, strategy)
}

// chunkByLines is the deterministic fallback: fixed-size line windows with
// configured overlap. It never fails.
func (c *Chunker) chunkByLines(lines []string, path, language string, strategy Strategy) []*Chunk {
	chunks := c.windowSpan(lines, 1, len(lines), path, language, strategy)
	for i, ch := range chunks {
		ch.Seq = i
	}
	return chunks
}

// windowSpan slides a line window with overlap across [start, end].
func (c *Chunker) windowSpan(lines []string, start, end int, path, language string, strategy Strategy) []*Chunk {
	window, overlap := c.lineWindow()

	var chunks []*Chunk
	for i := start; i <= end; {
		last := i + window - 1
		if last > end {
			last = end
		}

		chunks = append(chunks, c.buildChunk(lines, i, last, path, language, strategy))

		if last >= end {
			break
		}
		next := last - overlap + 1
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return chunks
}

// lineWindow derives the fallback window and overlap sizes in lines.
func (c *Chunker) lineWindow() (window, overlap int) {
	window = c.opts.WindowLines
	if window <= 0 {
		window = (c.opts.MaxChunkTokens * TokensPerChar) / avgLineChars
		if window < 4 {
			window = 4
		}
	}

	overlap = c.opts.OverlapLines
	if overlap <= 0 {
		overlap = (c.opts.OverlapTokens * TokensPerChar) / avgLineChars
		if overlap < 1 {
			overlap = 1
		}
	}
	if overlap >= window {
		overlap = window / 2
	}
	return window, overlap
}

// buildChunk assembles a chunk for lines[start..end], truncating single
// lines that exceed the token budget at a rune-safe boundary.
func (c *Chunker) buildChunk(lines []string, start, end int, path, language string, strategy Strategy) *Chunk {
	text := strings.Join(lines[start-1:end], "\n")

	truncated := false
	if start == end && estimateTokens(text) > c.opts.MaxChunkTokens {
		text = truncateAtRuneBoundary(text, c.opts.MaxChunkTokens*TokensPerChar)
		truncated = true
	}

	hash := hashContent(text, truncated)
	return &Chunk{
		ID:            chunkID(path, hash),
		FilePath:      path,
		StartLine:     start,
		EndLine:       end,
		Text:          text,
		TokenEstimate: estimateTokens(text),
		ContentHash:   hash,
		Language:      language,
		Strategy:      strategy,
		Truncated:     truncated,
	}
}
