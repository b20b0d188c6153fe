package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

func numberedLines(n int) []byte {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString("line ")
		b.WriteString(strings.Repeat("x", 10))
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func TestChunk_LineWindows(t *testing.T) {
	c := NewChunkerWithOptions(Options{WindowLines: 20, OverlapLines: 5})
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "notes.txt",
		Content: numberedLines(50),
	})

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 20, chunks[0].EndLine)
	assert.Equal(t, 16, chunks[1].StartLine)
	assert.Equal(t, 35, chunks[1].EndLine)
	assert.Equal(t, 31, chunks[2].StartLine)
	assert.Equal(t, 50, chunks[2].EndLine)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Seq)
		assert.Equal(t, StrategyLineBased, ch.Strategy.Kind)
	}
}

func TestChunk_ShortFileSingleChunk(t *testing.T) {
	c := NewChunkerWithOptions(Options{WindowLines: 20, OverlapLines: 5})
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "short.txt",
		Content: numberedLines(5),
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 5, chunks[0].EndLine)
}

func TestChunk_EmptyFile(t *testing.T) {
	c := NewChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "empty.txt", Content: nil})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk(context.Background(), &FileInput{Path: "blank.txt", Content: []byte("\n\n  \n")})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_FileTooLarge(t *testing.T) {
	c := NewChunkerWithOptions(Options{MaxFileSizeBytes: 100})
	defer c.Close()

	_, err := c.Chunk(context.Background(), &FileInput{
		Path:    "big.txt",
		Content: []byte(strings.Repeat("a", 101)),
	})

	require.Error(t, err)
	assert.Equal(t, engerr.ErrCodeFileTooLarge, engerr.GetCode(err))
}

func TestChunk_RejectsBinaryContent(t *testing.T) {
	c := NewChunker()
	defer c.Close()

	_, err := c.Chunk(context.Background(), &FileInput{
		Path:    "blob.bin",
		Content: []byte{0x7f, 'E', 'L', 'F', 0x00, 0x01, 0x02},
	})

	require.Error(t, err)
	assert.Equal(t, engerr.ErrCodeNotText, engerr.GetCode(err))
}

func TestChunk_Deterministic(t *testing.T) {
	c := NewChunkerWithOptions(Options{WindowLines: 20, OverlapLines: 5})
	defer c.Close()

	input := &FileInput{Path: "repeat.txt", Content: numberedLines(50)}

	first, err := c.Chunk(context.Background(), input)
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), input)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].ContentHash, second[i].ContentHash)
	}
}

func TestChunk_SameContentDifferentPaths(t *testing.T) {
	c := NewChunkerWithOptions(Options{WindowLines: 20, OverlapLines: 5})
	defer c.Close()

	content := numberedLines(5)
	a, err := c.Chunk(context.Background(), &FileInput{Path: "a.txt", Content: content})
	require.NoError(t, err)
	b, err := c.Chunk(context.Background(), &FileInput{Path: "b.txt", Content: content})
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ContentHash, b[0].ContentHash)
	assert.NotEqual(t, a[0].ID, b[0].ID)
}

func TestChunk_GoSyntactic(t *testing.T) {
	c := NewChunker()
	defer c.Close()

	source := `package main

import "fmt"

func add(a, b int) int {
	return a + b
}

func main() {
	fmt.Println(add(1, 2))
}
`
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "main.go",
		Content: []byte(source),
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	lineCount := len(splitLines(source))
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, lineCount, chunks[len(chunks)-1].EndLine)

	prevStart := 0
	for i, ch := range chunks {
		assert.Equal(t, StrategySyntactic, ch.Strategy.Kind)
		assert.Equal(t, "go", ch.Strategy.Language)
		assert.Equal(t, i, ch.Seq)
		assert.GreaterOrEqual(t, ch.StartLine, prevStart)
		assert.LessOrEqual(t, ch.StartLine, ch.EndLine)
		prevStart = ch.StartLine
	}
}

func TestChunk_GoUnitBoundaries(t *testing.T) {
	c := NewChunkerWithOptions(Options{MaxChunkTokens: 20, OverlapTokens: 4})
	defer c.Close()

	source := `package calc

import "math"

func Square(x float64) float64 {
	return x * x
}

func Root(x float64) float64 {
	return math.Sqrt(x)
}
`
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "calc.go",
		Content: []byte(source),
	})

	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// The package clause and import are not units of their own; they ride
	// along with the first function.
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 7, chunks[0].EndLine)
	assert.Contains(t, chunks[0].Text, "func Square")
	assert.Equal(t, 8, chunks[1].StartLine)
	assert.Equal(t, 11, chunks[1].EndLine)
	assert.Contains(t, chunks[1].Text, "func Root")
}

func TestChunk_PythonSyntacticSplitsLargeClasses(t *testing.T) {
	c := NewChunkerWithOptions(Options{MaxChunkTokens: 60, OverlapTokens: 10})
	defer c.Close()

	var b strings.Builder
	b.WriteString("class Widget:\n")
	for i := 0; i < 30; i++ {
		b.WriteString("    def method(self, value):\n")
		b.WriteString("        return value * 2\n")
	}

	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "widget.py",
		Content: []byte(b.String()),
	})

	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenEstimate, 60)
	}
}

func TestChunk_TruncatesSingleGiantLine(t *testing.T) {
	c := NewChunkerWithOptions(Options{MaxChunkTokens: 100})
	defer c.Close()

	giant := strings.Repeat("é", 5000) // multi-byte to exercise rune boundary
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "minified.js",
		Content: []byte(giant),
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	ch := chunks[0]
	assert.True(t, ch.Truncated)
	assert.LessOrEqual(t, len(ch.Text), 100*TokensPerChar)
	assert.NotEqual(t, hashContent(giant, false), ch.ContentHash)
	// The truncated hash must itself be stable.
	assert.Equal(t, hashContent(ch.Text, true), ch.ContentHash)
}

func TestChunk_FallbackOnUnknownLanguage(t *testing.T) {
	c := NewChunkerWithOptions(Options{WindowLines: 10, OverlapLines: 2})
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "query.sql",
		Content: numberedLines(25),
	})

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, ch := range chunks {
		assert.Equal(t, StrategyLineBased, ch.Strategy.Kind)
		assert.Equal(t, "sql", ch.Language)
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage("pkg/server.go"))
	assert.Equal(t, "python", DetectLanguage("app/main.py"))
	assert.Equal(t, "tsx", DetectLanguage("src/App.tsx"))
	assert.Equal(t, "", DetectLanguage("Makefile"))
}

func TestIsLikelyText(t *testing.T) {
	assert.True(t, IsLikelyText([]byte("plain text\n")))
	assert.False(t, IsLikelyText([]byte{'a', 0x00, 'b'}))
	assert.False(t, IsLikelyText([]byte{0xff, 0xfe, 0xfd}))
}
