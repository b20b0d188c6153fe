package snippet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alakhanpal23/codebase-qa/internal/search"
)

func TestCitationString(t *testing.T) {
	c := Citation{RepoID: "r", FilePath: "src/auth/login.go", StartLine: 42, EndLine: 67}
	assert.Equal(t, "src/auth/login.go:42-67", c.String())

	single := Citation{RepoID: "r", FilePath: "main.go", StartLine: 7, EndLine: 7}
	assert.Equal(t, "main.go:7", single.String())
}

func TestBuildResult(t *testing.T) {
	matches := []*search.Match{
		{RepoID: "a", FilePath: "x.go", StartLine: 1, EndLine: 20, Score: 0.9},
		{RepoID: "b", FilePath: "y.py", StartLine: 30, EndLine: 30, Score: 0.4},
	}
	snippets := []*Snippet{
		{FilePath: "x.go", StartLine: 1, EndLine: 26, Text: "alpha\n\nbeta\ngamma", Source: SourceFile},
		{FilePath: "y.py", StartLine: 30, EndLine: 30, Text: "beta", Source: SourceStored},
	}

	result := BuildResult("where is auth handled", matches, snippets, 2)

	assert.Equal(t, "where is auth handled", result.Question)
	require.Len(t, result.Entries, 2)
	assert.Same(t, matches[0], result.Entries[0].Match)
	assert.Same(t, snippets[1], result.Entries[1].Snippet)

	// Citations carry the chunk's lines, not the widened snippet window.
	assert.Equal(t, []string{"x.go:1-20", "y.py:30"}, result.Citations())

	c := result.Entries[0].Citation
	assert.Equal(t, float32(0.9), c.Score)
	assert.Equal(t, "alpha\nbeta", c.Preview)
}

func TestBuildResult_Empty(t *testing.T) {
	result := BuildResult("anything", nil, nil, 0)
	assert.Empty(t, result.Entries)
	assert.Empty(t, result.Citations())
}

func TestPreview(t *testing.T) {
	text := "\nfunc main() {\n\n\tserve()\n}\n\n"
	assert.Equal(t, "func main() {\n\tserve()", Preview(text, 2))
	assert.Equal(t, "func main() {", Preview(text, 1))
	assert.Equal(t, "", Preview(text, 0))
	assert.Equal(t, "func main() {\n\tserve()\n}", Preview(text, 10))
}
