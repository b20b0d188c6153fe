package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusWithIcon(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Status("📦", "indexing")
	assert.Equal(t, "📦 indexing\n", buf.String())
}

func TestStatusWithoutIconIndents(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Status("", "detail line")
	assert.Equal(t, "   detail line\n", buf.String())
}

func TestSuccessWarningError(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Successf("done in %dms", 42)
	w.Warning("careful")
	w.Error("broken")

	out := buf.String()
	assert.Contains(t, out, "✅ done in 42ms")
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "broken")
}

func TestCodeIndentsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Code("func a() {\n\treturn\n}")

	lines := strings.Split(strings.Trim(buf.String(), "\n"), "\n")
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "  "), "line %q not indented", line)
	}
}

func TestNoColorOnBuffer(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	assert.Equal(t, "0.123", w.Score(0.1234))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, strings.Repeat("█", 15)+strings.Repeat("░", 15), renderProgressBar(1, 2, 30))
	assert.Equal(t, strings.Repeat("░", 10), renderProgressBar(0, 10, 10))
	assert.Equal(t, strings.Repeat("█", 10), renderProgressBar(10, 10, 10))
}
