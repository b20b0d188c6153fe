package snippet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

func TestResolveWithin_NormalFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main\n"), 0o644))

	resolved, err := ResolveWithin(root, "src/main.go")
	require.NoError(t, err)

	data, err := os.ReadFile(resolved)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
}

func TestResolveWithin_TraversalRejected(t *testing.T) {
	root := t.TempDir()

	for _, rel := range []string{
		"../../../etc/passwd",
		"..",
		"../sibling.txt",
		"a/../../escape.txt",
		"/etc/passwd",
	} {
		_, err := ResolveWithin(root, rel)
		require.Error(t, err, "path %q", rel)
		assert.Equal(t, engerr.ErrCodePathTraversal, engerr.GetCode(err), "path %q", rel)
	}
}

func TestResolveWithin_SymlinkEscapeRejected(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "repo")
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))

	_, err := ResolveWithin(root, "link.txt")
	require.Error(t, err)
	assert.Equal(t, engerr.ErrCodePathTraversal, engerr.GetCode(err))
}

func TestResolveWithin_SymlinkInsideAllowed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.go"), []byte("package x\n"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "real.go"), filepath.Join(root, "alias.go")))

	resolved, err := ResolveWithin(root, "alias.go")
	require.NoError(t, err)
	assert.Contains(t, resolved, "real.go")
}

func TestResolveWithin_MissingFile(t *testing.T) {
	root := t.TempDir()

	_, err := ResolveWithin(root, "gone.go")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
