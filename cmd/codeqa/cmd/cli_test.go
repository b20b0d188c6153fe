package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against an isolated data directory.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append(args,
		"--data-dir", dataDir,
		"--config", filepath.Join(dataDir, "absent.yaml")))
	err := root.Execute()
	return buf.String(), err
}

func sampleTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `package payments

// ChargeCard submits the charge to the gateway with retries.
func ChargeCard(amount int) error {
	return gateway.Submit(amount)
}
`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "payments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payments", "charge.go"), []byte(content), 0o644))
	return dir
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)

	out, err = run(t, t.TempDir(), "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)
}

func TestReposCommand_EmptyIndex(t *testing.T) {
	out, err := run(t, t.TempDir(), "repos")
	require.NoError(t, err)
	assert.Contains(t, out, "No repositories indexed")
}

func TestIngestQueryDeleteFlow(t *testing.T) {
	dataDir := t.TempDir()
	tree := sampleTree(t)

	out, err := run(t, dataDir, "ingest", "payments", tree)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 1 files")

	out, err = run(t, dataDir, "repos")
	require.NoError(t, err)
	assert.Contains(t, out, "payments")
	assert.Contains(t, out, "ready")

	out, err = run(t, dataDir, "query", "how are cards charged", "--repo", "payments")
	require.NoError(t, err)
	assert.Contains(t, out, "ChargeCard")
	assert.Contains(t, out, "payments/charge.go")

	out, err = run(t, dataDir, "query", "how are cards charged", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"citation"`)

	out, err = run(t, dataDir, "stats", "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, "Consistency check passed")

	out, err = run(t, dataDir, "delete", "payments", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted repository")

	out, err = run(t, dataDir, "repos")
	require.NoError(t, err)
	assert.Contains(t, out, "No repositories indexed")
}

func TestQueryCommand_NoIndex(t *testing.T) {
	out, err := run(t, t.TempDir(), "query", "anything at all")
	require.NoError(t, err)
	assert.Contains(t, out, "No repositories indexed yet")
}

func TestDeleteCommand_UnknownRepo(t *testing.T) {
	_, err := run(t, t.TempDir(), "delete", "ghost", "--force")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown repository")
}

func TestIngestCommand_BadPath(t *testing.T) {
	_, err := run(t, t.TempDir(), "ingest", "r", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
