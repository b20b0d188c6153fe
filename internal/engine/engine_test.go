package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alakhanpal23/codebase-qa/internal/config"
	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
	"github.com/alakhanpal23/codebase-qa/internal/snippet"
	"github.com/alakhanpal23/codebase-qa/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "indexes")
	cfg.Embeddings.Provider = "static"
	return cfg
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sampleRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "auth/token.go", `package auth

// ValidateToken checks the JWT signature and expiry.
func ValidateToken(raw string) error {
	return verifySignature(raw)
}
`)
	writeFile(t, root, "db/pool.go", `package db

type ConnectionPool struct {
	maxConns int
}
`)
	return root
}

func TestCollectFiles_SkipsJunk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.go", "package main\n")
	writeFile(t, root, ".git/config", "[core]\n")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}\n")
	writeFile(t, root, ".hidden.txt", "secret\n")
	writeFile(t, root, "logo.png", "not really an image\n")
	writeFile(t, root, "big.go", strings.Repeat("x", 100))

	files, err := collectFiles(root, 50, slog.Default())
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "src/main.go", files[0].Path)
	assert.Equal(t, "package main\n", string(files[0].Content))
}

func TestEngine_IngestQueryDelete(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	eng, err := Open(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	root := sampleRepo(t)
	result, err := eng.IngestDir(ctx, "app", "App", root)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesChunked)
	assert.Greater(t, result.ChunksIndexed, 0)

	repos, err := eng.Repositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, store.StatusReady, repos[0].Status)

	answer, err := eng.Query(ctx, "where is the JWT token validated", []string{"app"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, answer.Entries)
	top := answer.Entries[0]
	assert.Contains(t, top.Snippet.Text, "ValidateToken")
	assert.Equal(t, snippet.SourceFile, top.Snippet.Source)
	assert.Contains(t, top.Citation.String(), "auth/token.go")
	assert.Equal(t, top.Match.Score, top.Citation.Score)
	assert.Contains(t, top.Citation.Preview, "ValidateToken")

	require.NoError(t, eng.Delete(ctx, "app"))
	repos, err = eng.Repositories(ctx)
	require.NoError(t, err)
	assert.Empty(t, repos)

	_, err = eng.Query(ctx, "anything", []string{"app"}, 5)
	require.Error(t, err)
	assert.Equal(t, engerr.ErrCodeNoMatchingRepositories, engerr.GetCode(err))
}

func TestEngine_QueryAfterSourceRemoved(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	eng, err := Open(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	root := sampleRepo(t)
	_, err = eng.IngestDir(ctx, "app", "", root)
	require.NoError(t, err)

	// Working tree disappears; answers come from the indexed chunk text.
	require.NoError(t, os.RemoveAll(root))

	answer, err := eng.Query(ctx, "connection pool", []string{"app"}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, answer.Entries)
	assert.Equal(t, snippet.SourceStored, answer.Entries[0].Snippet.Source)
}

func TestEngine_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	root := sampleRepo(t)

	eng, err := Open(ctx, cfg, slog.Default())
	require.NoError(t, err)
	_, err = eng.IngestDir(ctx, "app", "", root)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	eng, err = Open(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	answer, err := eng.Query(ctx, "validate token", []string{"app"}, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Entries)
}

func TestEngine_RejectsChangedEmbeddingModel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	eng, err := Open(ctx, cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	// Simulate an index built with a different model.
	metadata, err := store.NewSQLiteStore(filepath.Join(cfg.Storage.DataDir, "metadata.db"))
	require.NoError(t, err)
	require.NoError(t, metadata.SetState(ctx, store.StateKeyEmbedModel, "nomic-embed-text"))
	require.NoError(t, metadata.Close())

	_, err = Open(ctx, cfg, slog.Default())
	require.Error(t, err)
	assert.Equal(t, engerr.ErrCodeDimensionMismatch, engerr.GetCode(err))
}
