package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRepo(id string) *Repository {
	return &Repository{
		ID:        id,
		Name:      id,
		RootPath:  "/repos/" + id,
		Status:    StatusEmpty,
		CreatedAt: time.Now(),
	}
}

func TestSQLiteStore_RepositoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRepository(ctx, testRepo("backend")))

	repo, err := s.GetRepository(ctx, "backend")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "backend", repo.ID)
	assert.Equal(t, StatusEmpty, repo.Status)
	assert.False(t, repo.CreatedAt.IsZero())
	assert.True(t, repo.IndexedAt.IsZero())

	missing, err := s.GetRepository(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_StatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRepository(ctx, testRepo("r")))
	require.NoError(t, s.SetRepositoryStatus(ctx, "r", StatusIngesting))
	require.NoError(t, s.SetRepositoryStatus(ctx, "r", StatusReady))

	repo, err := s.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, repo.Status)

	assert.Error(t, s.SetRepositoryStatus(ctx, "unknown", StatusReady))
}

func TestSQLiteStore_FilesAndChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRepository(ctx, testRepo("r")))
	require.NoError(t, s.SaveFiles(ctx, []*FileRecord{{
		ID: "f1", RepoID: "r", Path: "main.go", Size: 100,
		ContentHash: "hash1", Language: "go", ChunkCount: 2, IndexedAt: time.Now(),
	}}))

	require.NoError(t, s.SaveChunks(ctx, []*ChunkMeta{
		{ID: "c1", RepoID: "r", FileID: "f1", FilePath: "main.go", Seq: 0,
			StartLine: 1, EndLine: 10, Text: "package main", ContentHash: "h1",
			Language: "go", Strategy: "syntactic(go)", CreatedAt: time.Now()},
		{ID: "c2", RepoID: "r", FileID: "f1", FilePath: "main.go", Seq: 1,
			StartLine: 8, EndLine: 20, Text: "func main() {}", ContentHash: "h2",
			Language: "go", Strategy: "syntactic(go)", Truncated: true, CreatedAt: time.Now()},
	}))

	f, err := s.GetFileByPath(ctx, "r", "main.go")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "hash1", f.ContentHash)

	chunks, err := s.GetChunks(ctx, []string{"c2", "c1", "missing"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	// Caller order preserved.
	assert.Equal(t, "c2", chunks[0].ID)
	assert.True(t, chunks[0].Truncated)
	assert.Equal(t, "c1", chunks[1].ID)

	ids, err := s.ListChunkIDs(ctx, "r")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
}

func TestSQLiteStore_ChunkHashLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRepository(ctx, testRepo("r")))
	require.NoError(t, s.SaveFiles(ctx, []*FileRecord{{
		ID: "f1", RepoID: "r", Path: "a.go", ContentHash: "x",
	}}))
	require.NoError(t, s.SaveChunks(ctx, []*ChunkMeta{
		{ID: "c1", RepoID: "r", FileID: "f1", FilePath: "a.go", ContentHash: "h1", Text: "t"},
	}))

	found, err := s.GetChunkIDsByHashes(ctx, "r", []string{"h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"h1": "c1"}, found)

	// Hashes are scoped per repository.
	other, err := s.GetChunkIDsByHashes(ctx, "other", []string{"h1"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteStore_DeleteFileCascadesToChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRepository(ctx, testRepo("r")))
	require.NoError(t, s.SaveFiles(ctx, []*FileRecord{{ID: "f1", RepoID: "r", Path: "a.go", ContentHash: "x"}}))
	require.NoError(t, s.SaveChunks(ctx, []*ChunkMeta{
		{ID: "c1", RepoID: "r", FileID: "f1", FilePath: "a.go", ContentHash: "h1", Text: "t"},
	}))

	require.NoError(t, s.DeleteFile(ctx, "f1"))

	ids, err := s.ListChunkIDs(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLiteStore_DeleteRepositoryRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRepository(ctx, testRepo("r")))
	require.NoError(t, s.SaveFiles(ctx, []*FileRecord{{ID: "f1", RepoID: "r", Path: "a.go", ContentHash: "x"}}))
	require.NoError(t, s.SaveChunks(ctx, []*ChunkMeta{
		{ID: "c1", RepoID: "r", FileID: "f1", FilePath: "a.go", ContentHash: "h1", Text: "t"},
	}))

	require.NoError(t, s.DeleteRepository(ctx, "r"))

	repo, err := s.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Nil(t, repo)

	files, err := s.ListFiles(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, files)

	ids, err := s.ListChunkIDs(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLiteStore_DeletionTombstones(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRepository(ctx, testRepo("r")))
	require.NoError(t, s.BeginDeletion(ctx, "r"))

	// Tombstone recorded and repository hidden from queries.
	pending, err := s.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, pending)

	repo, err := s.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, repo.Status)

	require.NoError(t, s.CompleteDeletion(ctx, "r"))
	pending, err = s.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSQLiteStore_State(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	val, err := s.GetState(ctx, StateKeyEmbedModel)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetState(ctx, StateKeyEmbedModel, "static"))
	require.NoError(t, s.SetState(ctx, StateKeyEmbedModel, "nomic-embed-text"))

	val, err = s.GetState(ctx, StateKeyEmbedModel)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", val)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveRepository(ctx, testRepo("r")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	repo, err := reopened.GetRepository(ctx, "r")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "r", repo.ID)
}
