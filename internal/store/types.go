// Package store is the persistence layer: vector storage partitioned per
// repository (HNSW) and relational metadata (SQLite).
package store

import (
	"context"
	"time"
)

// RepoStatus is the repository lifecycle state.
type RepoStatus string

const (
	// StatusEmpty marks a registered repository with nothing indexed yet.
	StatusEmpty RepoStatus = "empty"
	// StatusIngesting marks a repository with an ingest in flight.
	StatusIngesting RepoStatus = "ingesting"
	// StatusReady marks a repository that is fully searchable.
	StatusReady RepoStatus = "ready"
	// StatusQuarantined marks a repository whose vectors and metadata
	// diverged in a way repair cannot fix. It is excluded from search until
	// re-ingested.
	StatusQuarantined RepoStatus = "quarantined"
	// StatusDeleted marks a repository whose removal has begun. Deleted
	// repositories never serve queries, even if removal was interrupted.
	StatusDeleted RepoStatus = "deleted"
)

// Repository is an indexed code repository.
type Repository struct {
	ID         string     // Caller-chosen identifier, unique
	Name       string     // Display name
	RootPath   string     // Absolute path to the repository root
	Status     RepoStatus // Lifecycle state
	FileCount  int
	ChunkCount int
	CreatedAt  time.Time
	IndexedAt  time.Time // Last successful ingest
}

// FileRecord tracks one ingested file within a repository.
type FileRecord struct {
	ID          string // SHA256(repo_id : path)[:16]
	RepoID      string
	Path        string // Relative to repository root, forward slashes
	Size        int64
	ContentHash string // SHA256 of file content
	Language    string
	ChunkCount  int
	IndexedAt   time.Time
}

// ChunkMeta is the stored metadata for one chunk. The chunk text itself is
// stored here too so snippet extraction can fall back to it when the source
// file has changed on disk.
type ChunkMeta struct {
	ID          string // Content-addressable chunk ID
	RepoID      string
	FileID      string
	FilePath    string
	Seq         int // Position within the file
	StartLine   int // 1-indexed
	EndLine     int // Inclusive
	Text        string
	ContentHash string
	Language    string
	Strategy    string // "syntactic(<lang>)" or "line-based"
	Truncated   bool
	CreatedAt   time.Time
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID     string  // Chunk ID
	RepoID string  // Owning partition
	Score  float32 // Cosine similarity in [-1, 1], higher is closer
}

// MetadataStore persists repositories, files, chunks, and engine state.
type MetadataStore interface {
	// Repository operations
	SaveRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, id string) (*Repository, error)
	ListRepositories(ctx context.Context) ([]*Repository, error)
	SetRepositoryStatus(ctx context.Context, id string, status RepoStatus) error
	UpdateRepositoryStats(ctx context.Context, id string, fileCount, chunkCount int) error
	DeleteRepository(ctx context.Context, id string) error

	// File operations
	SaveFiles(ctx context.Context, files []*FileRecord) error
	GetFileByPath(ctx context.Context, repoID, path string) (*FileRecord, error)
	ListFiles(ctx context.Context, repoID string) ([]*FileRecord, error)
	DeleteFile(ctx context.Context, fileID string) error

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*ChunkMeta) error
	GetChunk(ctx context.Context, id string) (*ChunkMeta, error)
	GetChunks(ctx context.Context, ids []string) ([]*ChunkMeta, error)
	ListChunkIDs(ctx context.Context, repoID string) ([]string, error)
	GetChunkIDsByHashes(ctx context.Context, repoID string, hashes []string) (map[string]string, error)
	DeleteChunksByFile(ctx context.Context, fileID string) error

	// Deletion tombstones. BeginDeletion is durable before any destructive
	// step; CompleteDeletion clears it after the last one. PendingDeletions
	// drive crash recovery at open.
	BeginDeletion(ctx context.Context, repoID string) error
	CompleteDeletion(ctx context.Context, repoID string) error
	PendingDeletions(ctx context.Context) ([]string, error)

	// State operations (key-value engine state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// State keys recorded alongside the index.
const (
	// StateKeyEmbedModel records the embedding model the index was built
	// with. A different model at open means the vectors are unusable.
	StateKeyEmbedModel = "index_embedding_model"
	// StateKeyEmbedDimensions records the embedding dimension.
	StateKeyEmbedDimensions = "index_embedding_dimensions"
)

// VectorIndexConfig configures the vector index.
type VectorIndexConfig struct {
	Dimensions int // Vector dimension, fixed per index
	M          int // HNSW max connections per layer (default: 16)
	EfSearch   int // HNSW query-time search width (default: 64)
}

// DefaultVectorIndexConfig returns defaults for the given dimension.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorIndex stores embeddings partitioned by repository and serves
// nearest-neighbor queries across a chosen set of partitions.
type VectorIndex interface {
	// Upsert inserts or replaces vectors in the repository's partition.
	Upsert(ctx context.Context, repoID string, ids []string, vectors [][]float32) error

	// Search returns the k nearest chunks across the given partitions,
	// ordered by score descending with chunk ID as tiebreaker. Unknown
	// partitions are skipped.
	Search(ctx context.Context, repoIDs []string, query []float32, k int) ([]*VectorResult, error)

	// Delete removes individual vectors from a partition.
	Delete(ctx context.Context, repoID string, ids []string) error

	// DeletePartition drops a repository's partition entirely, including
	// its on-disk files. Dropping an unknown partition is a no-op.
	DeletePartition(ctx context.Context, repoID string) error

	// PartitionIDs lists all chunk IDs in a partition, for consistency
	// checks against the metadata store.
	PartitionIDs(repoID string) []string

	// Count returns the number of vectors in a partition.
	Count(repoID string) int

	// Save persists all dirty partitions.
	Save() error

	Close() error
}
