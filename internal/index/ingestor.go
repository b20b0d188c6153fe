// Package index coordinates ingestion: chunking, embedding, and persistence
// across the vector index and metadata store. It also owns repository
// deletion and cross-store consistency checking.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alakhanpal23/codebase-qa/internal/chunk"
	"github.com/alakhanpal23/codebase-qa/internal/embed"
	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
	"github.com/alakhanpal23/codebase-qa/internal/store"
)

// Defaults for the ingest pipeline.
const (
	DefaultIngestWorkers    = 4
	DefaultEmbedConcurrency = 4
	DefaultFileTimeout      = 30 * time.Second

	lockRetryDelay = 100 * time.Millisecond
)

// FileStatus is the per-file ingest outcome.
type FileStatus string

const (
	// FileChunked means the file was (re)indexed.
	FileChunked FileStatus = "chunked"
	// FileSkipped means the file needed no work or was rejected.
	FileSkipped FileStatus = "skipped"
	// FileFailed means processing errored; the batch continued without it.
	FileFailed FileStatus = "failed"
)

// FileOutcome reports what happened to one file.
type FileOutcome struct {
	Path   string
	Status FileStatus
	Chunks int
	Reason string // Set for skipped and failed files
}

// IngestResult summarizes one ingest batch.
type IngestResult struct {
	BatchID       string
	RepoID        string
	Files         []FileOutcome
	FilesChunked  int
	FilesSkipped  int
	FilesFailed   int
	ChunksIndexed int
	Duration      time.Duration
}

// FilePayload is one file handed to Ingest: a repository-relative path and
// its raw content. Reading from disk is the caller's concern.
type FilePayload struct {
	Path    string
	Content []byte
}

// IngestorConfig wires the ingestor's collaborators.
type IngestorConfig struct {
	Metadata store.MetadataStore
	Vectors  store.VectorIndex
	Embedder embed.Embedder
	Chunker  *chunk.Chunker
	Locks    *store.RepoLocks
	Logger   *slog.Logger

	// LockDir holds per-repository cross-process lock files. Writes to
	// different repositories proceed in parallel; two processes writing the
	// same repository are serialized.
	LockDir string

	// Retry is the backoff policy for transient embedding failures.
	Retry engerr.RetryConfig

	Workers          int
	EmbedConcurrency int
	FileTimeout      time.Duration
}

// Ingestor runs ingest batches and repository deletion.
type Ingestor struct {
	cfg IngestorConfig
	log *slog.Logger
}

// NewIngestor creates an ingestor. Config defaults are applied here so
// callers can leave tuning fields zero.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultIngestWorkers
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = DefaultEmbedConcurrency
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = DefaultFileTimeout
	}
	if cfg.Locks == nil {
		cfg.Locks = store.NewRepoLocks()
	}
	if cfg.Retry == (engerr.RetryConfig{}) {
		cfg.Retry = engerr.DefaultRetryConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Ingestor{cfg: cfg, log: log}
}

// fileChunks is the stage-one output for one successfully chunked file.
type fileChunks struct {
	payload FilePayload
	relPath string
	hash    string
	chunks  []*chunk.Chunk
}

// Ingest indexes a batch of files into the repository, creating it if
// needed. The batch is idempotent: unchanged files and unchanged chunks are
// skipped, and re-running the same batch yields the same index state.
// Per-file failures are reported in the result, not returned as errors.
func (ing *Ingestor) Ingest(ctx context.Context, repoID, name, rootPath string, files []FilePayload) (*IngestResult, error) {
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &IngestResult{BatchID: uuid.NewString(), RepoID: repoID}

	unlock, err := ing.acquireRepoLock(ctx, repoID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ing.cfg.Locks.Lock(repoID)
	defer ing.cfg.Locks.Unlock(repoID)

	repo, err := ing.prepareRepository(ctx, repoID, name, rootPath)
	if err != nil {
		return nil, err
	}

	log := ing.log.With(slog.String("batch_id", result.BatchID), slog.String("repo_id", repoID))
	log.Info("ingest_started", slog.Int("files", len(files)))

	chunked, outcomes := ing.chunkStage(ctx, repoID, files)
	result.Files = outcomes

	if err := ing.persistStage(ctx, repoID, chunked, result); err != nil {
		// Leave the repository searchable with whatever was indexed before.
		_ = ing.cfg.Metadata.SetRepositoryStatus(ctx, repoID, previousStatus(repo))
		return nil, err
	}

	if err := ing.finalizeRepository(ctx, repoID); err != nil {
		return nil, err
	}

	for _, o := range result.Files {
		switch o.Status {
		case FileChunked:
			result.FilesChunked++
		case FileSkipped:
			result.FilesSkipped++
		case FileFailed:
			result.FilesFailed++
		}
	}
	result.Duration = time.Since(start)

	log.Info("ingest_finished",
		slog.Int("chunked", result.FilesChunked),
		slog.Int("skipped", result.FilesSkipped),
		slog.Int("failed", result.FilesFailed),
		slog.Int("chunks", result.ChunksIndexed),
		slog.Duration("duration", result.Duration))

	return result, nil
}

// acquireRepoLock takes the cross-process lock for one repository. The repo
// id is validated before this runs, so it is safe as a file name.
func (ing *Ingestor) acquireRepoLock(ctx context.Context, repoID string) (func(), error) {
	if ing.cfg.LockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(ing.cfg.LockDir, 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(ing.cfg.LockDir, repoID+".lock"))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal,
			fmt.Sprintf("failed to lock repository %q", repoID), err)
	}
	if !ok {
		return nil, engerr.New(engerr.ErrCodeInternal,
			fmt.Sprintf("repository %q is locked by another process", repoID), nil)
	}
	return func() { _ = fl.Unlock() }, nil
}

// prepareRepository loads or registers the repository and moves it to the
// ingesting state. Repositories mid-deletion cannot be ingested into.
func (ing *Ingestor) prepareRepository(ctx context.Context, repoID, name, rootPath string) (*store.Repository, error) {
	repo, err := ing.cfg.Metadata.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if repo != nil && repo.Status == store.StatusDeleted {
		return nil, engerr.New(engerr.ErrCodeInvalidInput,
			fmt.Sprintf("repository %q is being deleted", repoID), nil)
	}

	if repo == nil {
		if name == "" {
			name = repoID
		}
		repo = &store.Repository{
			ID:        repoID,
			Name:      name,
			RootPath:  rootPath,
			Status:    store.StatusEmpty,
			CreatedAt: time.Now(),
		}
		if err := ing.cfg.Metadata.SaveRepository(ctx, repo); err != nil {
			return nil, err
		}
	}

	if err := ing.cfg.Metadata.SetRepositoryStatus(ctx, repoID, store.StatusIngesting); err != nil {
		return nil, err
	}
	return repo, nil
}

// previousStatus picks the status to restore after a failed batch.
func previousStatus(repo *store.Repository) store.RepoStatus {
	if repo.Status == store.StatusReady {
		return store.StatusReady
	}
	return store.StatusEmpty
}

// chunkStage chunks files concurrently, deciding per file whether work is
// needed. Rejections and errors become outcomes; they never abort the batch.
func (ing *Ingestor) chunkStage(ctx context.Context, repoID string, files []FilePayload) ([]*fileChunks, []FileOutcome) {
	type slot struct {
		chunks  *fileChunks
		outcome FileOutcome
	}
	slots := make([]slot, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.cfg.Workers)

	for i, payload := range files {
		i, payload := i, payload
		g.Go(func() error {
			fileCtx, cancel := context.WithTimeout(gctx, ing.cfg.FileTimeout)
			defer cancel()

			fc, outcome := ing.processFile(fileCtx, repoID, payload)
			slots[i] = slot{chunks: fc, outcome: outcome}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; outcomes carry failures

	var chunked []*fileChunks
	outcomes := make([]FileOutcome, 0, len(files))
	for _, s := range slots {
		outcomes = append(outcomes, s.outcome)
		if s.chunks != nil {
			chunked = append(chunked, s.chunks)
		}
	}
	return chunked, outcomes
}

// processFile chunks one file. A nil fileChunks means no persistence work.
func (ing *Ingestor) processFile(ctx context.Context, repoID string, payload FilePayload) (*fileChunks, FileOutcome) {
	relPath, err := normalizeRelPath(payload.Path)
	if err != nil {
		ing.log.Warn("file_rejected", slog.String("path", payload.Path), slog.String("error", err.Error()))
		return nil, FileOutcome{Path: payload.Path, Status: FileSkipped, Reason: err.Error()}
	}

	contentHash := hashBytes(payload.Content)

	existing, err := ing.cfg.Metadata.GetFileByPath(ctx, repoID, relPath)
	if err != nil {
		return nil, FileOutcome{Path: relPath, Status: FileFailed, Reason: err.Error()}
	}
	if existing != nil && existing.ContentHash == contentHash {
		return nil, FileOutcome{Path: relPath, Status: FileSkipped, Reason: "unchanged"}
	}

	chunks, err := ing.cfg.Chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: payload.Content})
	if err != nil {
		// Size and binary rejections are expected; anything else is a failure.
		switch engerr.GetCode(err) {
		case engerr.ErrCodeFileTooLarge, engerr.ErrCodeNotText:
			ing.log.Warn("file_rejected", slog.String("path", relPath), slog.String("error", err.Error()))
			return nil, FileOutcome{Path: relPath, Status: FileSkipped, Reason: err.Error()}
		}
		ing.log.Error("file_chunking_failed", slog.String("path", relPath), slog.String("error", err.Error()))
		return nil, FileOutcome{Path: relPath, Status: FileFailed, Reason: err.Error()}
	}

	return &fileChunks{
			payload: payload,
			relPath: relPath,
			hash:    contentHash,
			chunks:  chunks,
		}, FileOutcome{
			Path:   relPath,
			Status: FileChunked,
			Chunks: len(chunks),
		}
}

// persistStage embeds new chunks and writes vectors, file records, and chunk
// metadata, file by file. Chunks whose content hash already exists in the
// repository are reused without re-embedding. An embedding failure that
// survives the retry budget fails that file's outcome and the batch carries
// on; storage errors still abort.
func (ing *Ingestor) persistStage(ctx context.Context, repoID string, files []*fileChunks, result *IngestResult) error {
	if len(files) == 0 {
		return nil
	}

	// Identify chunks that need embedding.
	var allHashes []string
	for _, fc := range files {
		for _, c := range fc.chunks {
			allHashes = append(allHashes, c.ContentHash)
		}
	}
	known, err := ing.cfg.Metadata.GetChunkIDsByHashes(ctx, repoID, allHashes)
	if err != nil {
		return err
	}

	outcomeIdx := make(map[string]int, len(result.Files))
	for i, o := range result.Files {
		outcomeIdx[o.Path] = i
	}

	now := time.Now()
	for _, fc := range files {
		newChunks, vectors, err := ing.embedFileChunks(ctx, fc, known)
		if err != nil {
			ing.log.Error("file_embedding_failed",
				slog.String("path", fc.relPath),
				slog.String("error", err.Error()))
			if i, ok := outcomeIdx[fc.relPath]; ok {
				result.Files[i] = FileOutcome{Path: fc.relPath, Status: FileFailed, Reason: err.Error()}
			}
			continue
		}

		// Vectors first, metadata second: an orphan vector is recoverable by
		// the consistency checker, a chunk row without a vector is a broken
		// search.
		if len(newChunks) > 0 {
			ids := make([]string, len(newChunks))
			for i, c := range newChunks {
				ids[i] = c.ID
			}
			if err := ing.cfg.Vectors.Upsert(ctx, repoID, ids, vectors); err != nil {
				return err
			}
		}

		// Replacing a changed file drops its old chunks before the new rows
		// land; stale vectors are removed from the partition as well.
		fileID := fileRecordID(repoID, fc.relPath)
		if err := ing.replaceFileChunks(ctx, repoID, fileID, fc, now); err != nil {
			return err
		}
		result.ChunksIndexed += len(fc.chunks)
	}

	if err := ing.cfg.Vectors.Save(); err != nil {
		return err
	}
	return nil
}

// embedFileChunks embeds the chunks of one file that have no vector yet.
func (ing *Ingestor) embedFileChunks(ctx context.Context, fc *fileChunks, known map[string]string) ([]*chunk.Chunk, [][]float32, error) {
	var (
		newChunks []*chunk.Chunk
		newTexts  []string
	)
	for _, c := range fc.chunks {
		// Reuse only exact id matches. A known hash under a different id
		// (renamed file, duplicated content) still needs its own vector;
		// the embedding cache keeps the repeat call cheap.
		if existingID, exists := known[c.ContentHash]; !exists || existingID != c.ID {
			newChunks = append(newChunks, c)
			newTexts = append(newTexts, c.Text)
		}
	}

	vectors, err := embed.EmbedAll(ctx, ing.cfg.Embedder, newTexts, embed.BatchOptions{
		BatchSize:   embed.DefaultBatchSize,
		Concurrency: ing.cfg.EmbedConcurrency,
		Retry:       ing.cfg.Retry,
	})
	if err != nil {
		return nil, nil, err
	}
	return newChunks, vectors, nil
}

// replaceFileChunks swaps a file's chunk set in metadata and prunes vectors
// that no longer correspond to any chunk of the file.
func (ing *Ingestor) replaceFileChunks(ctx context.Context, repoID, fileID string, fc *fileChunks, now time.Time) error {
	existing, err := ing.cfg.Metadata.GetFileByPath(ctx, repoID, fc.relPath)
	if err != nil {
		return err
	}
	if existing != nil {
		keep := make(map[string]bool, len(fc.chunks))
		for _, c := range fc.chunks {
			keep[c.ID] = true
		}

		// Stale vector IDs: chunks of the old revision not present in the new.
		oldIDs, err := ing.cfg.Metadata.ListChunkIDs(ctx, repoID)
		if err != nil {
			return err
		}
		oldMetas, err := ing.cfg.Metadata.GetChunks(ctx, oldIDs)
		if err != nil {
			return err
		}
		var stale []string
		for _, m := range oldMetas {
			if m.FileID == fileID && !keep[m.ID] {
				stale = append(stale, m.ID)
			}
		}
		if len(stale) > 0 {
			if err := ing.cfg.Vectors.Delete(ctx, repoID, stale); err != nil {
				return err
			}
		}
		if err := ing.cfg.Metadata.DeleteChunksByFile(ctx, fileID); err != nil {
			return err
		}
	}

	record := &store.FileRecord{
		ID:          fileID,
		RepoID:      repoID,
		Path:        fc.relPath,
		Size:        int64(len(fc.payload.Content)),
		ContentHash: fc.hash,
		Language:    chunk.DetectLanguage(fc.relPath),
		ChunkCount:  len(fc.chunks),
		IndexedAt:   now,
	}
	if err := ing.cfg.Metadata.SaveFiles(ctx, []*store.FileRecord{record}); err != nil {
		return err
	}

	metas := make([]*store.ChunkMeta, len(fc.chunks))
	for i, c := range fc.chunks {
		metas[i] = &store.ChunkMeta{
			ID:          c.ID,
			RepoID:      repoID,
			FileID:      fileID,
			FilePath:    c.FilePath,
			Seq:         c.Seq,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			Text:        c.Text,
			ContentHash: c.ContentHash,
			Language:    c.Language,
			Strategy:    c.Strategy.String(),
			Truncated:   c.Truncated,
			CreatedAt:   now,
		}
	}
	return ing.cfg.Metadata.SaveChunks(ctx, metas)
}

// finalizeRepository refreshes stats and flips the repository to ready.
func (ing *Ingestor) finalizeRepository(ctx context.Context, repoID string) error {
	files, err := ing.cfg.Metadata.ListFiles(ctx, repoID)
	if err != nil {
		return err
	}
	chunkIDs, err := ing.cfg.Metadata.ListChunkIDs(ctx, repoID)
	if err != nil {
		return err
	}
	if err := ing.cfg.Metadata.UpdateRepositoryStats(ctx, repoID, len(files), len(chunkIDs)); err != nil {
		return err
	}
	return ing.cfg.Metadata.SetRepositoryStatus(ctx, repoID, store.StatusReady)
}

// DeleteRepo removes a repository and all derived data. The tombstone is
// durable before the first destructive step, so an interrupted deletion is
// completed at next startup instead of leaving a half-removed repository.
func (ing *Ingestor) DeleteRepo(ctx context.Context, repoID string) error {
	if err := validateRepoID(repoID); err != nil {
		return err
	}

	unlock, err := ing.acquireRepoLock(ctx, repoID)
	if err != nil {
		return err
	}
	defer unlock()

	ing.cfg.Locks.Lock(repoID)
	defer ing.cfg.Locks.Unlock(repoID)

	repo, err := ing.cfg.Metadata.GetRepository(ctx, repoID)
	if err != nil {
		return err
	}
	if repo == nil {
		return engerr.New(engerr.ErrCodeInvalidInput, fmt.Sprintf("unknown repository %q", repoID), nil)
	}

	if err := ing.cfg.Metadata.BeginDeletion(ctx, repoID); err != nil {
		return err
	}
	return ing.completeDeletion(ctx, repoID)
}

// completeDeletion performs the destructive steps of a deletion whose
// tombstone is already durable.
func (ing *Ingestor) completeDeletion(ctx context.Context, repoID string) error {
	if err := ing.cfg.Vectors.DeletePartition(ctx, repoID); err != nil {
		return err
	}
	if err := ing.cfg.Metadata.DeleteRepository(ctx, repoID); err != nil {
		return err
	}
	if err := ing.cfg.Metadata.CompleteDeletion(ctx, repoID); err != nil {
		return err
	}
	ing.log.Info("repository_deleted", slog.String("repo_id", repoID))
	return nil
}

// RecoverPendingDeletions finishes deletions interrupted by a crash. Called
// once at engine startup before serving queries.
func (ing *Ingestor) RecoverPendingDeletions(ctx context.Context) error {
	pending, err := ing.cfg.Metadata.PendingDeletions(ctx)
	if err != nil {
		return err
	}
	for _, repoID := range pending {
		ing.log.Warn("resuming_interrupted_deletion", slog.String("repo_id", repoID))
		if err := ing.completeDeletion(ctx, repoID); err != nil {
			return err
		}
	}
	return nil
}

// validateRepoID enforces identifier hygiene: repo IDs become directory
// names, so anything path-like is rejected.
func validateRepoID(id string) error {
	if id == "" {
		return engerr.New(engerr.ErrCodeInvalidInput, "repository id is empty", nil)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
		default:
			return engerr.New(engerr.ErrCodeInvalidInput,
				fmt.Sprintf("repository id %q contains invalid character %q", id, r), nil)
		}
	}
	if id == "." || id == ".." {
		return engerr.New(engerr.ErrCodeInvalidInput, fmt.Sprintf("repository id %q is reserved", id), nil)
	}
	return nil
}

// normalizeRelPath cleans a repository-relative path and rejects anything
// absolute or escaping upward.
func normalizeRelPath(p string) (string, error) {
	p = filepath.ToSlash(p)
	if p == "" {
		return "", engerr.New(engerr.ErrCodeInvalidInput, "file path is empty", nil)
	}
	if strings.HasPrefix(p, "/") {
		return "", engerr.PathTraversal(p)
	}
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", engerr.PathTraversal(p)
	}
	return cleaned, nil
}

// fileRecordID derives a stable file ID from repository and path.
func fileRecordID(repoID, relPath string) string {
	sum := sha256.Sum256([]byte(repoID + ":" + relPath))
	return hex.EncodeToString(sum[:])[:16]
}

// hashBytes is the content hash used for file change detection.
func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
