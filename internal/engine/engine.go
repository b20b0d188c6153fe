// Package engine wires the stores, embedder, chunker, ingestor, and
// retriever into one unit behind the CLI.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/alakhanpal23/codebase-qa/internal/chunk"
	"github.com/alakhanpal23/codebase-qa/internal/config"
	"github.com/alakhanpal23/codebase-qa/internal/embed"
	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
	"github.com/alakhanpal23/codebase-qa/internal/index"
	"github.com/alakhanpal23/codebase-qa/internal/search"
	"github.com/alakhanpal23/codebase-qa/internal/snippet"
	"github.com/alakhanpal23/codebase-qa/internal/store"
)

// Engine is the assembled retrieval engine.
type Engine struct {
	cfg       *config.Config
	metadata  *store.SQLiteStore
	vectors   *store.HNSWIndex
	embedder  embed.Embedder
	chunker   *chunk.Chunker
	locks     *store.RepoLocks
	ingestor  *index.Ingestor
	retriever *search.Retriever
	extractor *snippet.Extractor
	checker   *index.ConsistencyChecker
	log       *slog.Logger
}

// Open builds the engine from configuration. Interrupted deletions are
// recovered before the engine is returned, so a crash mid-delete never
// leaves a half-removed repository serving queries.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, err
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(cfg.Storage.DataDir, "metadata.db"))
	if err != nil {
		return nil, err
	}

	embedder, err := embed.NewEmbedder(ctx, embed.FactoryOptions{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Host:       cfg.Embeddings.OllamaHost,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		CacheSize:  cfg.Embeddings.CacheSize,
	})
	if err != nil {
		_ = metadata.Close()
		return nil, err
	}

	if err := pinEmbedding(ctx, metadata, embedder); err != nil {
		_ = embedder.Close()
		_ = metadata.Close()
		return nil, err
	}

	vectors, err := store.NewHNSWIndex(
		filepath.Join(cfg.Storage.DataDir, "vectors"),
		store.DefaultVectorIndexConfig(embedder.Dimensions()))
	if err != nil {
		_ = embedder.Close()
		_ = metadata.Close()
		return nil, err
	}

	chunker := chunk.NewChunkerWithOptions(chunk.Options{
		MaxChunkTokens:   cfg.Chunking.MaxChunkTokens,
		OverlapTokens:    cfg.Chunking.OverlapTokens,
		MaxFileSizeBytes: cfg.Chunking.MaxFileSizeBytes,
		WindowLines:      cfg.Chunking.WindowLines,
		OverlapLines:     cfg.Chunking.OverlapLines,
	})

	retry := engerr.RetryConfig{
		MaxRetries:   cfg.Embeddings.MaxRetries,
		InitialDelay: cfg.Embeddings.RetryBaseDelay,
		MaxDelay:     16 * cfg.Embeddings.RetryBaseDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}

	locks := store.NewRepoLocks()
	ingestor := index.NewIngestor(index.IngestorConfig{
		Metadata:         metadata,
		Vectors:          vectors,
		Embedder:         embedder,
		Chunker:          chunker,
		Locks:            locks,
		Logger:           log,
		LockDir:          filepath.Join(cfg.Storage.DataDir, "locks"),
		Retry:            retry,
		Workers:          cfg.Performance.IngestWorkers,
		EmbedConcurrency: cfg.Performance.EmbedConcurrency,
		FileTimeout:      cfg.Performance.FileTimeout,
	})

	if err := ingestor.RecoverPendingDeletions(ctx); err != nil {
		log.Warn("deletion_recovery_failed", slog.String("error", err.Error()))
	}

	retriever := search.NewRetriever(metadata, vectors, embedder, locks, search.RetrieverConfig{
		DefaultK:     cfg.Retrieval.DefaultK,
		MaxK:         cfg.Retrieval.MaxK,
		QueryTimeout: cfg.Retrieval.QueryTimeout,
		Retry:        retry,
	}, log)

	return &Engine{
		cfg:       cfg,
		metadata:  metadata,
		vectors:   vectors,
		embedder:  embedder,
		chunker:   chunker,
		locks:     locks,
		ingestor:  ingestor,
		retriever: retriever,
		extractor: snippet.NewExtractorWithOptions(snippet.Options{
			ContextLines: cfg.Snippets.ContextLines,
			MaxChars:     cfg.Snippets.MaxChars,
		}, log),
		checker:   index.NewConsistencyChecker(metadata, vectors, log),
		log:       log,
	}, nil
}

// pinEmbedding records the embedding model and dimension on first use and
// rejects a mismatched embedder afterwards. Mixing vector spaces in one
// index silently ruins every score.
func pinEmbedding(ctx context.Context, metadata *store.SQLiteStore, embedder embed.Embedder) error {
	model, err := metadata.GetState(ctx, store.StateKeyEmbedModel)
	if err != nil {
		return err
	}
	if model == "" {
		if err := metadata.SetState(ctx, store.StateKeyEmbedModel, embedder.ModelName()); err != nil {
			return err
		}
		return metadata.SetState(ctx, store.StateKeyEmbedDimensions,
			strconv.Itoa(embedder.Dimensions()))
	}
	if model != embedder.ModelName() {
		return engerr.New(engerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("index was built with model %q, configured model is %q", model, embedder.ModelName()), nil).
			WithSuggestion("delete and re-ingest the repositories, or restore the original embeddings config")
	}
	dims, err := metadata.GetState(ctx, store.StateKeyEmbedDimensions)
	if err != nil {
		return err
	}
	if dims != "" && dims != strconv.Itoa(embedder.Dimensions()) {
		return engerr.New(engerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("index dimension %s does not match embedder dimension %d", dims, embedder.Dimensions()), nil)
	}
	return nil
}

// IngestDir walks dir and ingests every eligible file into the repository.
func (e *Engine) IngestDir(ctx context.Context, repoID, name, dir string) (*index.IngestResult, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, engerr.New(engerr.ErrCodeInvalidInput, fmt.Sprintf("%s is not a directory", dir), nil)
	}

	files, err := collectFiles(root, e.cfg.Chunking.MaxFileSizeBytes, e.log)
	if err != nil {
		return nil, err
	}
	return e.ingestor.Ingest(ctx, repoID, name, root, files)
}

// Query retrieves matches for the question and assembles snippets with
// citations. Snippets are read from the repository's working tree when the
// files are still in place, otherwise from the indexed chunk text. The
// query timeout covers retrieval and extraction; when it expires mid-way
// the result is returned with Partial set instead of failing.
func (e *Engine) Query(ctx context.Context, question string, repoIDs []string, k int) (*snippet.QueryResult, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.Retrieval.QueryTimeout)
	defer cancel()

	matches, err := e.retriever.Retrieve(qctx, question, repoIDs, k)
	if err != nil {
		return nil, err
	}

	roots := make(map[string]string)
	snippets := make([]*snippet.Snippet, len(matches))
	for i, m := range matches {
		root, ok := roots[m.RepoID]
		if !ok {
			repo, err := e.metadata.GetRepository(ctx, m.RepoID)
			if err != nil {
				return nil, err
			}
			if repo != nil {
				root = repo.RootPath
			}
			roots[m.RepoID] = root
		}
		snippets[i] = e.extractor.Extract(qctx, root, m)
	}

	result := snippet.BuildResult(question, matches, snippets, e.cfg.Snippets.PreviewLines)
	result.Partial = qctx.Err() != nil
	return result, nil
}

// Repositories lists all registered repositories, hiding those mid-deletion.
func (e *Engine) Repositories(ctx context.Context) ([]*store.Repository, error) {
	repos, err := e.metadata.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	visible := repos[:0]
	for _, r := range repos {
		if r.Status != store.StatusDeleted {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// Repository returns one repository, or nil when unknown.
func (e *Engine) Repository(ctx context.Context, repoID string) (*store.Repository, error) {
	return e.metadata.GetRepository(ctx, repoID)
}

// Delete removes a repository and everything derived from it.
func (e *Engine) Delete(ctx context.Context, repoID string) error {
	return e.ingestor.DeleteRepo(ctx, repoID)
}

// CheckConsistency cross-checks vectors against metadata, optionally
// repairing what can be repaired. Returns the repositories quarantined by
// the repair, if any.
func (e *Engine) CheckConsistency(ctx context.Context, repair bool) (*index.CheckResult, []string, error) {
	result, err := e.checker.Check(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !repair || result.Clean() {
		return result, nil, nil
	}
	quarantined, err := e.checker.Repair(ctx, result)
	return result, quarantined, err
}

// EmbedderInfo reports the active embedding model and dimension.
func (e *Engine) EmbedderInfo() (model string, dimensions int) {
	return e.embedder.ModelName(), e.embedder.Dimensions()
}

// VectorCount returns the number of vectors held for a repository.
func (e *Engine) VectorCount(repoID string) int {
	return e.vectors.Count(repoID)
}

// Close flushes and releases everything.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.vectors.Close(); err != nil {
		firstErr = err
	}
	if err := e.metadata.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.chunker.Close()
	return firstErr
}
