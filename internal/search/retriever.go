// Package search answers natural-language questions against indexed
// repositories by embedding the question and running nearest-neighbor
// retrieval across the selected repository partitions.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alakhanpal23/codebase-qa/internal/embed"
	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
	"github.com/alakhanpal23/codebase-qa/internal/store"
)

// Retrieval defaults.
const (
	DefaultK            = 5
	DefaultMaxK         = 20
	DefaultQueryTimeout = 5 * time.Second
)

// Match is one retrieved chunk with its similarity score and enough
// metadata to extract a snippet and build a citation.
type Match struct {
	ChunkID   string
	RepoID    string
	FilePath  string
	StartLine int
	EndLine   int
	Score     float32 // Cosine similarity in [-1, 1]
	Language  string
	Text      string
	Truncated bool
}

// RetrieverConfig tunes retrieval behavior.
type RetrieverConfig struct {
	DefaultK     int           // k when the caller passes 0
	MaxK         int           // Upper clamp for k
	QueryTimeout time.Duration // Budget for embed + search
	Retry        engerr.RetryConfig
}

// DefaultRetrieverConfig returns the standard retrieval configuration.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		DefaultK:     DefaultK,
		MaxK:         DefaultMaxK,
		QueryTimeout: DefaultQueryTimeout,
		Retry:        engerr.DefaultRetryConfig(),
	}
}

// Retriever runs question-answering retrieval.
type Retriever struct {
	metadata store.MetadataStore
	vectors  store.VectorIndex
	embedder embed.Embedder
	locks    *store.RepoLocks
	cfg      RetrieverConfig
	log      *slog.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(metadata store.MetadataStore, vectors store.VectorIndex, embedder embed.Embedder,
	locks *store.RepoLocks, cfg RetrieverConfig, log *slog.Logger) *Retriever {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = DefaultMaxK
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = engerr.DefaultRetryConfig()
	}
	if locks == nil {
		locks = store.NewRepoLocks()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{
		metadata: metadata,
		vectors:  vectors,
		embedder: embedder,
		locks:    locks,
		cfg:      cfg,
		log:      log,
	}
}

// Retrieve returns the k best-matching chunks for the question across the
// selected repositories, ordered by score descending with chunk ID as the
// tiebreaker. Fewer than k matches is a valid result, never an error.
//
// Unknown repository IDs are filtered out; the call fails with
// ERR_408_NO_MATCHING_REPOSITORIES only when no referenced repository
// exists. An empty selection fails with ERR_407_NO_REPOSITORY_SELECTED.
func (r *Retriever) Retrieve(ctx context.Context, question string, repoIDs []string, k int) ([]*Match, error) {
	if strings.TrimSpace(question) == "" {
		return nil, engerr.New(engerr.ErrCodeQueryEmpty, "question is empty", nil)
	}
	if len(repoIDs) == 0 {
		return nil, engerr.NoRepositorySelected()
	}

	if k <= 0 {
		k = r.cfg.DefaultK
	}
	if k > r.cfg.MaxK {
		k = r.cfg.MaxK
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	eligible, err := r.eligibleRepos(ctx, repoIDs)
	if err != nil {
		return nil, err
	}

	queryVec, err := engerr.RetryWithResult(ctx, r.cfg.Retry, func() ([]float32, error) {
		return r.embedder.Embed(ctx, question)
	})
	if err != nil {
		return nil, engerr.EmbeddingUnavailable(err)
	}

	// Read locks keep deletion from yanking partitions mid-search. Sorted
	// acquisition keeps lock order consistent across concurrent queries.
	sorted := append([]string(nil), eligible...)
	sort.Strings(sorted)
	for _, id := range sorted {
		r.locks.RLock(id)
	}
	defer func() {
		for _, id := range sorted {
			r.locks.RUnlock(id)
		}
	}()

	hits, err := r.vectors.Search(ctx, eligible, queryVec, k)
	if err != nil {
		return nil, err
	}

	return r.hydrate(ctx, hits)
}

// eligibleRepos filters the selection down to repositories that exist and
// are not mid-deletion.
func (r *Retriever) eligibleRepos(ctx context.Context, repoIDs []string) ([]string, error) {
	var eligible []string
	anyExists := false

	seen := make(map[string]bool, len(repoIDs))
	for _, id := range repoIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		repo, err := r.metadata.GetRepository(ctx, id)
		if err != nil {
			return nil, err
		}
		if repo == nil {
			r.log.Debug("unknown_repository_filtered", slog.String("repo_id", id))
			continue
		}
		anyExists = true
		switch repo.Status {
		case store.StatusDeleted:
			continue
		case store.StatusQuarantined:
			r.log.Warn("quarantined_repository_excluded", slog.String("repo_id", id))
			continue
		}
		eligible = append(eligible, id)
	}

	if !anyExists {
		return nil, engerr.NoMatchingRepositories(repoIDs)
	}
	return eligible, nil
}

// hydrate joins vector hits with chunk metadata. Hits whose metadata row is
// gone are dropped and logged; the consistency checker owns the repair.
func (r *Retriever) hydrate(ctx context.Context, hits []*store.VectorResult) ([]*Match, error) {
	if len(hits) == 0 {
		return []*Match{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}

	metas, err := r.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	metaByID := make(map[string]*store.ChunkMeta, len(metas))
	for _, m := range metas {
		metaByID[m.ID] = m
	}

	matches := make([]*Match, 0, len(hits))
	for _, h := range hits {
		m, ok := metaByID[h.ID]
		if !ok {
			r.log.Warn("vector_without_metadata",
				slog.String("chunk_id", h.ID), slog.String("repo_id", h.RepoID))
			continue
		}
		matches = append(matches, &Match{
			ChunkID:   m.ID,
			RepoID:    m.RepoID,
			FilePath:  m.FilePath,
			StartLine: m.StartLine,
			EndLine:   m.EndLine,
			Score:     h.Score,
			Language:  m.Language,
			Text:      m.Text,
			Truncated: m.Truncated,
		})
	}
	return matches, nil
}
