package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
	"github.com/alakhanpal23/codebase-qa/internal/store"
)

// InconsistencyType categorizes a vector/metadata divergence.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector without a metadata row. Safe to
	// repair by deleting the vector.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is a metadata row whose vector is gone.
	// Not repairable in place; the repository must be re-ingested.
	InconsistencyMissingVector
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected divergence.
type Inconsistency struct {
	Type    InconsistencyType
	RepoID  string
	ChunkID string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	ReposChecked    int
	ChunksChecked   int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Clean reports whether no issues were found.
func (r *CheckResult) Clean() bool { return len(r.Inconsistencies) == 0 }

// ConsistencyChecker cross-checks the vector index against the metadata
// store. Metadata is the source of truth.
type ConsistencyChecker struct {
	metadata store.MetadataStore
	vectors  store.VectorIndex
	log      *slog.Logger
}

// NewConsistencyChecker creates a checker.
func NewConsistencyChecker(metadata store.MetadataStore, vectors store.VectorIndex, log *slog.Logger) *ConsistencyChecker {
	if log == nil {
		log = slog.Default()
	}
	return &ConsistencyChecker{metadata: metadata, vectors: vectors, log: log}
}

// Check scans every repository for divergence between the two stores.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	result := &CheckResult{}

	repos, err := c.metadata.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	for _, repo := range repos {
		if repo.Status == store.StatusDeleted {
			continue
		}
		result.ReposChecked++

		metaIDs, err := c.metadata.ListChunkIDs(ctx, repo.ID)
		if err != nil {
			return nil, err
		}
		metaSet := make(map[string]bool, len(metaIDs))
		for _, id := range metaIDs {
			metaSet[id] = true
		}
		result.ChunksChecked += len(metaIDs)

		vectorIDs := c.vectors.PartitionIDs(repo.ID)
		vectorSet := make(map[string]bool, len(vectorIDs))
		for _, id := range vectorIDs {
			vectorSet[id] = true
			if !metaSet[id] {
				result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
					Type: InconsistencyOrphanVector, RepoID: repo.ID, ChunkID: id,
				})
			}
		}
		for _, id := range metaIDs {
			if !vectorSet[id] {
				result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
					Type: InconsistencyMissingVector, RepoID: repo.ID, ChunkID: id,
				})
			}
		}
	}

	result.Duration = time.Since(start)
	if !result.Clean() {
		c.log.Warn("consistency_check_failed",
			slog.Int("issues", len(result.Inconsistencies)),
			slog.Int("repos", result.ReposChecked))
	}
	return result, nil
}

// Repair removes orphan vectors and quarantines repositories with missing
// vectors. Quarantined repositories are returned; they are excluded from
// search until re-ingested.
func (c *ConsistencyChecker) Repair(ctx context.Context, result *CheckResult) ([]string, error) {
	orphansByRepo := make(map[string][]string)
	quarantine := make(map[string]bool)

	for _, issue := range result.Inconsistencies {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphansByRepo[issue.RepoID] = append(orphansByRepo[issue.RepoID], issue.ChunkID)
		case InconsistencyMissingVector:
			quarantine[issue.RepoID] = true
		}
	}

	for repoID, ids := range orphansByRepo {
		if err := c.vectors.Delete(ctx, repoID, ids); err != nil {
			return nil, err
		}
		c.log.Info("orphan_vectors_removed",
			slog.String("repo_id", repoID), slog.Int("count", len(ids)))
	}

	var quarantined []string
	for repoID := range quarantine {
		if err := c.metadata.SetRepositoryStatus(ctx, repoID, store.StatusQuarantined); err != nil {
			return nil, err
		}
		quarantined = append(quarantined, repoID)
		c.log.Error("repository_quarantined",
			slog.String("repo_id", repoID),
			slog.String("reason", "chunks without vectors"))
	}
	return quarantined, nil
}

// VerifyRepo returns an ERR_205_CORRUPT_INDEX error when a single
// repository's stores diverge. Used before serving sensitive operations.
func (c *ConsistencyChecker) VerifyRepo(ctx context.Context, repoID string) error {
	metaIDs, err := c.metadata.ListChunkIDs(ctx, repoID)
	if err != nil {
		return err
	}
	if len(metaIDs) != c.vectors.Count(repoID) {
		return engerr.IndexInconsistency(repoID,
			fmt.Sprintf("%d chunks in metadata, %d vectors", len(metaIDs), c.vectors.Count(repoID)))
	}
	return nil
}
