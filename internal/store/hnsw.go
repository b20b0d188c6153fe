package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

const (
	vectorFileName = "vectors.hnsw"
	metaFileSuffix = ".meta"
)

// partition is one repository's HNSW graph with its ID mappings.
type partition struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	dirty   bool
}

// partitionMeta is the persisted ID mapping for a partition.
type partitionMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorIndexConfig
}

// HNSWIndex implements VectorIndex with one HNSW graph per repository.
// Partitioning keeps deletion O(1) per repository (drop the partition) and
// lets searches touch only the selected repositories.
type HNSWIndex struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	config     VectorIndexConfig
	baseDir    string
	closed     bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

// NewHNSWIndex creates a vector index rooted at baseDir and loads any
// partitions already on disk.
func NewHNSWIndex(baseDir string, cfg VectorIndexConfig) (*HNSWIndex, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	idx := &HNSWIndex{
		partitions: make(map[string]*partition),
		config:     cfg,
		baseDir:    baseDir,
	}

	if err := idx.loadAll(); err != nil {
		return nil, err
	}
	return idx, nil
}

// newPartition builds an empty graph with the configured parameters.
func (x *HNSWIndex) newPartition() *partition {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = x.config.M
	graph.EfSearch = x.config.EfSearch
	graph.Ml = 0.25

	return &partition{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// partitionDir maps a repository ID to its on-disk directory. IDs carrying
// path separators are rejected outright.
func (x *HNSWIndex) partitionDir(repoID string) (string, error) {
	if repoID == "" || strings.ContainsAny(repoID, `/\`) || repoID == "." || repoID == ".." {
		return "", engerr.New(engerr.ErrCodeInvalidInput, fmt.Sprintf("invalid repository id %q", repoID), nil)
	}
	return filepath.Join(x.baseDir, repoID), nil
}

// Upsert inserts or replaces vectors in the repository's partition, creating
// the partition on first use. Replaced IDs use lazy deletion: the old node
// stays in the graph but is unreachable through the ID maps.
func (x *HNSWIndex) Upsert(_ context.Context, repoID string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return engerr.New(engerr.ErrCodeInvalidInput,
			fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := x.partitionDir(repoID); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return engerr.New(engerr.ErrCodeInternal, "vector index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != x.config.Dimensions {
			return engerr.New(engerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", x.config.Dimensions, len(v)), nil)
		}
	}

	p, ok := x.partitions[repoID]
	if !ok {
		p = x.newPartition()
		x.partitions[repoID] = p
	}

	for i, id := range ids {
		if oldKey, exists := p.idMap[id]; exists {
			delete(p.keyMap, oldKey)
			delete(p.idMap, id)
		}

		key := p.nextKey
		p.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		p.graph.Add(hnsw.MakeNode(key, vec))
		p.idMap[id] = key
		p.keyMap[key] = id
	}
	p.dirty = true

	return nil
}

// Search fans out across the selected partitions and merges the per-partition
// results into a single top-k list ordered by score descending, chunk ID
// ascending. Partitions with no data are skipped.
func (x *HNSWIndex) Search(ctx context.Context, repoIDs []string, query []float32, k int) ([]*VectorResult, error) {
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, engerr.New(engerr.ErrCodeInternal, "vector index is closed", nil)
	}
	if len(query) != x.config.Dimensions {
		return nil, engerr.New(engerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", x.config.Dimensions, len(query)), nil)
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	var (
		resultMu sync.Mutex
		merged   []*VectorResult
	)

	g, _ := errgroup.WithContext(ctx)
	for _, repoID := range repoIDs {
		p, ok := x.partitions[repoID]
		if !ok || p.graph.Len() == 0 {
			continue
		}
		repoID, p := repoID, p

		g.Go(func() error {
			nodes := p.graph.Search(normalized, k)

			hits := make([]*VectorResult, 0, len(nodes))
			for _, node := range nodes {
				id, live := p.keyMap[node.Key]
				if !live {
					continue // lazily deleted
				}
				distance := p.graph.Distance(normalized, node.Value)
				hits = append(hits, &VectorResult{
					ID:     id,
					RepoID: repoID,
					Score:  1.0 - distance, // cosine similarity in [-1, 1]
				})
			}

			resultMu.Lock()
			merged = append(merged, hits...)
			resultMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResults(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// sortResults orders by score descending with chunk ID ascending as the
// deterministic tiebreaker.
func sortResults(results []*VectorResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// Delete lazily removes vectors from a partition.
func (x *HNSWIndex) Delete(_ context.Context, repoID string, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return engerr.New(engerr.ErrCodeInternal, "vector index is closed", nil)
	}

	p, ok := x.partitions[repoID]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if key, exists := p.idMap[id]; exists {
			delete(p.keyMap, key)
			delete(p.idMap, id)
			p.dirty = true
		}
	}
	return nil
}

// DeletePartition drops the in-memory partition and removes its files.
func (x *HNSWIndex) DeletePartition(_ context.Context, repoID string) error {
	dir, err := x.partitionDir(repoID)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return engerr.New(engerr.ErrCodeInternal, "vector index is closed", nil)
	}

	delete(x.partitions, repoID)
	if err := os.RemoveAll(dir); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to remove partition files", err)
	}
	return nil
}

// PartitionIDs lists all live chunk IDs in a partition.
func (x *HNSWIndex) PartitionIDs(repoID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	p, ok := x.partitions[repoID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(p.idMap))
	for id := range p.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live vectors in a partition.
func (x *HNSWIndex) Count(repoID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if p, ok := x.partitions[repoID]; ok {
		return len(p.idMap)
	}
	return 0
}

// Save persists every dirty partition atomically: the graph export and the
// ID-map gob are each written to a temp file and renamed into place.
func (x *HNSWIndex) Save() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return engerr.New(engerr.ErrCodeInternal, "vector index is closed", nil)
	}

	for repoID, p := range x.partitions {
		if !p.dirty {
			continue
		}
		if err := x.savePartition(repoID, p); err != nil {
			return err
		}
		p.dirty = false
	}
	return nil
}

func (x *HNSWIndex) savePartition(repoID string, p *partition) error {
	dir, err := x.partitionDir(repoID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to create partition directory", err)
	}

	vectorPath := filepath.Join(dir, vectorFileName)
	graphFile, err := renameio.TempFile(dir, vectorPath)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to stage vector file", err)
	}
	defer func() { _ = graphFile.Cleanup() }()

	w := bufio.NewWriter(graphFile)
	if err := p.graph.Export(w); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to export graph", err)
	}
	if err := w.Flush(); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to flush vector file", err)
	}
	if err := graphFile.CloseAtomicallyReplace(); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to replace vector file", err)
	}

	metaFile, err := renameio.TempFile(dir, vectorPath+metaFileSuffix)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to stage meta file", err)
	}
	defer func() { _ = metaFile.Cleanup() }()

	meta := partitionMeta{IDMap: p.idMap, NextKey: p.nextKey, Config: x.config}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to encode partition meta", err)
	}
	if err := metaFile.CloseAtomicallyReplace(); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to replace meta file", err)
	}

	return nil
}

// loadAll restores every partition directory found under baseDir.
func (x *HNSWIndex) loadAll() error {
	entries, err := os.ReadDir(x.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return engerr.New(engerr.ErrCodeInternal, "failed to read index directory", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		vectorPath := filepath.Join(x.baseDir, entry.Name(), vectorFileName)
		if _, err := os.Stat(vectorPath); err != nil {
			continue // not a partition directory
		}
		if err := x.loadPartition(entry.Name(), vectorPath); err != nil {
			return err
		}
	}
	return nil
}

func (x *HNSWIndex) loadPartition(repoID, vectorPath string) error {
	metaFile, err := os.Open(vectorPath + metaFileSuffix)
	if err != nil {
		return engerr.New(engerr.ErrCodeCorruptIndex,
			fmt.Sprintf("partition %q has vectors but no meta file", repoID), err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta partitionMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return engerr.New(engerr.ErrCodeCorruptIndex,
			fmt.Sprintf("partition %q meta file is unreadable", repoID), err)
	}
	if meta.Config.Dimensions != x.config.Dimensions {
		return engerr.New(engerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("partition %q was built with %d dimensions, index expects %d",
				repoID, meta.Config.Dimensions, x.config.Dimensions), nil)
	}

	p := x.newPartition()
	p.idMap = meta.IDMap
	p.nextKey = meta.NextKey
	for id, key := range p.idMap {
		p.keyMap[key] = id
	}

	graphFile, err := os.Open(vectorPath)
	if err != nil {
		return engerr.New(engerr.ErrCodeCorruptIndex,
			fmt.Sprintf("partition %q vector file is unreadable", repoID), err)
	}
	defer func() { _ = graphFile.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := p.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return engerr.New(engerr.ErrCodeCorruptIndex,
			fmt.Sprintf("partition %q graph import failed", repoID), err)
	}

	x.partitions[repoID] = p
	return nil
}

// Close saves dirty partitions and releases the index.
func (x *HNSWIndex) Close() error {
	if err := x.Save(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	x.partitions = nil
	return nil
}

// normalizeInPlace scales v to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
