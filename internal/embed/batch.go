package embed

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

// BatchOptions tunes concurrent embedding.
type BatchOptions struct {
	BatchSize   int               // Texts per provider call
	Concurrency int               // In-flight provider calls
	Retry       engerr.RetryConfig // Backoff for transient failures
}

// DefaultBatchOptions returns the standard batching configuration.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		BatchSize:   DefaultBatchSize,
		Concurrency: 4,
		Retry:       engerr.DefaultRetryConfig(),
	}
}

// EmbedAll embeds texts in concurrent batches with retry on transient
// failures. Results are index-aligned with the input. A failure that
// survives the retry budget aborts the whole call; partial vectors are
// never returned.
func EmbedAll(ctx context.Context, embedder Embedder, texts []string, opts BatchOptions) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	results := make([][]float32, len(texts))
	sem := semaphore.NewWeighted(int64(opts.Concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			vecs, err := engerr.RetryWithResult(gctx, opts.Retry, func() ([][]float32, error) {
				return embedder.EmbedBatch(gctx, texts[start:end])
			})
			if err != nil {
				return err
			}

			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
