package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/resilience"
)

const maxReportedErrors = 20

// BackfillOptions bounds one backfill run
type BackfillOptions struct {
	BatchSize   int
	Limit       int
	Concurrency int
}

// BackfillReport summarizes a backfill run
type BackfillReport struct {
	Scanned  int      `json:"scanned"`
	Embedded int      `json:"embedded"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Backfill embeds modules that have no vector yet. A failed batch leaves its
// vectors null and is counted in the report; only listing the modules can
// fail the whole run.
func Backfill(ctx context.Context, store Store, embedder Embedder, opts BackfillOptions) (*BackfillReport, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	refs, err := store.MissingEmbeddings(ctx, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules without embeddings: %w", err)
	}

	report := &BackfillReport{Scanned: len(refs)}
	var mu sync.Mutex
	fail := func(n int, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Failed += n
		if len(report.Errors) < maxReportedErrors {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)

	for start := 0; start < len(refs); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, ref := range batch {
				texts[i] = ref.Text()
			}

			vectors, err := embedder.Embed(ctx, texts)
			if err == nil && len(vectors) != len(batch) {
				err = fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors))
			}
			if err != nil {
				if !errors.Is(err, errors.CategoryUpstreamService) {
					err = errors.NewUpstreamServiceError(resilience.ServiceEmbeddings, err)
				}
				slog.Warn("Embedding batch failed", "modules", len(batch), "error", err)
				fail(len(batch), err)
				return nil
			}

			for i, ref := range batch {
				if err := store.SaveEmbedding(ctx, ref.ID, vectors[i]); err != nil {
					fail(1, fmt.Errorf("module %s: %w", ref.ID, err))
					continue
				}
				mu.Lock()
				report.Embedded++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	slog.Info("Embedding backfill finished",
		"scanned", report.Scanned,
		"embedded", report.Embedded,
		"failed", report.Failed)
	return report, nil
}
