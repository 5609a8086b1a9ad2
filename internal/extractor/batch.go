package extractor

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/starford/typegen/internal/apperr"
)

// FileResult is the outcome of extracting one file. Err is nil on success,
// apperr.ErrNoModels when the file contributed nothing, or the failure.
type FileResult struct {
	Path   string
	Models []RawModel
	Err    error
}

// Failed reports whether extraction of the file failed.
func (r FileResult) Failed() bool {
	return r.Err != nil && !errors.Is(r.Err, apperr.ErrNoModels)
}

// BatchResult aggregates a batch extraction.
type BatchResult struct {
	Files  []FileResult
	Models []RawModel
}

// Failures returns the files whose extraction failed.
func (b BatchResult) Failures() []FileResult {
	var out []FileResult
	for _, f := range b.Files {
		if f.Failed() {
			out = append(out, f)
		}
	}
	return out
}

// ExtractAll extracts every path with at most workers files in flight.
// A file that fails is logged and skipped; the batch continues. Models are
// returned in path order regardless of completion order. The only error
// returned is a context cancellation.
func ExtractAll(ctx context.Context, ex Extractor, paths []string, workers int, logger *slog.Logger) (BatchResult, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]FileResult, len(paths))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			models, err := ex.Extract(gCtx, p)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			results[i] = FileResult{Path: p, Models: models, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	var batch BatchResult
	batch.Files = results
	for _, r := range results {
		switch {
		case r.Err == nil:
			batch.Models = append(batch.Models, r.Models...)
		case errors.Is(r.Err, apperr.ErrNoModels):
			logger.Debug("extract: no models found", slog.String("path", r.Path))
		default:
			logger.Warn("extract: skipping file",
				slog.String("path", r.Path),
				slog.String("error", r.Err.Error()))
		}
	}
	return batch, nil
}
