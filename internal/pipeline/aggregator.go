package pipeline

import (
	"context"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"golang.org/x/sync/errgroup"
)

// minParallelMeasurements is the window size below which counting stays on
// the calling goroutine.
const minParallelMeasurements = 4096

// WindowAggregator counts measurements per grid cell for one window.
// Large inputs are split into partitions counted concurrently and merged with
// domain.MergeCellCounts.
type WindowAggregator struct {
	workers int
}

// NewWindowAggregator creates an aggregator using up to workers goroutines.
func NewWindowAggregator(workers int) *WindowAggregator {
	return &WindowAggregator{workers: max(1, workers)}
}

// Aggregate filters ms to w, groups by cell and counts. An empty input yields
// an empty result. The only error is context cancellation.
func (a *WindowAggregator) Aggregate(ctx context.Context, ms []domain.Measurement, w domain.Window) ([]domain.GridCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.workers == 1 || len(ms) < minParallelMeasurements {
		return domain.AggregateWindow(ms, w), nil
	}

	spans := partition(len(ms), a.workers)
	partials := make([]domain.CellCounts, len(spans))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range spans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[i] = domain.CountByCell(ms[s.lo:s.hi], w)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return domain.MergeCellCounts(partials...).GridCounts(), nil
}
