package pipeline

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"golang.org/x/sync/errgroup"
)

// span is a half-open index range [lo, hi) into a slice.
type span struct {
	lo, hi int
}

// partition splits n items into at most parts contiguous, non-empty spans.
func partition(n, parts int) []span {
	if n == 0 {
		return nil
	}
	parts = max(1, min(parts, n))
	size := (n + parts - 1) / parts

	spans := make([]span, 0, parts)
	for lo := 0; lo < n; lo += size {
		spans = append(spans, span{lo: lo, hi: min(lo+size, n)})
	}
	return spans
}

// prepareMeasurements maps readings to rounded measurements and computes the
// batch extent. Each worker owns one span of the output and one partial
// extent; partial extents are merged after all workers finish.
func prepareMeasurements(ctx context.Context, readings []domain.Reading, workers int) ([]domain.Measurement, domain.TimeRange, error) {
	if len(readings) == 0 {
		return nil, domain.TimeRange{}, domain.ErrEmptyInput
	}

	measurements := make([]domain.Measurement, len(readings))
	spans := partition(len(readings), workers)
	extents := make([]domain.TimeRange, len(spans))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range spans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var extent domain.TimeRange
			for j := s.lo; j < s.hi; j++ {
				m := domain.NewMeasurement(readings[j]).Rounded()
				measurements[j] = m
				extent = extent.Observe(m.Timestamp())
			}
			extents[i] = extent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.TimeRange{}, err
	}

	var extent domain.TimeRange
	for _, e := range extents {
		extent = extent.Merge(e)
	}

	slices.SortStableFunc(measurements, func(a, b domain.Measurement) int {
		return a.Timestamp().Compare(b.Timestamp())
	})
	return measurements, extent, nil
}

// windowSlice narrows time-sorted measurements to the candidates for [start, end).
func windowSlice(sorted []domain.Measurement, start, end time.Time) []domain.Measurement {
	lo := sort.Search(len(sorted), func(i int) bool {
		return !sorted[i].Timestamp().Before(start)
	})
	hi := sort.Search(len(sorted), func(i int) bool {
		return !sorted[i].Timestamp().Before(end)
	})
	return sorted[lo:hi]
}
