package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ReadingSource delivers the full bounded dataset on every call. Records for
// a (cell, day) replace earlier ones, so a source must not hand out only the
// readings that arrived since the previous call.
type ReadingSource interface {
	ExtractReadings(ctx context.Context) ([]domain.Reading, error)
}

// HeatMapSink durably stores one window's records. A call either stores the
// whole batch or returns an error.
type HeatMapSink interface {
	WriteBatch(ctx context.Context, records []domain.HeatMapRecord) error
}

// Options tunes a Pipeline. Zero values pick the defaults.
type Options struct {
	// Workers bounds goroutines used for mapping and counting. Default 1.
	Workers int
	// WindowConcurrency bounds windows processed at once. Default 1, which
	// writes windows strictly in order.
	WindowConcurrency int
	// Location defines local midnight for daily windows. Default UTC.
	Location *time.Location
	// Geocoder labels cells with place names. Nil disables labeling.
	Geocoder domain.Geocoder
	// RunInterval repeats the batch job. Zero runs once.
	RunInterval time.Duration
}

// Pipeline turns a batch of readings into daily grid heat maps.
type Pipeline struct {
	source     ReadingSource
	sink       HeatMapSink
	aggregator *WindowAggregator
	geocoder   domain.Geocoder
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool

	workers           int
	windowConcurrency int
	location          *time.Location
	runInterval       time.Duration
}

// New creates a Pipeline reading from source and writing to sink.
func New(source ReadingSource, sink HeatMapSink, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	workers := max(1, opts.Workers)
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Pipeline{
		source:            source,
		sink:              sink,
		aggregator:        NewWindowAggregator(workers),
		geocoder:          opts.Geocoder,
		logger:            logger,
		metrics:           metrics,
		workers:           workers,
		windowConcurrency: max(1, opts.WindowConcurrency),
		location:          loc,
		runInterval:       opts.RunInterval,
	}
}

// CheckReadiness returns nil once a batch run has completed successfully,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a heat map run yet")
	}
	return nil
}

// Ready reports whether a batch run has completed successfully.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Run executes the batch job once, or every RunInterval until the context is
// cancelled. In repeat mode failed runs are logged and recomputed in full on
// the next tick.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"workers", p.workers,
		"window_concurrency", p.windowConcurrency,
		"timezone", p.location.String(),
		"run_interval", p.runInterval,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	if p.runInterval <= 0 {
		return p.RunOnce(ctx)
	}

	ticker := clock.NewTicker(p.runInterval)
	defer ticker.Stop()

	for {
		if err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, domain.ErrEmptyInput) {
				p.logger.Info("no readings in batch, waiting for next run")
			} else {
				p.logger.Error("heat map run failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce extracts the dataset from the source and writes its heat map.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	start := clock.Now()
	logger := p.logger.With("run_id", uuid.NewString())

	readings, err := p.source.ExtractReadings(ctx)
	if err != nil {
		p.metrics.Runs.WithLabelValues("error").Inc()
		return fmt.Errorf("extract readings: %w", err)
	}
	p.metrics.ReadingsConsumed.Add(float64(len(readings)))

	if err := p.process(ctx, logger, readings); err != nil {
		if errors.Is(err, domain.ErrEmptyInput) {
			p.metrics.Runs.WithLabelValues("empty").Inc()
		} else {
			p.metrics.Runs.WithLabelValues("error").Inc()
		}
		return err
	}

	elapsed := clock.Since(start)
	p.metrics.Runs.WithLabelValues("success").Inc()
	p.metrics.RunDuration.Observe(elapsed.Seconds())
	p.ready.Store(true)
	logger.Info("heat map run complete", "readings", len(readings), "duration", elapsed)
	return nil
}

// ProcessHeatMap aggregates readings into daily grid counts and writes each
// window's records to the sink. It returns domain.ErrEmptyInput for an empty
// batch and a *domain.WindowError naming the window when a write fails.
func (p *Pipeline) ProcessHeatMap(ctx context.Context, readings []domain.Reading) error {
	return p.process(ctx, p.logger, readings)
}

func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, readings []domain.Reading) error {
	measurements, extent, err := prepareMeasurements(ctx, readings, p.workers)
	if err != nil {
		return err
	}

	windows := domain.PlanDailyWindows(extent.Min, extent.Max, p.location)
	logger.Info("heat map batch planned",
		"readings", len(readings),
		"min_timestamp", extent.Min,
		"max_timestamp", extent.Max,
		"windows", len(windows),
	)

	return p.processWindows(ctx, logger, measurements, windows)
}

// processWindows dispatches windows in index order. The first failure cancels
// windows that have not started; started windows finish or abandon without
// writing.
func (p *Pipeline) processWindows(ctx context.Context, logger *slog.Logger, measurements []domain.Measurement, windows []domain.Window) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.windowConcurrency)

	dispatched := 0
	for _, w := range windows {
		if gctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			return p.processWindow(gctx, logger, measurements, w)
		})
	}

	err := g.Wait()
	if skipped := len(windows) - dispatched; skipped > 0 {
		p.metrics.Windows.WithLabelValues("skipped").Add(float64(skipped))
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pipeline) processWindow(ctx context.Context, logger *slog.Logger, measurements []domain.Measurement, w domain.Window) error {
	if err := ctx.Err(); err != nil {
		p.metrics.Windows.WithLabelValues("skipped").Inc()
		return err
	}
	start := clock.Now()
	logger = logger.With("window_index", w.Index, "window_start", w.Start)

	counts, err := p.aggregator.Aggregate(ctx, windowSlice(measurements, w.Start, w.End), w)
	if err != nil {
		p.metrics.Windows.WithLabelValues("skipped").Inc()
		return err
	}
	p.metrics.CellsPerWindow.Observe(float64(len(counts)))

	if len(counts) == 0 {
		p.metrics.Windows.WithLabelValues("empty").Inc()
		logger.Debug("window has no readings")
		return nil
	}

	records := domain.NewHeatMapRecords(counts, w.Start)
	records = domain.LabelRecords(ctx, records, p.geocoder, logger)

	// Never hand a sink a window that was interrupted while labeling.
	if err := ctx.Err(); err != nil {
		p.metrics.Windows.WithLabelValues("skipped").Inc()
		return err
	}

	if err := p.sink.WriteBatch(ctx, records); err != nil {
		p.metrics.Windows.WithLabelValues("failed").Inc()
		logger.Error("write window failed", "records", len(records), "error", err)
		return &domain.WindowError{Window: w, Records: len(records), Err: err}
	}

	p.metrics.Windows.WithLabelValues("written").Inc()
	p.metrics.RecordsWritten.Add(float64(len(records)))
	p.metrics.WindowDuration.Observe(clock.Since(start).Seconds())
	logger.Debug("window written", "records", len(records))
	return nil
}
