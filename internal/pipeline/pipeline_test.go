package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/observability"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- mocks ---

type mockSource struct {
	readings []domain.Reading
	err      error
	calls    atomic.Int32
}

func (m *mockSource) ExtractReadings(_ context.Context) ([]domain.Reading, error) {
	m.calls.Add(1)
	return m.readings, m.err
}

type mockSink struct {
	mu      sync.Mutex
	batches [][]domain.HeatMapRecord
	// failOnCall makes the n-th WriteBatch call (1-based) fail.
	failOnCall int
	err        error
	onWrite    func()
	calls      int
}

func (m *mockSink) WriteBatch(_ context.Context, records []domain.HeatMapRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.onWrite != nil {
		m.onWrite()
	}
	if m.failOnCall == m.calls {
		return m.err
	}
	m.batches = append(m.batches, slices.Clone(records))
	return nil
}

func (m *mockSink) written() [][]domain.HeatMapRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.batches)
}

type stubGeocoder struct{}

func (stubGeocoder) ReverseGeocode(_ context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	if lat == 0 && lon == 0 {
		return domain.GeocodingResult{PlaceName: "Null Island"}, nil
	}
	return domain.GeocodingResult{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(src pipeline.ReadingSource, sink pipeline.HeatMapSink, opts pipeline.Options) (*pipeline.Pipeline, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return pipeline.New(src, sink, discardLogger(), metrics, opts), metrics
}

func reading(lat, lon float64, ts time.Time) domain.Reading {
	return domain.Reading{Coordinate: domain.Coordinate{Lat: lat, Lon: lon}, Timestamp: ts}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

// --- ProcessHeatMap ---

func TestProcessHeatMap_TwoReadingsShareCell(t *testing.T) {
	sink := &mockSink{}
	p, _ := newPipeline(nil, sink, pipeline.Options{})

	err := p.ProcessHeatMap(context.Background(), []domain.Reading{
		reading(0.0001, 0.0001, at(1, 9, 0)),
		reading(0.0002, 0.0002, at(1, 9, 0)),
		reading(10, 10, at(2, 12, 0)), // extends the batch past one day
	})
	require.NoError(t, err)

	want := [][]domain.HeatMapRecord{
		{{Latitude: 0, Longitude: 0, TotalCount: 2, Timestamp: at(1, 0, 0)}},
	}
	if diff := cmp.Diff(want, sink.written()); diff != "" {
		t.Fatalf("written batches mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessHeatMap_TrailingPartialDayDropped(t *testing.T) {
	sink := &mockSink{}
	p, metrics := newPipeline(nil, sink, pipeline.Options{})

	err := p.ProcessHeatMap(context.Background(), []domain.Reading{
		reading(1, 1, at(1, 0, 30)),
		reading(2, 2, at(2, 8, 0)),
		reading(3, 3, at(3, 10, 0)),
	})
	require.NoError(t, err)

	batches := sink.written()
	require.Len(t, batches, 2)
	assert.Equal(t, at(1, 0, 0), batches[0][0].Timestamp)
	assert.Equal(t, domain.Coordinate{Lat: 1, Lon: 1}, batches[0][0].Cell())
	assert.Equal(t, at(2, 0, 0), batches[1][0].Timestamp)
	assert.Equal(t, domain.Coordinate{Lat: 2, Lon: 2}, batches[1][0].Cell())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.Windows.WithLabelValues("written")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RecordsWritten), 0)
}

func TestProcessHeatMap_SameInstantWritesNothing(t *testing.T) {
	sink := &mockSink{}
	p, _ := newPipeline(nil, sink, pipeline.Options{})

	err := p.ProcessHeatMap(context.Background(), []domain.Reading{
		reading(1, 1, at(5, 12, 0)),
		reading(2, 2, at(5, 12, 0)),
	})
	require.NoError(t, err)
	assert.Zero(t, sink.calls)
}

func TestProcessHeatMap_EmptyInput(t *testing.T) {
	sink := &mockSink{}
	p, _ := newPipeline(nil, sink, pipeline.Options{})

	err := p.ProcessHeatMap(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrEmptyInput)

	err = p.ProcessHeatMap(context.Background(), []domain.Reading{})
	require.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Zero(t, sink.calls)
}

func TestProcessHeatMap_EmptyWindowSkipsWrite(t *testing.T) {
	sink := &mockSink{}
	p, metrics := newPipeline(nil, sink, pipeline.Options{})

	// Day 2 has no readings.
	err := p.ProcessHeatMap(context.Background(), []domain.Reading{
		reading(1, 1, at(1, 6, 0)),
		reading(1, 1, at(3, 6, 0)),
		reading(1, 1, at(4, 6, 0)),
	})
	require.NoError(t, err)

	batches := sink.written()
	require.Len(t, batches, 2)
	assert.Equal(t, at(1, 0, 0), batches[0][0].Timestamp)
	assert.Equal(t, at(3, 0, 0), batches[1][0].Timestamp)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Windows.WithLabelValues("empty")), 0)
}

func TestProcessHeatMap_SinkFailureNamesWindow(t *testing.T) {
	sinkErr := errors.New("broker unavailable")
	sink := &mockSink{failOnCall: 2, err: sinkErr}
	p, metrics := newPipeline(nil, sink, pipeline.Options{})

	err := p.ProcessHeatMap(context.Background(), []domain.Reading{
		reading(1, 1, at(1, 6, 0)),
		reading(1, 1, at(2, 6, 0)),
		reading(1, 1, at(3, 6, 0)),
		reading(1, 1, at(4, 6, 0)),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, sinkErr)

	var windowErr *domain.WindowError
	require.ErrorAs(t, err, &windowErr)
	assert.Equal(t, 1, windowErr.Window.Index)
	assert.Equal(t, at(2, 0, 0), windowErr.Window.Start)
	assert.Equal(t, at(3, 0, 0), windowErr.Window.End)
	assert.Equal(t, 1, windowErr.Records)
	assert.Contains(t, err.Error(), "2024-01-02T00:00:00Z")

	// Window 0 was written, window 1 failed, window 2 never reached the sink.
	assert.Len(t, sink.written(), 1)
	assert.Equal(t, 2, sink.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Windows.WithLabelValues("failed")), 0)
}

func TestProcessHeatMap_CancelledBeforeStart(t *testing.T) {
	sink := &mockSink{}
	p, _ := newPipeline(nil, sink, pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.ProcessHeatMap(ctx, []domain.Reading{
		reading(1, 1, at(1, 6, 0)),
		reading(1, 1, at(3, 6, 0)),
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sink.calls)
}

func TestProcessHeatMap_CancelStopsAtWindowBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &mockSink{onWrite: cancel}
	p, _ := newPipeline(nil, sink, pipeline.Options{})

	err := p.ProcessHeatMap(ctx, []domain.Reading{
		reading(1, 1, at(1, 6, 0)),
		reading(1, 1, at(2, 6, 0)),
		reading(1, 1, at(3, 6, 0)),
		reading(1, 1, at(4, 6, 0)),
	})
	require.ErrorIs(t, err, context.Canceled)

	// The window in flight completes; no later window is started.
	assert.Len(t, sink.written(), 1)
}

func TestProcessHeatMap_LocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	sink := &mockSink{}
	p, _ := newPipeline(nil, sink, pipeline.Options{Location: loc})

	// 23:30 UTC on Jan 1 is 01:30 on Jan 2 local time.
	err := p.ProcessHeatMap(context.Background(), []domain.Reading{
		reading(1, 1, at(1, 23, 30)),
		reading(1, 1, at(3, 12, 0)),
	})
	require.NoError(t, err)

	batches := sink.written()
	require.Len(t, batches, 1)
	assert.True(t, batches[0][0].Timestamp.Equal(time.Date(2024, time.January, 2, 0, 0, 0, 0, loc)))
	assert.Equal(t, int64(1), batches[0][0].TotalCount)
}

func TestProcessHeatMap_LabelsCells(t *testing.T) {
	sink := &mockSink{}
	p, _ := newPipeline(nil, sink, pipeline.Options{Geocoder: stubGeocoder{}})

	err := p.ProcessHeatMap(context.Background(), []domain.Reading{
		reading(0.0001, -0.0001, at(1, 6, 0)),
		reading(5, 5, at(1, 7, 0)),
		reading(5, 5, at(2, 7, 0)),
	})
	require.NoError(t, err)

	batches := sink.written()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "Null Island", batches[0][0].PlaceName)
	assert.Empty(t, batches[0][1].PlaceName)
}

func TestProcessHeatMap_ParallelMatchesSequential(t *testing.T) {
	readings := randomReadings(20000, 10)

	seqSink := &mockSink{}
	seq, _ := newPipeline(nil, seqSink, pipeline.Options{Workers: 1, WindowConcurrency: 1})
	require.NoError(t, seq.ProcessHeatMap(context.Background(), readings))

	parSink := &mockSink{}
	par, _ := newPipeline(nil, parSink, pipeline.Options{Workers: 8, WindowConcurrency: 4})
	require.NoError(t, par.ProcessHeatMap(context.Background(), readings))

	byDay := func(a, b []domain.HeatMapRecord) int { return a[0].Timestamp.Compare(b[0].Timestamp) }
	seqBatches := seqSink.written()
	parBatches := parSink.written()
	slices.SortFunc(parBatches, byDay)

	require.NotEmpty(t, seqBatches)
	if diff := cmp.Diff(seqBatches, parBatches); diff != "" {
		t.Fatalf("parallel output differs from sequential (-seq +par):\n%s", diff)
	}

	// Every reading inside a planned window is counted exactly once.
	last := seqBatches[len(seqBatches)-1][0].Timestamp.AddDate(0, 0, 1)
	var inWindows, counted int64
	for _, r := range readings {
		if r.Timestamp.Before(last) {
			inWindows++
		}
	}
	for _, batch := range seqBatches {
		for _, rec := range batch {
			counted += rec.TotalCount
		}
	}
	assert.Equal(t, inWindows, counted)
}

// --- RunOnce / Run ---

func TestRunOnce_WritesAndBecomesReady(t *testing.T) {
	src := &mockSource{readings: []domain.Reading{
		reading(1, 1, at(1, 6, 0)),
		reading(1, 1, at(2, 6, 0)),
	}}
	sink := &mockSink{}
	p, metrics := newPipeline(src, sink, pipeline.Options{})

	require.NoError(t, p.RunOnce(context.Background()))

	assert.Len(t, sink.written(), 1)
	assert.True(t, p.Ready())
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.ReadingsConsumed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Runs.WithLabelValues("success")), 0)
}

func TestRunOnce_SinkFailure(t *testing.T) {
	src := &mockSource{readings: []domain.Reading{
		reading(1, 1, at(1, 6, 0)),
		reading(1, 1, at(2, 6, 0)),
	}}
	sink := &mockSink{failOnCall: 1, err: errors.New("disk full")}
	p, metrics := newPipeline(src, sink, pipeline.Options{})

	err := p.RunOnce(context.Background())
	require.Error(t, err)

	assert.False(t, p.Ready())
	require.Error(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Runs.WithLabelValues("error")), 0)
}

func TestRunOnce_EmptyBatch(t *testing.T) {
	src := &mockSource{}
	p, metrics := newPipeline(src, &mockSink{}, pipeline.Options{})

	err := p.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Runs.WithLabelValues("empty")), 0)
}

func TestRunOnce_ExtractError(t *testing.T) {
	src := &mockSource{err: errors.New("connection refused")}
	p, _ := newPipeline(src, &mockSink{}, pipeline.Options{})

	err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract readings")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunOnce_FailedRunRecomputedNextRun(t *testing.T) {
	src := &mockSource{readings: []domain.Reading{
		reading(1, 1, at(1, 6, 0)),
		reading(1, 1, at(2, 6, 0)),
		reading(1, 1, at(3, 6, 0)),
	}}
	sink := &mockSink{failOnCall: 2, err: errors.New("sink down")}
	p, _ := newPipeline(src, sink, pipeline.Options{})

	require.Error(t, p.RunOnce(context.Background()))
	require.Len(t, sink.written(), 1)

	sink.failOnCall = 0
	require.NoError(t, p.RunOnce(context.Background()))

	// Jan 1 is rewritten with the same count; Jan 2 is no longer missing.
	days := map[int]int64{}
	for _, batch := range sink.written() {
		for _, rec := range batch {
			days[rec.Timestamp.Day()] = rec.TotalCount
		}
	}
	assert.Equal(t, map[int]int64{1: 1, 2: 1}, days)
	assert.True(t, p.Ready())
}

func TestRun_SingleRun(t *testing.T) {
	src := &mockSource{readings: []domain.Reading{reading(1, 1, at(1, 6, 0)), reading(1, 1, at(2, 6, 0))}}
	p, metrics := newPipeline(src, &mockSink{}, pipeline.Options{})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Zero(t, testutil.ToFloat64(metrics.PipelineRunning))
}

func TestRun_RepeatsOnInterval(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(at(10, 0, 0))
	pipeline.SetClock(fakeClock)
	t.Cleanup(func() { pipeline.SetClock(nil) })

	// An empty batch must not stop the loop.
	src := &mockSource{}
	p, _ := newPipeline(src, &mockSink{}, pipeline.Options{RunInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	blockCtx, blockCancel := context.WithTimeout(context.Background(), time.Second)
	defer blockCancel()
	require.NoError(t, fakeClock.BlockUntilContext(blockCtx, 1))
	fakeClock.Advance(time.Hour)

	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

// --- helpers ---

func randomReadings(n, days int) []domain.Reading {
	rng := rand.New(rand.NewPCG(42, 7))
	base := at(1, 3, 0)
	readings := make([]domain.Reading, n)
	for i := range readings {
		readings[i] = reading(
			33.87+rng.Float64()*0.01,
			-95.33+rng.Float64()*0.01,
			base.Add(time.Duration(rng.Int64N(int64(days)*int64(24*time.Hour)))),
		)
	}
	return readings
}
