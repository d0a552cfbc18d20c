// Command validate checks a SQLite heat map against the readings it was built
// from. It recomputes the heat map in memory with the same pipeline, then
// compares every window's cells and counts with the stored rows.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -readings data/mock/readings.jsonl \
//	  -db heatmap.db \
//	  -timezone UTC
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/adapter/jsonl"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/observability"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxReported caps per-phase error output.
const maxReported = 20

func main() {
	readingsPath := flag.String("readings", "", "path to the JSONL readings the heat map was built from")
	dbPath := flag.String("db", "", "path to the SQLite heat map database")
	tz := flag.String("timezone", "UTC", "IANA zone used for daily windows")
	flag.Parse()

	if *readingsPath == "" || *dbPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load timezone: %v\n", err)
		os.Exit(1)
	}

	if code := run(context.Background(), *readingsPath, *dbPath, loc); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, readingsPath, dbPath string, loc *time.Location) int {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fmt.Println("=== Heat Map Integrity Validation ===")
	fmt.Println()

	// ── Load data ──
	f, err := os.Open(readingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open readings: %v\n", err)
		return 1
	}
	readings, rejected, err := jsonl.ReadReadings(ctx, f, logger)
	_ = f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read readings: %v\n", err)
		return 1
	}

	store, err := sqlite.Open(ctx, dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer store.Close()

	expected, err := recompute(ctx, readings, loc, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: recompute heat map: %v\n", err)
		return 1
	}

	windows := planWindows(readings, loc)

	// ── Run validation phases ──
	phases := []*phase{
		validateInput(readings, rejected),
		validateWindows(windows, readings, loc),
		validateStored(ctx, store, windows, expected),
		validateConservation(expected, windows, readings),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Readings: %d parsed, %d rejected; windows: %d; expected rows: %d\n",
		len(readings), rejected, len(windows), countRecords(expected))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors[:min(len(p.errors), maxReported)] {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
		if len(p.errors) > maxReported {
			fmt.Printf("  ... %d more\n", len(p.errors)-maxReported)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Recomputation ──

// memorySink collects records per window start.
type memorySink struct {
	mu    sync.Mutex
	byDay map[int64][]domain.HeatMapRecord
}

func (s *memorySink) WriteBatch(_ context.Context, records []domain.HeatMapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := records[0].Timestamp.UnixMilli()
	s.byDay[day] = append(s.byDay[day], records...)
	return nil
}

func recompute(ctx context.Context, readings []domain.Reading, loc *time.Location, logger *slog.Logger) (map[int64][]domain.HeatMapRecord, error) {
	sink := &memorySink{byDay: make(map[int64][]domain.HeatMapRecord)}
	if len(readings) == 0 {
		return sink.byDay, nil
	}
	p := pipeline.New(nil, sink, logger, observability.NewMetricsForTesting(), pipeline.Options{Location: loc})
	if err := p.ProcessHeatMap(ctx, readings); err != nil {
		return nil, err
	}
	return sink.byDay, nil
}

func planWindows(readings []domain.Reading, loc *time.Location) []domain.Window {
	var extent domain.TimeRange
	for _, r := range readings {
		extent = extent.Observe(r.Timestamp)
	}
	if extent.IsZero() {
		return nil
	}
	return domain.PlanDailyWindows(extent.Min, extent.Max, loc)
}

func countRecords(byDay map[int64][]domain.HeatMapRecord) int {
	n := 0
	for _, records := range byDay {
		n += len(records)
	}
	return n
}

// ── Phases ──

func validateInput(readings []domain.Reading, rejected int) *phase {
	p := &phase{name: "Input readings"}
	if len(readings) == 0 {
		p.errorf("no valid readings")
	}
	if rejected > 0 {
		p.errorf("%d lines rejected", rejected)
	}
	return p
}

func validateWindows(windows []domain.Window, readings []domain.Reading, loc *time.Location) *phase {
	p := &phase{name: "Window planning"}
	if len(windows) == 0 {
		return p
	}

	minTS := readings[0].Timestamp
	for _, r := range readings {
		if r.Timestamp.Before(minTS) {
			minTS = r.Timestamp
		}
	}
	if want := domain.StartOfDay(minTS, loc); !windows[0].Start.Equal(want) {
		p.errorf("first window starts %s, want %s", windows[0].Start, want)
	}
	for i, w := range windows {
		if w.Index != i {
			p.errorf("window %d has index %d", i, w.Index)
		}
		if !w.End.After(w.Start) {
			p.errorf("window %s is empty", w)
		}
		if i > 0 && !w.Start.Equal(windows[i-1].End) {
			p.errorf("gap or overlap between %s and %s", windows[i-1], w)
		}
	}
	return p
}

func validateStored(ctx context.Context, store *sqlite.Store, windows []domain.Window, expected map[int64][]domain.HeatMapRecord) *phase {
	p := &phase{name: "Stored heat map matches recomputation"}
	for _, w := range windows {
		stored, err := store.ListByDay(ctx, w.Start)
		if err != nil {
			p.errorf("window %s: %v", w, err)
			continue
		}
		compareWindow(p, w, expected[w.Start.UnixMilli()], stored)
	}
	return p
}

func compareWindow(p *phase, w domain.Window, want, got []domain.HeatMapRecord) {
	gotByCell := make(map[domain.Coordinate]int64, len(got))
	for _, r := range got {
		gotByCell[r.Cell()] = r.TotalCount
	}
	for _, r := range want {
		count, ok := gotByCell[r.Cell()]
		switch {
		case !ok:
			p.errorf("window %s: cell %s missing (want %d)", w, r.Cell(), r.TotalCount)
		case count != r.TotalCount:
			p.errorf("window %s: cell %s count %d, want %d", w, r.Cell(), count, r.TotalCount)
		}
		delete(gotByCell, r.Cell())
	}
	for cell, count := range gotByCell {
		p.errorf("window %s: unexpected cell %s (count %d)", w, cell, count)
	}
}

func validateConservation(expected map[int64][]domain.HeatMapRecord, windows []domain.Window, readings []domain.Reading) *phase {
	p := &phase{name: "Every windowed reading counted once"}
	if len(windows) == 0 {
		return p
	}
	first, last := windows[0].Start, windows[len(windows)-1].End

	var inRange int64
	for _, r := range readings {
		if !r.Timestamp.Before(first) && r.Timestamp.Before(last) {
			inRange++
		}
	}
	var counted int64
	for _, records := range expected {
		for _, r := range records {
			if r.TotalCount <= 0 {
				p.errorf("cell %s on %s has non-positive count %d", r.Cell(), r.Timestamp, r.TotalCount)
			}
			counted += r.TotalCount
		}
	}
	if counted != inRange {
		p.errorf("heat map counts %d readings, %d fall inside the windows", counted, inRange)
	}
	return p
}
