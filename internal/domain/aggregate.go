package domain

import (
	"cmp"
	"slices"
	"time"
)

// CellCounts maps a grid cell to the number of measurements in it.
type CellCounts map[Coordinate]int64

// CountByCell counts the measurements of ms that fall in w, grouped by cell.
// Cells without measurements in w are absent, never zero.
func CountByCell(ms []Measurement, w Window) CellCounts {
	counts := make(CellCounts)
	for _, m := range ms {
		if !w.Contains(m.Timestamp()) {
			continue
		}
		counts[m.Cell()]++
	}
	return counts
}

// MergeCellCounts sums partial counts into a new map. The merge is associative
// and commutative, so partials may be combined in any grouping or order.
func MergeCellCounts(parts ...CellCounts) CellCounts {
	size := 0
	for _, p := range parts {
		size = max(size, len(p))
	}
	merged := make(CellCounts, size)
	for _, p := range parts {
		for cell, n := range p {
			merged[cell] += n
		}
	}
	return merged
}

// Total sums all counts.
func (c CellCounts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}

// GridCounts flattens the map into a slice sorted by latitude, then longitude.
// Callers must not rely on the order for correctness; it only keeps output
// reproducible.
func (c CellCounts) GridCounts() []GridCount {
	out := make([]GridCount, 0, len(c))
	for cell, n := range c {
		if n == 0 {
			continue
		}
		out = append(out, GridCount{Cell: cell, Count: n})
	}
	slices.SortFunc(out, func(a, b GridCount) int {
		if d := cmp.Compare(a.Cell.Lat, b.Cell.Lat); d != 0 {
			return d
		}
		return cmp.Compare(a.Cell.Lon, b.Cell.Lon)
	})
	return out
}

// AggregateWindow filters, groups and counts ms for one window on the calling
// goroutine.
func AggregateWindow(ms []Measurement, w Window) []GridCount {
	return CountByCell(ms, w).GridCounts()
}

// NewHeatMapRecords tags each count with the window's start day.
func NewHeatMapRecords(counts []GridCount, day time.Time) []HeatMapRecord {
	records := make([]HeatMapRecord, 0, len(counts))
	for _, gc := range counts {
		records = append(records, HeatMapRecord{
			Latitude:   gc.Cell.Lat,
			Longitude:  gc.Cell.Lon,
			TotalCount: gc.Count,
			Timestamp:  day,
		})
	}
	return records
}
