package domain

import (
	"fmt"
	"time"
)

// Coordinate is a WGS-84 latitude/longitude pair. It is comparable and used
// directly as a grouping key, so equality is exact on the stored values.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// Reading is a raw sensor record delivered by an ingestion adapter.
type Reading struct {
	Coordinate Coordinate
	Timestamp  time.Time
}

// Measurement is a Reading that has entered the pipeline. Its grid cell is
// assigned once by Rounded and never changes afterwards.
type Measurement struct {
	coord     Coordinate
	timestamp time.Time
	cell      Coordinate
	rounded   bool
}

// NewMeasurement copies a reading's coordinate and timestamp.
func NewMeasurement(r Reading) Measurement {
	return Measurement{coord: r.Coordinate, timestamp: r.Timestamp}
}

// Rounded returns a copy with the grid cell assigned. Calling it on an
// already rounded measurement returns it unchanged.
func (m Measurement) Rounded() Measurement {
	if m.rounded {
		return m
	}
	m.cell = RoundToGrid(m.coord)
	m.rounded = true
	return m
}

func (m Measurement) Coordinate() Coordinate { return m.coord }

func (m Measurement) Timestamp() time.Time { return m.timestamp }

// Cell returns the assigned grid cell. Measurements that skipped Rounded are
// mapped on the fly, which yields the same cell.
func (m Measurement) Cell() Coordinate {
	if m.rounded {
		return m.cell
	}
	return RoundToGrid(m.coord)
}

// GridCount is the number of measurements in one cell within one window.
type GridCount struct {
	Cell  Coordinate
	Count int64
}

// HeatMapRecord is the persisted unit: one per non-empty (cell, day).
type HeatMapRecord struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	TotalCount int64     `json:"totalcount"`
	Timestamp  time.Time `json:"timestamp"`
	PlaceName  string    `json:"place_name,omitempty"`
}

// Cell returns the record's grid cell.
func (r HeatMapRecord) Cell() Coordinate {
	return Coordinate{Lat: r.Latitude, Lon: r.Longitude}
}
