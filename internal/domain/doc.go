// Package domain models geo-tagged sensor readings and the daily grid heat map
// computed from them.
//
// # Input
//
// Readings come from IoT devices and arrive as flat JSON, one reading per
// message or line:
//
//	{"latitude":"33.8770","longitude":"-95.3251","timestamp":"2024-04-26T15:10:00Z"}
//
// Latitude and longitude may be JSON strings (the device gateway serializes
// them as text) or numbers. Timestamps are RFC 3339 instants. See [ParseReading].
//
// # Grid
//
// The world is divided into square cells of side [GridSize] degrees. Every
// coordinate is mapped to the center of the cell containing it, per axis:
//
//	rounded = 5 * floor(value*10000/5 + 0.5) / 10000
//
// The arithmetic is scaled to integer tenths-of-a-thousandth so the cell key is
// identical on every platform. Boundary values round up: -0.00025 maps to 0 and
// 0.00025 maps to 0.0005. See [RoundToGrid].
//
// # Windows
//
// A batch is split into daily half-open windows [start, end). The first start
// is the earliest reading truncated to midnight in the configured location; the
// number of windows is the whole number of days between that midnight and the
// latest reading. A trailing partial day is not emitted. See [PlanDailyWindows].
//
// # Output
//
// One [HeatMapRecord] is produced per non-empty (cell, day). Records are keyed
// by (latitude, longitude, timestamp) downstream, so re-deriving a window from
// the same input overwrites rather than duplicates.
package domain
