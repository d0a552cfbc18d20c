// Package jsonl reads sensor readings from newline-delimited JSON files, one
// IoT message per line in the same format the Kafka source consumes.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/observability"
)

// maxLineBytes bounds a single reading line.
const maxLineBytes = 1 << 20

// Source reads the whole file as one batch on every call.
// It implements pipeline.ReadingSource.
type Source struct {
	path    string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewSource creates a file source for path.
func NewSource(path string, logger *slog.Logger, metrics *observability.Metrics) *Source {
	return &Source{path: path, logger: logger, metrics: metrics}
}

// ExtractReadings parses every line of the file. Lines that are not valid
// readings are logged, counted, and skipped.
func (s *Source) ExtractReadings(ctx context.Context) ([]domain.Reading, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open readings file: %w", err)
	}
	defer f.Close()

	readings, rejected, err := ReadReadings(ctx, f, s.logger)
	s.metrics.ReadingsRejected.Add(float64(rejected))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	s.logger.Info("readings file loaded", "path", s.path, "readings", len(readings), "rejected", rejected)
	return readings, nil
}

// ReadReadings decodes one reading per non-blank line of r and reports how
// many lines were rejected.
func ReadReadings(ctx context.Context, r io.Reader, logger *slog.Logger) ([]domain.Reading, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		readings []domain.Reading
		rejected int
	)
	for line := 1; scanner.Scan(); line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, rejected, err
			}
		}
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		reading, err := domain.ParseReading(data)
		if err != nil {
			rejected++
			logger.Warn("skipping invalid reading", "line", line, "error", err)
			continue
		}
		readings = append(readings, reading)
	}
	if err := scanner.Err(); err != nil {
		return nil, rejected, err
	}
	return readings, rejected, nil
}

// WriteReadings encodes readings to w, one per line.
func WriteReadings(w io.Writer, readings []domain.Reading) error {
	bw := bufio.NewWriter(w)
	for _, r := range readings {
		data, err := domain.EncodeReading(r)
		if err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
