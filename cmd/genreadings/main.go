// Command genreadings generates synthetic IoT sensor readings clustered
// around a few hotspots, writes them as JSONL and/or publishes them to the
// source Kafka topic, and prints the heat map the pipeline should produce for
// them, computed with the same domain package.
//
// Usage:
//
//	go run ./cmd/genreadings \
//	  -n 50000 -days 7 -seed 42 \
//	  -out data/mock/readings.jsonl \
//	  -brokers localhost:9092 -topic iot-sensor-readings
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/adapter/jsonl"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	kafkago "github.com/segmentio/kafka-go"
)

const publishChunk = 500

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	n := flag.Int("n", 10000, "number of readings to generate")
	days := flag.Int("days", 3, "number of days the readings span")
	seed := flag.Uint64("seed", 42, "random seed; the same seed yields the same readings")
	start := flag.String("start", "2024-01-01", "first day (YYYY-MM-DD, UTC)")
	out := flag.String("out", "", "output path for the JSONL fixture")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers to publish to")
	topic := flag.String("topic", "iot-sensor-readings", "Kafka topic to publish to")
	flag.Parse()

	if *out == "" && *brokers == "" {
		flag.Usage()
		return fmt.Errorf("at least one of -out or -brokers is required")
	}
	if *n <= 0 || *days <= 0 {
		return fmt.Errorf("-n and -days must be positive")
	}
	first, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}

	readings := generate(generatorConfig{
		count:    *n,
		days:     *days,
		start:    first,
		seed:     *seed,
		hotspots: defaultHotspots,
	})
	log.Printf("generated %d readings over %d days", len(readings), *days)

	if *out != "" {
		if err := writeFile(*out, readings); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}

	if *brokers != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := publish(ctx, sharedcfg.ParseBrokers(*brokers), *topic, readings); err != nil {
			return fmt.Errorf("publishing readings: %w", err)
		}
		log.Printf("published %d readings to %s", len(readings), *topic)
	}

	printStats(readings)
	return nil
}

func writeFile(path string, readings []domain.Reading) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jsonl.WriteReadings(f, readings); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func publish(ctx context.Context, brokers []string, topic string, readings []domain.Reading) error {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	defer w.Close()

	for chunk := range slices.Chunk(readings, publishChunk) {
		msgs := make([]kafkago.Message, len(chunk))
		for i, r := range chunk {
			value, err := domain.EncodeReading(r)
			if err != nil {
				return err
			}
			msgs[i] = kafkago.Message{Value: value, Time: r.Timestamp}
		}
		if err := w.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
	}
	return nil
}

// printStats prints the expected heat map so test assertions can be updated
// alongside the fixture.
func printStats(readings []domain.Reading) {
	measurements := make([]domain.Measurement, len(readings))
	for i, r := range readings {
		measurements[i] = domain.NewMeasurement(r).Rounded()
	}
	extent, err := domain.Extent(measurements)
	if err != nil {
		fmt.Println("no readings")
		return
	}
	windows := domain.PlanDailyWindows(extent.Min, extent.Max, time.UTC)

	fmt.Println("\n=== Expected heat map ===")
	fmt.Printf("Readings: %d\n", len(readings))
	fmt.Printf("Extent: %s .. %s\n", extent.Min.Format(time.RFC3339), extent.Max.Format(time.RFC3339))
	fmt.Printf("Windows: %d\n", len(windows))

	for _, w := range windows {
		counts := domain.CountByCell(measurements, w)
		var busiest domain.GridCount
		for _, gc := range counts.GridCounts() {
			if gc.Count > busiest.Count {
				busiest = gc
			}
		}
		fmt.Printf("  %s cells=%d readings=%d busiest=%s (%d)\n", w, len(counts), counts.Total(), busiest.Cell, busiest.Count)
	}
}
