package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/config"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer used by Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes heat map records to a Kafka topic.
// It implements pipeline.HeatMapSink.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// WriteBatch publishes one window's records in a single WriteMessages call,
// so the window is produced together or the call fails.
func (w *Writer) WriteBatch(ctx context.Context, records []domain.HeatMapRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("produce %d heat map records: %w", len(msgs), err)
	}
	w.logger.Debug("heat map records produced", "records", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a HeatMapRecord into a Kafka message keyed by
// its cell, so every day of a cell lands on the same partition.
func serializeToMessage(record domain.HeatMapRecord) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize heat map record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(record.Cell().String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "window_start", Value: []byte(record.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}
