package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/config"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// messageFetcher is the subset of *kafkago.Reader used by Reader.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// Reader drains sensor readings from a Kafka topic. Every run sees the full
// dataset: readings consumed by earlier runs are retained and returned again
// together with newly fetched ones, so a failed run or a trailing partial day
// is recomputed by the next run. Offsets are never committed, so a restarted
// process replays the topic from its first retained offset.
type Reader struct {
	reader      messageFetcher
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int
	idleTimeout time.Duration

	mu       sync.Mutex
	readings []domain.Reading
	// next holds the next unseen offset per partition; replays below it are dropped.
	next     map[int]int64
}

// NewReader creates a consumer group reader for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaSourceTopic,
		GroupID:     cfg.KafkaGroupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newReader(r, cfg.BatchSize, cfg.SourceIdleTimeout, logger, metrics)
}

func newReader(r messageFetcher, batchSize int, idleTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Reader {
	return &Reader{
		reader:      r,
		logger:      logger,
		metrics:     metrics,
		batchSize:   max(1, batchSize),
		idleTimeout: idleTimeout,
		next:        make(map[int]int64),
	}
}

// ExtractReadings fetches messages in chunks of the configured batch size
// until the topic stays idle for the idle timeout, and returns every valid
// reading consumed so far. Messages that do not decode into a valid reading
// are skipped.
func (r *Reader) ExtractReadings(ctx context.Context) ([]domain.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for chunk := 1; ; chunk++ {
		msgs, idle, err := r.fetchChunk(ctx)
		if err != nil {
			return nil, err
		}

		fresh := 0
		for _, msg := range msgs {
			if !r.advance(msg) {
				continue
			}
			fresh++
			reading, err := mapMessageToReading(msg)
			if err != nil {
				r.metrics.ReadingsRejected.Inc()
				r.logger.Warn("skipping invalid reading",
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
				continue
			}
			r.readings = append(r.readings, reading)
		}
		r.logger.Debug("fetched chunk", "chunk", chunk, "messages", len(msgs), "new", fresh)

		if idle {
			return slices.Clone(r.readings), nil
		}
	}
}

// fetchChunk reads up to batchSize messages. idle reports that the topic had
// nothing more to deliver within the idle timeout.
func (r *Reader) fetchChunk(ctx context.Context) ([]kafkago.Message, bool, error) {
	msgs := make([]kafkago.Message, 0, r.batchSize)
	for len(msgs) < r.batchSize {
		fetchCtx, cancel := context.WithTimeout(ctx, r.idleTimeout)
		msg, err := r.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return msgs, true, nil
			}
			return nil, false, fmt.Errorf("fetch message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, false, nil
}

// advance records msg as seen. It returns false for a message redelivered
// after a group rebalance.
func (r *Reader) advance(msg kafkago.Message) bool {
	if next, ok := r.next[msg.Partition]; ok && msg.Offset < next {
		return false
	}
	r.next[msg.Partition] = msg.Offset + 1
	return true
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToReading decodes a Kafka message value into a reading.
func mapMessageToReading(msg kafkago.Message) (domain.Reading, error) {
	reading, err := domain.ParseReading(msg.Value)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return reading, nil
}
