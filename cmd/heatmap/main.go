package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/adapter/jsonl"
	kafkaadapter "github.com/couchcryptid/sensor-heatmap-etl/internal/adapter/kafka"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/config"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/observability"
	"github.com/couchcryptid/sensor-heatmap-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var closers []namedCloser
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Error("close error", "resource", closers[i].name, "error", err)
			}
		}
	}

	source, closer := newSource(cfg, logger, metrics)
	closers = append(closers, closer...)

	var serverOpts []httpadapter.Option
	var sink pipeline.HeatMapSink
	switch cfg.Sink {
	case config.SinkSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			closeAll()
			os.Exit(1)
		}
		closers = append(closers, namedCloser{"sqlite store", store})
		serverOpts = append(serverOpts, httpadapter.WithHeatMapReader(store, cfg.TimeZone))
		sink = store
	default:
		writer := kafkaadapter.NewWriter(cfg, logger)
		closers = append(closers, namedCloser{"kafka writer", writer})
		sink = writer
	}

	p := pipeline.New(source, sink, logger, metrics, pipeline.Options{
		Workers:           cfg.Workers,
		WindowConcurrency: cfg.WindowConcurrency,
		Location:          cfg.TimeZone,
		Geocoder:          geocoder,
		RunInterval:       cfg.RunInterval,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger, serverOpts...)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run the batch job; a single run returns when done, a scheduled run on shutdown.
	exitCode := 0
	if err := p.Run(ctx); err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyInput):
			logger.Warn("no readings to process")
		case errors.Is(err, context.Canceled):
			logger.Info("heat map run interrupted")
		default:
			logger.Error("heat map run failed", "error", err)
			exitCode = 1
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	closeAll()

	logger.Info("shutdown complete")
	if exitCode != 0 {
		stop()
		cancel()
		os.Exit(exitCode)
	}
}

type namedCloser struct {
	name string
	io.Closer
}

func newSource(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (pipeline.ReadingSource, []namedCloser) {
	if cfg.Source == config.SourceFile {
		logger.Info("reading from file", "path", cfg.SourceFile)
		return jsonl.NewSource(cfg.SourceFile, logger, metrics), nil
	}
	reader := kafkaadapter.NewReader(cfg, logger, metrics)
	logger.Info("reading from kafka",
		"topic", cfg.KafkaSourceTopic,
		"group_id", cfg.KafkaGroupID,
		"brokers", fmt.Sprint(cfg.KafkaBrokers),
	)
	return reader, []namedCloser{{"kafka reader", reader}}
}
