package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
	_ "time/tzdata" // HEATMAP_TIMEZONE must resolve in minimal images

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Source and sink kinds.
const (
	SourceKafka = "kafka"
	SourceFile  = "file"
	SinkKafka   = "kafka"
	SinkSQLite  = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	// Ingestion.
	Source            string
	SourceFile        string
	SourceIdleTimeout time.Duration
	BatchSize         int

	// Persistence.
	Sink       string
	SQLitePath string

	// Aggregation.
	Workers           int
	WindowConcurrency int
	TimeZone          *time.Location
	RunInterval       time.Duration

	// Mapbox reverse geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	idleTimeout, err := parsePositiveDuration("SOURCE_IDLE_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	runInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("RUN_INTERVAL", "0s"))
	if err != nil || runInterval < 0 {
		return nil, errors.New("invalid RUN_INTERVAL")
	}

	workers, err := parsePositiveInt("WORKERS", runtime.GOMAXPROCS(0))
	if err != nil {
		return nil, err
	}

	windowConcurrency, err := parsePositiveInt("WINDOW_CONCURRENCY", 1)
	if err != nil {
		return nil, err
	}

	tz, err := time.LoadLocation(sharedcfg.EnvOrDefault("HEATMAP_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEATMAP_TIMEZONE: %w", err)
	}

	mapboxCacheSize := parseMapboxCacheSize()

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "iot-sensor-readings"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "heat-map-batch"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "sensor-heatmap-etl"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,

		Source:            sharedcfg.EnvOrDefault("SOURCE", SourceKafka),
		SourceFile:        os.Getenv("SOURCE_FILE"),
		SourceIdleTimeout: idleTimeout,
		BatchSize:         batchSize,

		Sink:       sharedcfg.EnvOrDefault("SINK", SinkSQLite),
		SQLitePath: sharedcfg.EnvOrDefault("SQLITE_PATH", "heatmap.db"),

		Workers:           workers,
		WindowConcurrency: windowConcurrency,
		TimeZone:          tz,
		RunInterval:       runInterval,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: mapboxCacheSize,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Source {
	case SourceKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaSourceTopic == "" {
			return errors.New("KAFKA_SOURCE_TOPIC is required")
		}
	case SourceFile:
		if c.SourceFile == "" {
			return errors.New("SOURCE is file but SOURCE_FILE is not set")
		}
	default:
		return fmt.Errorf("invalid SOURCE %q: want %s or %s", c.Source, SourceKafka, SourceFile)
	}

	switch c.Sink {
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaSinkTopic == "" {
			return errors.New("KAFKA_SINK_TOPIC is required")
		}
	case SinkSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("invalid SINK %q: want %s or %s", c.Sink, SinkKafka, SinkSQLite)
	}

	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
