// Package sqlite persists heat map records in a local SQLite database using
// the heat_map_batch layout: one row per (cell, day) keyed by
// (latitude, longitude, timestamp), with timestamp in Unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS heat_map_batch (
	latitude   REAL    NOT NULL,
	longitude  REAL    NOT NULL,
	timestamp  INTEGER NOT NULL,
	totalcount INTEGER NOT NULL,
	place_name TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (latitude, longitude, timestamp)
);
CREATE INDEX IF NOT EXISTS heat_map_batch_timestamp ON heat_map_batch (timestamp);
`

const upsertRecord = `
INSERT INTO heat_map_batch (latitude, longitude, timestamp, totalcount, place_name)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (latitude, longitude, timestamp)
DO UPDATE SET totalcount = excluded.totalcount, place_name = excluded.place_name`

const selectDay = `
SELECT latitude, longitude, timestamp, totalcount, place_name
FROM heat_map_batch
WHERE timestamp = ?
ORDER BY latitude, longitude`

// Store is a SQLite-backed heat map sink.
// It implements pipeline.HeatMapSink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection serializes window
	// transactions instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// WriteBatch upserts one window's records in a single transaction. Writing
// the same window again replaces its counts, which holds because every run
// recomputes a day from the full dataset.
func (s *Store) WriteBatch(ctx context.Context, records []domain.HeatMapRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertRecord)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Latitude, r.Longitude, r.Timestamp.UnixMilli(), r.TotalCount, r.PlaceName); err != nil {
				return fmt.Errorf("upsert cell %s: %w", r.Cell(), err)
			}
		}
		return nil
	})
}

// ListByDay returns the records of the window starting at day, ordered by
// latitude then longitude. Timestamps are returned in day's location.
func (s *Store) ListByDay(ctx context.Context, day time.Time) ([]domain.HeatMapRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectDay, day.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query heat map day: %w", err)
	}
	defer rows.Close()

	var records []domain.HeatMapRecord
	for rows.Next() {
		var (
			r  domain.HeatMapRecord
			ms int64
		)
		if err := rows.Scan(&r.Latitude, &r.Longitude, &ms, &r.TotalCount, &r.PlaceName); err != nil {
			return nil, fmt.Errorf("scan heat map row: %w", err)
		}
		r.Timestamp = time.UnixMilli(ms).In(day.Location())
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate heat map rows: %w", err)
	}
	return records, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
