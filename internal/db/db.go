// Package db persists archived aircraft, their trails and range statistics in
// PostgreSQL and provides the airport lookup used by the normalizer.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/unklstewy/adsb-feedhub/pkg/config"
)

//go:embed schema.sql
var schemaSQL embed.FS

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// connectionString builds the lib/pq keyword/value DSN.
func connectionString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	sqlDB, err := sql.Open("postgres", connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		config: cfg,
	}, nil
}

// InitSchema creates missing tables and indexes.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// CleanupOldData removes range snapshots older than maxAge.
// Archived aircraft are kept indefinitely.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	res, err := db.ExecContext(ctx, `DELETE FROM range_data WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old range data: %w", err)
	}
	return res.RowsAffected()
}

// GetStats returns row counts of the history tables.
func (db *DB) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	for key, query := range map[string]string{
		"archived_aircraft": `SELECT COUNT(*) FROM history_aircraft`,
		"archived_trail":    `SELECT COUNT(*) FROM history_aircraft_trail`,
		"range_snapshots":   `SELECT COUNT(*) FROM range_data`,
		"airports":          `SELECT COUNT(*) FROM airports`,
	} {
		var n int64
		if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", key, err)
		}
		stats[key] = n
	}
	return stats, nil
}
