package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
)

// RangeRepository stores range statistics snapshots.
type RangeRepository struct {
	db *DB
}

// NewRangeRepository creates a new range data repository.
func NewRangeRepository(db *DB) *RangeRepository {
	return &RangeRepository{db: db}
}

// WriteRangeData stores one snapshot of rec taken at the given time.
func (r *RangeRepository) WriteRangeData(ctx context.Context, rec *adsb.Record, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO range_data (
			hex, timestamp, latitude, longitude, distance, altitude,
			type, category, registration, flight_id, feeder_list, source_list
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.Hex, at.UTC(),
		nullFloat(rec.Latitude), nullFloat(rec.Longitude), nullFloat(rec.Distance), nullInt(rec.Altitude),
		nullString(rec.Type), nullString(rec.Category), nullString(rec.Registration), nullString(rec.FlightID),
		pq.Array(rec.FeederList), pq.Array(sourceStrings(rec.SourceList)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert range data: %w", err)
	}
	return nil
}

// sourceStrings flattens source entries to "feeder:kind".
func sourceStrings(entries []adsb.SourceEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Feeder + ":" + e.Kind
	}
	return out
}
