package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
)

// HistoryRepository stores archived aircraft together with their trails.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// trailColumns is the COPY column order of history_aircraft_trail.
var trailColumns = []string{
	"history_id", "hex", "timestamp", "longitude", "latitude", "altitude",
	"reentered", "feeder", "source", "track", "roll", "distance", "bearing",
}

// ArchiveAircraft writes rec and its trail in one transaction.
// Connection errors are retried; the write either lands completely or not at all.
func (r *HistoryRepository) ArchiveAircraft(ctx context.Context, rec *adsb.Record, points []trail.Point) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return WithRetry(ctx, func() error {
		return r.archive(ctx, rec, record, points)
	}, 2)
}

func (r *HistoryRepository) archive(ctx context.Context, rec *adsb.Record, record []byte, points []trail.Point) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO history_aircraft (hex, flight_id, registration, type, last_update, record)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		rec.Hex, nullString(rec.FlightID), nullString(rec.Registration), nullString(rec.Type),
		rec.LastUpdate.UTC(), record,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert history aircraft: %w", err)
	}

	if len(points) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("history_aircraft_trail", trailColumns...))
		if err != nil {
			return fmt.Errorf("prepare trail copy: %w", err)
		}
		for _, p := range points {
			if _, err := stmt.ExecContext(ctx,
				id, p.Hex, p.Timestamp.UTC(), p.Longitude, p.Latitude, nullInt(p.Altitude),
				p.Reentered, nullString(p.Feeder), nullString(p.Source), nullInt(p.Track),
				nullFloat(p.Roll), nullFloat(p.Distance), p.Bearing,
			); err != nil {
				stmt.Close()
				return fmt.Errorf("copy trail point: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flush trail copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("close trail copy: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// LatestTrail returns the trail of the most recent archival of hex in
// timestamp order, or nil when hex was never archived.
func (r *HistoryRepository) LatestTrail(ctx context.Context, hex string) ([]trail.Point, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT hex, timestamp, longitude, latitude, altitude, reentered,
		        feeder, source, track, roll, distance, bearing
		 FROM history_aircraft_trail
		 WHERE history_id = (
		     SELECT id FROM history_aircraft WHERE hex = $1 ORDER BY archived_at DESC LIMIT 1
		 )
		 ORDER BY timestamp`,
		hex,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history trail: %w", err)
	}
	defer rows.Close()

	var points []trail.Point
	for rows.Next() {
		var (
			p        trail.Point
			ts       time.Time
			altitude sql.NullInt64
			feeder   sql.NullString
			source   sql.NullString
			track    sql.NullInt64
			roll     sql.NullFloat64
			distance sql.NullFloat64
		)
		if err := rows.Scan(&p.Hex, &ts, &p.Longitude, &p.Latitude, &altitude, &p.Reentered,
			&feeder, &source, &track, &roll, &distance, &p.Bearing); err != nil {
			return nil, fmt.Errorf("failed to scan trail point: %w", err)
		}
		p.Timestamp = ts
		p.Altitude = intFromNull(altitude)
		p.Feeder = feeder.String
		p.Source = source.String
		p.Track = intFromNull(track)
		p.Roll = floatFromNull(roll)
		p.Distance = floatFromNull(distance)
		points = append(points, p)
	}
	return points, rows.Err()
}
