package db

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Airport is one row of the airports table.
type Airport struct {
	ICAO string
	IATA string
	Name string
}

// AirportRepository reads and writes the airports table.
type AirportRepository struct {
	db *DB
}

// NewAirportRepository creates a new airport repository.
func NewAirportRepository(db *DB) *AirportRepository {
	return &AirportRepository{db: db}
}

// UpsertAirports inserts or updates airports in one transaction.
func (r *AirportRepository) UpsertAirports(ctx context.Context, airports []Airport) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO airports (icao, iata, name) VALUES ($1, $2, $3)
		 ON CONFLICT (icao) DO UPDATE SET iata = EXCLUDED.iata, name = EXCLUDED.name`)
	if err != nil {
		return 0, fmt.Errorf("prepare airport upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range airports {
		if _, err := stmt.ExecContext(ctx, a.ICAO, nullString(a.IATA), a.Name); err != nil {
			return 0, fmt.Errorf("upsert airport %s: %w", a.ICAO, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit airports: %w", err)
	}
	return len(airports), nil
}

// LoadIndex reads every airport with an IATA code into memory.
func (r *AirportRepository) LoadIndex(ctx context.Context) (*AirportIndex, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT icao, iata FROM airports WHERE iata IS NOT NULL AND iata <> ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to query airports: %w", err)
	}
	defer rows.Close()

	idx := NewAirportIndex(nil)
	for rows.Next() {
		var a Airport
		if err := rows.Scan(&a.ICAO, &a.IATA); err != nil {
			return nil, fmt.Errorf("failed to scan airport: %w", err)
		}
		idx.Add(a)
	}
	return idx, rows.Err()
}

// AirportIndex is an in-memory IATA to ICAO lookup. It is safe for concurrent use.
type AirportIndex struct {
	mu     sync.RWMutex
	byIATA map[string]string
}

// NewAirportIndex creates an index holding airports.
func NewAirportIndex(airports []Airport) *AirportIndex {
	idx := &AirportIndex{byIATA: make(map[string]string, len(airports))}
	for _, a := range airports {
		idx.Add(a)
	}
	return idx
}

// Add indexes a; airports without an IATA code are ignored.
func (i *AirportIndex) Add(a Airport) {
	iata := strings.ToUpper(strings.TrimSpace(a.IATA))
	icao := strings.ToUpper(strings.TrimSpace(a.ICAO))
	if iata == "" || icao == "" {
		return
	}
	i.mu.Lock()
	i.byIATA[iata] = icao
	i.mu.Unlock()
}

// ICAOByIATA resolves an IATA code. It implements adsb.AirportLookup.
func (i *AirportIndex) ICAOByIATA(iata string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	icao, ok := i.byIATA[strings.ToUpper(iata)]
	return icao, ok
}

// Len returns the number of indexed codes.
func (i *AirportIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byIATA)
}

// ParseAirportsCSV reads an OurAirports airports.csv export. Rows without an
// ICAO code are skipped; the ICAO code is taken from icao_code, falling back
// to ident when it has four letters.
func ParseAirportsCSV(r io.Reader) ([]Airport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	identCol, hasIdent := col["ident"]
	iataCol, hasIATA := col["iata_code"]
	if !hasIdent || !hasIATA {
		return nil, errors.New("missing ident or iata_code column")
	}
	icaoCol, hasICAO := col["icao_code"]
	nameCol, hasName := col["name"]

	field := func(row []string, i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var airports []Airport
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		icao := ""
		if hasICAO {
			icao = field(row, icaoCol)
		}
		if ident := field(row, identCol); icao == "" && isICAOCode(ident) {
			icao = ident
		}
		if icao == "" {
			continue
		}

		a := Airport{ICAO: strings.ToUpper(icao), IATA: strings.ToUpper(field(row, iataCol))}
		if hasName {
			a.Name = field(row, nameCol)
		}
		airports = append(airports, a)
	}
	return airports, nil
}

func isICAOCode(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}
