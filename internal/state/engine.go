package state

import (
	"log/slog"
	"time"

	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
)

// DefaultReenteredDebounce is the trail gap after which a vehicle counts as reentered.
const DefaultReenteredDebounce = 3 * time.Second

// Enricher receives one-shot enrichment triggers. Implementations must not block.
type Enricher interface {
	// Created is called once when a record first enters a store.
	Created(store *Store, rec *adsb.Record)

	// FlightIDAssigned is called when a record receives its first flight id.
	FlightIDAssigned(store *Store, rec *adsb.Record)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Store receives merged records
	Store *Store

	// Trails records positions; nil disables trail capture entirely
	Trails *trail.Recorder

	// CaptureRemoteTrails records trail points for non-local merges as well
	CaptureRemoteTrails bool

	// Enricher is optional
	Enricher Enricher

	// ReenteredDebounce defaults to DefaultReenteredDebounce
	ReenteredDebounce time.Duration

	Logger *slog.Logger
}

// Engine merges normalized samples into the records of one store.
type Engine struct {
	store               *Store
	trails              *trail.Recorder
	captureRemoteTrails bool
	enricher            Enricher
	debounce            time.Duration
	logger              *slog.Logger
	now                 func() time.Time
}

// NewEngine creates a merge engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ReenteredDebounce <= 0 {
		cfg.ReenteredDebounce = DefaultReenteredDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:               cfg.Store,
		trails:              cfg.Trails,
		captureRemoteTrails: cfg.CaptureRemoteTrails,
		enricher:            cfg.Enricher,
		debounce:            cfg.ReenteredDebounce,
		logger:              logger.With("store", string(cfg.Store.Namespace())),
		now:                 time.Now,
	}
}

// Store returns the store the engine writes to.
func (e *Engine) Store() *Store {
	return e.store
}

// Trails returns the trail recorder, which may be nil.
func (e *Engine) Trails() *trail.Recorder {
	return e.trails
}

// Apply merges sample into the stored record with the same hex, or creates it.
// With resetSources the stored feeder and source lists are cleared first, which
// the poller requests for the first feeder touching a hex in a new tick.
// It returns the stored record copy and whether it was created.
func (e *Engine) Apply(sample *adsb.Record, feederName string, isLocal, resetSources bool) (*adsb.Record, bool) {
	var (
		out         *adsb.Record
		created     bool
		hadFlightID bool
	)
	e.store.Upsert(sample.Hex, func(existing *adsb.Record) *adsb.Record {
		if existing != nil && resetSources {
			existing.ResetSources()
		}
		hadFlightID = existing != nil && existing.FlightID != ""

		var rec *adsb.Record
		rec, created = e.MergeOrCreate(existing, sample, feederName, isLocal)
		rec.Hex = key(rec.Hex)
		out = rec.Clone()
		return rec
	})

	if e.enricher != nil {
		if created {
			e.enricher.Created(e.store, out.Clone())
		} else if !hadFlightID && out.FlightID != "" {
			e.enricher.FlightIDAssigned(e.store, out.Clone())
		}
	}
	return out, created
}

// MergeOrCreate folds sample into existing and returns the resulting record.
// existing is modified in place and may be nil, in which case a new record is
// built from sample. The result is not stored.
func (e *Engine) MergeOrCreate(existing, sample *adsb.Record, feederName string, isLocal bool) (*adsb.Record, bool) {
	now := e.now()

	if existing == nil {
		rec := sample.Clone()
		rec.Reentered = false
		rec.AddFeeder(feederName)
		rec.UpsertSource(feederName, sample.SourceKind)
		e.recordTrail(rec, feederName, isLocal, now)
		rec.LastUpdate = now
		return rec, true
	}

	rec := existing
	prevPos, hadPos := rec.Position()
	prevTrack := rec.Track

	if isLocal && e.trails != nil {
		rec.Reentered = e.reentered(rec.Hex, feederName, now)
	}

	// Position, kinematics and receiver values describe this sample only
	rec.Latitude = sample.Latitude
	rec.Longitude = sample.Longitude
	rec.Altitude = sample.Altitude
	rec.EllipsoidalAltitude = sample.EllipsoidalAltitude
	rec.OnGround = sample.OnGround
	rec.Speed = sample.Speed
	rec.VerticalRate = sample.VerticalRate
	rec.Roll = sample.Roll
	rec.Rssi = sample.Rssi
	rec.Temperature = sample.Temperature
	rec.WindSpeed = sample.WindSpeed
	rec.WindFromDirection = sample.WindFromDirection
	rec.AutopilotEngaged = sample.AutopilotEngaged
	rec.SelectedQnh = sample.SelectedQnh
	rec.SelectedAltitude = sample.SelectedAltitude
	rec.SelectedHeading = sample.SelectedHeading
	rec.LastSeen = sample.LastSeen
	rec.SourceKind = sample.SourceKind

	rec.AddFeeder(feederName)
	rec.UpsertSource(feederName, sample.SourceKind)

	if sample.Type != "" {
		rec.Type = sample.Type
	}

	// First writer wins
	if rec.Registration == "" && sample.Registration != "" {
		rec.Registration = sample.Registration
	}
	if rec.FlightID == "" && sample.FlightID != "" {
		rec.FlightID = sample.FlightID
	}

	// Perishable
	if sample.Squawk != "" {
		rec.Squawk = sample.Squawk
	}
	if sample.Destination != "" {
		rec.Destination = sample.Destination
	}
	if sample.Origin != "" {
		rec.Origin = sample.Origin
	}
	if sample.Category != "" {
		rec.Category = sample.Category
	}
	if sample.Distance != nil {
		rec.Distance = sample.Distance
	}

	rec.Track = sample.Track
	if rec.Track == nil {
		newPos, hasPos := rec.Position()
		if hadPos && hasPos && newPos != prevPos {
			bearing := int(coordinates.Bearing(prevPos, newPos))
			rec.Track = &bearing
		} else {
			rec.Track = prevTrack
		}
	}

	rec.ClimbState = adsb.Classify(rec.OnGround, rec.VerticalRate)

	e.recordTrail(rec, feederName, isLocal, now)
	rec.LastUpdate = now
	return rec, false
}

// reentered reports whether the last trail point of hex from feederName is
// older than the debounce window. A hex never seen by the feeder is not reentered.
func (e *Engine) reentered(hex, feederName string, now time.Time) bool {
	last, ok := e.trails.Last(hex, feederName)
	return ok && now.Sub(last.Timestamp) > e.debounce
}

func (e *Engine) recordTrail(rec *adsb.Record, feederName string, isLocal bool, now time.Time) {
	if e.trails == nil || (!isLocal && !e.captureRemoteTrails) {
		return
	}
	if _, ok := e.trails.Add(rec, feederName, now); !ok {
		e.logger.Debug("no trail point for record without position", "hex", rec.Hex, "feeder", feederName)
	}
}
