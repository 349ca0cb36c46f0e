// Package enrich performs the one-shot lookups that decorate a record with
// data no feeder reports: aircraft photos and flight routes.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/unklstewy/adsb-feedhub/internal/metrics"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/flightaware"
	"github.com/unklstewy/adsb-feedhub/pkg/planespotters"
)

// DefaultQueueSize bounds the pending lookups; triggers beyond it are dropped.
const DefaultQueueSize = 256

// PhotoLookup finds a photo of an airframe by ICAO hex.
type PhotoLookup interface {
	PhotoByHex(ctx context.Context, hex string) (*planespotters.Photo, error)
}

// RouteLookup finds the route of a flight by callsign.
type RouteLookup interface {
	RouteByCallsign(ctx context.Context, callsign string) (*flightaware.Route, error)
}

// Config configures a Worker.
type Config struct {
	// Photos and Routes are optional; a nil lookup is skipped
	Photos PhotoLookup
	Routes RouteLookup

	QueueSize int
	Timeout   time.Duration
	Retry     adsb.RetryConfig

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type kind int

const (
	lookupPhoto kind = iota
	lookupRoute
)

func (k kind) String() string {
	if k == lookupRoute {
		return "flightaware"
	}
	return "planespotters"
}

type job struct {
	kind  kind
	store *state.Store
	hex   string
	key   string // hex or callsign
}

// Worker runs enrichment lookups off the merge path. It implements state.Enricher.
type Worker struct {
	cfg    Config
	jobs   chan job
	logger *slog.Logger
}

// New creates a worker. Call Run to start processing.
func New(cfg Config) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "enrich")
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}
	return &Worker{
		cfg:    cfg,
		jobs:   make(chan job, cfg.QueueSize),
		logger: logger,
	}
}

// Created queues a photo lookup for a new record.
func (w *Worker) Created(store *state.Store, rec *adsb.Record) {
	if w.cfg.Photos == nil {
		return
	}
	w.submit(job{kind: lookupPhoto, store: store, hex: rec.Hex, key: rec.Hex})
}

// FlightIDAssigned queues a route lookup for a record's first flight id.
func (w *Worker) FlightIDAssigned(store *state.Store, rec *adsb.Record) {
	if w.cfg.Routes == nil || rec.FlightID == "" {
		return
	}
	w.submit(job{kind: lookupRoute, store: store, hex: rec.Hex, key: rec.FlightID})
}

func (w *Worker) submit(j job) {
	select {
	case w.jobs <- j:
	default:
		w.cfg.Metrics.Enrichment(j.kind.String(), "dropped")
		w.logger.Debug("enrichment queue full, lookup dropped", "hex", j.hex, "source", j.kind.String())
	}
}

// Pending returns the number of queued lookups.
func (w *Worker) Pending() int {
	return len(w.jobs)
}

// Run processes lookups until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("enrichment worker started",
		"photos", w.cfg.Photos != nil,
		"routes", w.cfg.Routes != nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-w.jobs:
			w.process(ctx, j)
		}
	}
}

func (w *Worker) process(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in enrichment lookup", "hex", j.hex, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	var outcome string
	switch j.kind {
	case lookupPhoto:
		outcome = w.photo(ctx, j)
	case lookupRoute:
		outcome = w.route(ctx, j)
	}
	w.cfg.Metrics.Enrichment(j.kind.String(), outcome)
}

func (w *Worker) photo(ctx context.Context, j job) string {
	photo, err := adsb.RetryWithBackoffResult(ctx, w.cfg.Retry, func() (*planespotters.Photo, error) {
		return w.cfg.Photos.PhotoByHex(ctx, j.key)
	})
	if err != nil {
		w.logger.Warn("photo lookup failed", "hex", j.hex, "error", err)
		return "error"
	}
	if photo == nil {
		return "miss"
	}

	if !j.store.Update(j.hex, func(r *adsb.Record) {
		r.URLPhotoDirect = photo.DirectURL
		r.URLPhotoWebsite = photo.WebsiteURL
		r.PhotoPhotographer = photo.Photographer
	}) {
		return "gone"
	}
	return "hit"
}

func (w *Worker) route(ctx context.Context, j job) string {
	route, err := adsb.RetryWithBackoffResult(ctx, w.cfg.Retry, func() (*flightaware.Route, error) {
		return w.cfg.Routes.RouteByCallsign(ctx, j.key)
	})
	if err != nil {
		w.logger.Warn("route lookup failed", "hex", j.hex, "flight_id", j.key, "error", err)
		return "error"
	}
	if route == nil {
		return "miss"
	}

	// Feeder-reported values take precedence
	if !j.store.Update(j.hex, func(r *adsb.Record) {
		if r.Origin == "" {
			r.Origin = route.Origin
		}
		if r.Destination == "" {
			r.Destination = route.Destination
		}
		if r.Operator == "" {
			r.Operator = route.Operator
		}
		if r.FullType == "" {
			r.FullType = route.AircraftType
		}
	}) {
		return "gone"
	}
	return "hit"
}
