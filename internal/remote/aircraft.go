// Package remote serves viewport requests from rate-limited third-party
// providers through coalescing queues, one upstream call per tick.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/unklstewy/adsb-feedhub/internal/coalesce"
	"github.com/unklstewy/adsb-feedhub/internal/metrics"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
)

// Provider names as sent by clients.
const (
	ProviderOpenSky       = "Opensky"
	ProviderAirplanesLive = "Airplanes-Live"
	ProviderISS           = "ISS"
)

// Call outcomes reported to metrics.
const (
	statusOK          = "ok"
	statusError       = "error"
	statusRateLimited = "rate_limited"
)

// DefaultCallTimeout bounds one upstream call.
const DefaultCallTimeout = 15 * time.Second

// StatesFetcher returns the state vectors inside a bounding box.
type StatesFetcher interface {
	GetStates(ctx context.Context, bounds orb.Bound) ([]adsb.Sample, error)
}

// PointFetcher returns the aircraft within a radius of a point.
type PointFetcher interface {
	GetAircraft(ctx context.Context, centerLat, centerLon, radiusNM float64) ([]adsb.Sample, error)
}

// AircraftConfig configures an AircraftService.
type AircraftConfig struct {
	Engine     *state.Engine
	Normalizer *adsb.Normalizer

	// Providers; a nil provider is not served
	OpenSky       StatesFetcher
	AirplanesLive PointFetcher

	// RadiusNM is the point search radius (default: 250)
	RadiusNM float64

	Interval   time.Duration
	PurgeAfter time.Duration
	Timeout    time.Duration
	MaxPending int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// AircraftService dispatches remote aircraft requests and keeps the remote store.
type AircraftService struct {
	cfg    AircraftConfig
	queue  *coalesce.Queue
	logger *slog.Logger
	now    func() time.Time

	openSkyFeeder *feeder.Feeder
	liveFeeder    *feeder.Feeder
}

// NewAircraftService creates the service and its queue.
// The queue accepts only providers that are configured.
func NewAircraftService(cfg AircraftConfig) *AircraftService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RadiusNM <= 0 {
		cfg.RadiusNM = adsb.AirplanesLiveMaxRadiusNM
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}

	var providers []string
	if cfg.OpenSky != nil {
		providers = append(providers, ProviderOpenSky)
	}
	if cfg.AirplanesLive != nil {
		providers = append(providers, ProviderAirplanesLive)
	}

	return &AircraftService{
		cfg:           cfg,
		queue:         coalesce.NewQueue(cfg.MaxPending, providers...),
		logger:        logger.With("component", "remote"),
		now:           time.Now,
		openSkyFeeder: feeder.Builtin(ProviderOpenSky, feeder.TypeOpenSky, "yellow"),
		liveFeeder:    feeder.Builtin(ProviderAirplanesLive, feeder.TypeADSBx, "green"),
	}
}

// Enqueue adds a client's viewport request. It never blocks on the scheduler.
func (s *AircraftService) Enqueue(client string, bounds *orb.Bound, provider string) {
	s.queue.Push(coalesce.NewRequest(client, bounds, provider))
	s.cfg.Metrics.QueueDepth("aircraft", s.queue.Len())
}

// Store returns the remote record store.
func (s *AircraftService) Store() *state.Store {
	return s.cfg.Engine.Store()
}

// Pending returns the number of queued requests.
func (s *AircraftService) Pending() int {
	return s.queue.Len()
}

// Run serves the queue until ctx is cancelled.
func (s *AircraftService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("remote aircraft service started", "interval", s.cfg.Interval, "purge_after", s.cfg.PurgeAfter)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick serves at most one request and purges idle remote records.
// It reports the number of records merged from the upstream response.
func (s *AircraftService) Tick(ctx context.Context) (merged int) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in remote tick, will retry next tick", "panic", r)
			s.cfg.Metrics.TickPanic("remote")
		}
		s.Purge()
		s.cfg.Metrics.QueueDepth("aircraft", s.queue.Len())
		s.cfg.Metrics.Records(string(s.Store().Namespace()), s.Store().Len())
		s.cfg.Metrics.ObserveTick("remote", s.now().Sub(start))
	}()

	req, ok := s.queue.Next()
	if !ok {
		return 0
	}
	if err := s.queue.Validate(req); err != nil {
		s.logger.Warn("dropping remote request", "request_id", req.ID, "client", req.Client, "error", err)
		s.cfg.Metrics.RequestDropped("aircraft", dropReason(err))
		return 0
	}

	samples, f, err := s.dispatch(ctx, req)
	s.cfg.Metrics.UpstreamCall(req.Remote, callStatus(err))
	if err != nil {
		s.logger.Warn("remote call failed", "provider", req.Remote, "request_id", req.ID, "error", err)
		return 0
	}

	merged = s.mergeAll(samples, f)
	s.logger.Debug("remote request served", "provider", req.Remote, "client", req.Client, "merged", merged)
	return merged
}

// dispatch makes exactly one upstream call for req.
func (s *AircraftService) dispatch(ctx context.Context, req coalesce.Request) ([]adsb.Sample, *feeder.Feeder, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	switch req.Remote {
	case ProviderOpenSky:
		samples, err := s.cfg.OpenSky.GetStates(ctx, *req.Bounds)
		return samples, s.openSkyFeeder, err
	case ProviderAirplanesLive:
		c := req.Center()
		samples, err := s.cfg.AirplanesLive.GetAircraft(ctx, c.Lat(), c.Lon(), s.cfg.RadiusNM)
		return samples, s.liveFeeder, err
	}
	return nil, nil, fmt.Errorf("%w: %q", coalesce.ErrUnknownRemote, req.Remote)
}

func (s *AircraftService) mergeAll(samples []adsb.Sample, f *feeder.Feeder) int {
	merged := 0
	for _, sample := range samples {
		if !adsb.Viable(sample, f) {
			continue
		}
		rec, ok := s.cfg.Normalizer.Normalize(sample, f)
		if !ok {
			continue
		}
		s.cfg.Engine.Apply(rec, f.Name(), false, true)
		merged++
	}
	s.cfg.Metrics.Samples(f.Name(), merged, len(samples)-merged)
	return merged
}

// Purge deletes remote records idle for the purge window. Remote records are
// never archived.
func (s *AircraftService) Purge() int {
	if s.cfg.PurgeAfter <= 0 {
		return 0
	}
	store := s.Store()
	n := 0
	for _, rec := range store.IdleSince(s.now().Add(-s.cfg.PurgeAfter)) {
		if store.Delete(rec.Hex) {
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("purged idle remote records", "count", n)
	}
	return n
}

func callStatus(err error) string {
	if err == nil {
		return statusOK
	}
	if _, ok := adsb.IsRateLimitError(err); ok {
		return statusRateLimited
	}
	return statusError
}

func dropReason(err error) string {
	if errors.Is(err, coalesce.ErrUnknownRemote) {
		return "unknown_remote"
	}
	return "invalid"
}
