package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/unklstewy/adsb-feedhub/internal/coalesce"
	"github.com/unklstewy/adsb-feedhub/internal/metrics"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
)

// PositionFetcher returns the current position of a single spacecraft.
type PositionFetcher interface {
	GetPosition(ctx context.Context) (adsb.Sample, error)
}

// SpacecraftConfig configures a SpacecraftService.
type SpacecraftConfig struct {
	// Engine should capture remote trails and use the spacecraft namespace
	Engine     *state.Engine
	Normalizer *adsb.Normalizer
	ISS        PositionFetcher

	Interval       time.Duration
	Timeout        time.Duration
	TrailRetention time.Duration
	MaxPending     int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// SpacecraftService polls the ISS feed while clients ask for it.
type SpacecraftService struct {
	cfg    SpacecraftConfig
	queue  *coalesce.Queue
	feeder *feeder.Feeder
	logger *slog.Logger
	now    func() time.Time
}

// NewSpacecraftService creates the service and its queue.
func NewSpacecraftService(cfg SpacecraftConfig) *SpacecraftService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	return &SpacecraftService{
		cfg:    cfg,
		queue:  coalesce.NewQueue(cfg.MaxPending, ProviderISS),
		feeder: feeder.Builtin("Open-Notify", feeder.TypeSpacecraft, "white"),
		logger: logger.With("component", "spacecraft"),
		now:    time.Now,
	}
}

// Enqueue adds a client's spacecraft request.
func (s *SpacecraftService) Enqueue(client string, bounds *orb.Bound) {
	s.queue.Push(coalesce.NewRequest(client, bounds, ProviderISS))
	s.cfg.Metrics.QueueDepth("spacecraft", s.queue.Len())
}

// Store returns the spacecraft record store.
func (s *SpacecraftService) Store() *state.Store {
	return s.cfg.Engine.Store()
}

// Run serves the queue until ctx is cancelled.
func (s *SpacecraftService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("spacecraft service started", "interval", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fetches the ISS position once if a valid request is pending.
// The position answers every client, so a successful call drains the queue.
func (s *SpacecraftService) Tick(ctx context.Context) (served bool) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in spacecraft tick, will retry next tick", "panic", r)
			s.cfg.Metrics.TickPanic("spacecraft")
		}
		s.pruneTrails()
		s.cfg.Metrics.QueueDepth("spacecraft", s.queue.Len())
		s.cfg.Metrics.ObserveTick("spacecraft", s.now().Sub(start))
	}()

	req, ok := s.queue.Next()
	if !ok {
		return false
	}
	if err := s.queue.Validate(req); err != nil {
		s.logger.Warn("dropping spacecraft request", "request_id", req.ID, "client", req.Client, "error", err)
		s.cfg.Metrics.RequestDropped("spacecraft", dropReason(err))
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	sample, err := s.cfg.ISS.GetPosition(callCtx)
	cancel()
	s.cfg.Metrics.UpstreamCall(ProviderISS, callStatus(err))
	if err != nil {
		s.logger.Warn("spacecraft call failed", "request_id", req.ID, "error", err)
		return false
	}

	rec, ok := s.cfg.Normalizer.Normalize(sample, s.feeder)
	if !ok {
		s.logger.Warn("spacecraft sample has no position", "request_id", req.ID)
		return false
	}
	s.cfg.Engine.Apply(rec, s.feeder.Name(), false, true)

	for {
		if _, more := s.queue.Next(); !more {
			break
		}
	}
	return true
}

func (s *SpacecraftService) pruneTrails() {
	trails := s.cfg.Engine.Trails()
	if trails == nil || s.cfg.TrailRetention <= 0 {
		return
	}
	trails.Prune(s.now().Add(-s.cfg.TrailRetention))
}
