// Package poller fetches the configured local feeders at a fixed rate and
// merges their samples into the local store.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/unklstewy/adsb-feedhub/internal/metrics"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
)

// DefaultFetchTimeout bounds one feeder fetch when a target sets none.
const DefaultFetchTimeout = 5 * time.Second

// Target is one feeder the poller fetches.
type Target struct {
	Feeder  *feeder.Feeder
	Timeout time.Duration
}

// Config configures a Poller.
type Config struct {
	Targets    []Target
	Engine     *state.Engine
	Normalizer *adsb.Normalizer

	// Archiver receives idle records; required for the archive job
	Archiver Archiver

	// RangeWriter stores range snapshots; optional
	RangeWriter RangeWriter

	// Outline is only read to report its size; optional
	Outline *trail.Outline

	Interval        time.Duration
	ArchiveInterval time.Duration
	ArchiveIdle     time.Duration
	TrailRetention  time.Duration

	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Poller runs the local fetch loop and its housekeeping jobs.
//
// Ticks run sequentially on one goroutine, so the tick bookkeeping needs no locking.
type Poller struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	// Hexes touched in the running tick
	current map[string]struct{}
}

// New creates a poller.
func New(cfg Config) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		logger:  logger.With("component", "poller"),
		now:     time.Now,
		current: make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled. The first tick fires immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	archiveTicker := time.NewTicker(p.cfg.ArchiveInterval)
	defer archiveTicker.Stop()

	p.logger.Info("local poller started",
		"feeders", len(p.cfg.Targets),
		"interval", p.cfg.Interval,
		"archive_interval", p.cfg.ArchiveInterval)

	p.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Tick(ctx)
		case <-archiveTicker.C:
			p.housekeeping(ctx)
		}
	}
}

// TickStats summarizes one tick.
type TickStats struct {
	Feeders  int
	Failed   int
	Merged   int
	Rejected int
	Created  int
}

// Tick fetches every target once, in order, and merges their samples.
// A failing or panicking feeder is logged and skipped.
func (p *Poller) Tick(ctx context.Context) (stats TickStats) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in local poller tick, will retry next tick", "panic", r)
			p.cfg.Metrics.TickPanic("local")
		}
		p.finishTick()
		p.cfg.Metrics.ObserveTick("local", p.now().Sub(start))
		p.cfg.Metrics.Records(string(state.NamespaceLocal), p.cfg.Engine.Store().Len())
	}()

	for _, t := range p.cfg.Targets {
		stats.Feeders++
		if !p.pollTarget(ctx, t, &stats) {
			stats.Failed++
			p.cfg.Metrics.FetchError(t.Feeder.Name())
		}
	}

	if p.cfg.Outline != nil {
		for _, name := range p.cfg.Outline.Feeders() {
			p.cfg.Metrics.OutlinePoints(name, p.cfg.Outline.Size(name))
		}
	}

	p.logger.Debug("local tick done",
		"feeders", stats.Feeders,
		"failed", stats.Failed,
		"merged", stats.Merged,
		"rejected", stats.Rejected,
		"created", stats.Created)
	return stats
}

// pollTarget fetches and merges one feeder. A failed fetch or a panic while
// merging fails this feeder only.
func (p *Poller) pollTarget(ctx context.Context, t Target, stats *TickStats) (ok bool) {
	name := t.Feeder.Name()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while polling feeder", "feeder", name, "panic", r)
			p.cfg.Metrics.TickPanic("local")
			ok = false
		}
	}()

	samples, err := p.fetch(ctx, t)
	if err != nil {
		p.logger.Warn("feeder fetch failed", "feeder", name, "error", err)
		return false
	}

	merged, rejected, created := p.mergeAll(ctx, t.Feeder, samples)
	stats.Merged += merged
	stats.Rejected += rejected
	stats.Created += created
	p.cfg.Metrics.Samples(name, merged, rejected)
	return true
}

// finishTick clears the tick bookkeeping.
func (p *Poller) finishTick() {
	p.current = make(map[string]struct{}, len(p.current))
}

func (p *Poller) mergeAll(ctx context.Context, f *feeder.Feeder, samples []adsb.Sample) (merged, rejected, created int) {
	for _, s := range samples {
		if !adsb.Viable(s, f) {
			rejected++
			continue
		}
		rec, ok := p.cfg.Normalizer.Normalize(s, f)
		if !ok {
			rejected++
			continue
		}

		// The first feeder touching a hex in this tick starts its lists afresh
		_, seenNow := p.current[rec.Hex]
		reset := !seenNow
		p.current[rec.Hex] = struct{}{}

		stored, isNew := p.cfg.Engine.Apply(rec, f.Name(), true, reset)
		merged++
		if isNew {
			created++
			p.writeRange(ctx, stored)
		}
	}
	return merged, rejected, created
}

func (p *Poller) writeRange(ctx context.Context, rec *adsb.Record) {
	if p.cfg.RangeWriter == nil {
		return
	}
	if err := p.cfg.RangeWriter.WriteRangeData(ctx, rec, p.now()); err != nil {
		p.logger.Warn("range data write failed", "hex", rec.Hex, "error", err)
	}
}

// fetch downloads a feeder payload and returns its vehicle objects.
func (p *Poller) fetch(ctx context.Context, t Target) ([]adsb.Sample, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Feeder.Endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if err := adsb.CheckResponse(resp); err != nil {
		return nil, err
	}

	samples, err := DecodeEnvelope(json.NewDecoder(resp.Body), t.Feeder.EnvelopeKey())
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return samples, nil
}

// DecodeEnvelope reads a feeder payload: an object holding the vehicle array
// under key, or a bare array when key is empty. Array entries that are not
// objects are skipped.
func DecodeEnvelope(dec *json.Decoder, key string) ([]adsb.Sample, error) {
	var raw []json.RawMessage
	if key == "" {
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	} else {
		var envelope map[string]json.RawMessage
		if err := dec.Decode(&envelope); err != nil {
			return nil, err
		}
		list, ok := envelope[key]
		if !ok {
			return nil, fmt.Errorf("envelope has no %q field", key)
		}
		if err := json.Unmarshal(list, &raw); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
	}

	samples := make([]adsb.Sample, 0, len(raw))
	for _, r := range raw {
		var s adsb.Sample
		if err := json.Unmarshal(r, &s); err != nil || s == nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}
