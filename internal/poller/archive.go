package poller

import (
	"context"
	"time"

	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
)

// Archiver moves an idle record and its trail to the history store.
type Archiver interface {
	ArchiveAircraft(ctx context.Context, rec *adsb.Record, points []trail.Point) error
}

// RangeWriter stores a range statistics snapshot of a record.
type RangeWriter interface {
	WriteRangeData(ctx context.Context, rec *adsb.Record, at time.Time) error
}

// DiscardArchiver accepts every record without storing it.
// It is used when no history database is configured.
type DiscardArchiver struct{}

// ArchiveAircraft implements Archiver.
func (DiscardArchiver) ArchiveAircraft(context.Context, *adsb.Record, []trail.Point) error {
	return nil
}

// ArchiveResult counts the outcome of one archive run.
type ArchiveResult struct {
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// Archive moves local records idle for at least the configured idle time to
// the history store. A record is deleted from the live store only after its
// archival write succeeded; failed records stay live and are tried again on
// the next run.
func (p *Poller) Archive(ctx context.Context) ArchiveResult {
	var res ArchiveResult
	if p.cfg.Archiver == nil {
		return res
	}

	store := p.cfg.Engine.Store()
	trails := p.cfg.Engine.Trails()
	now := p.now()

	for _, rec := range store.IdleSince(now.Add(-p.cfg.ArchiveIdle)) {
		p.writeRange(ctx, rec)
		rec.StripPhotos()

		var points []trail.Point
		if trails != nil {
			points = trails.ForHex(rec.Hex, "", time.Time{})
		}

		if err := p.cfg.Archiver.ArchiveAircraft(ctx, rec, points); err != nil {
			res.Failed++
			p.cfg.Metrics.Archived("failed")
			p.logger.Error("archive failed, record kept live", "hex", rec.Hex, "error", err)
			continue
		}

		store.Delete(rec.Hex)
		if trails != nil {
			trails.Remove(rec.Hex)
		}
		res.Archived++
		p.cfg.Metrics.Archived("archived")
	}

	if res.Archived > 0 || res.Failed > 0 {
		p.logger.Info("archive run done", "archived", res.Archived, "failed", res.Failed)
	}
	return res
}

// PruneTrails drops live trail points older than the retention window.
func (p *Poller) PruneTrails() int {
	trails := p.cfg.Engine.Trails()
	if trails == nil || p.cfg.TrailRetention <= 0 {
		return 0
	}
	n := trails.Prune(p.now().Add(-p.cfg.TrailRetention))
	if n > 0 {
		p.logger.Info("pruned trail points", "count", n)
	}
	return n
}

// housekeeping runs the archive job and trail retention with panic recovery.
func (p *Poller) housekeeping(ctx context.Context) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in archive job", "panic", r)
			p.cfg.Metrics.TickPanic("archive")
		}
		p.cfg.Metrics.ObserveTick("archive", p.now().Sub(start))
	}()

	p.Archive(ctx)
	p.PruneTrails()
}
