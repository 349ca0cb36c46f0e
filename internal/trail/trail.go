// Package trail records vehicle position history and maintains the per-feeder
// range outline built from it.
package trail

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
)

// Point is one recorded position of a vehicle as seen by one feeder.
// Points produced by FixAntimeridian have a zero Timestamp and no feeder or source.
type Point struct {
	Hex       string    `json:"hex"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Altitude  *int      `json:"altitude,omitempty"`
	Reentered bool      `json:"reentered"`
	Timestamp time.Time `json:"timestamp"`
	Feeder    string    `json:"feeder,omitempty"`
	Source    string    `json:"source,omitempty"`
	Track     *int      `json:"track,omitempty"`
	Roll      *float64  `json:"roll,omitempty"`

	// Distance to the site in km and the bearing bucket from the site
	Distance *float64 `json:"distance,omitempty"`
	Bearing  int      `json:"bearing"`
}

// Synthetic reports whether p was inserted at read time rather than observed.
func (p Point) Synthetic() bool {
	return p.Timestamp.IsZero() && p.Feeder == "" && p.Source == ""
}

// sameSample compares the observed values of two points, ignoring the timestamp.
func sameSample(a, b Point) bool {
	return a.Hex == b.Hex &&
		a.Longitude == b.Longitude &&
		a.Latitude == b.Latitude &&
		equalInt(a.Altitude, b.Altitude) &&
		a.Reentered == b.Reentered &&
		a.Feeder == b.Feeder &&
		a.Source == b.Source
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// OutlineSink receives every recorded point.
type OutlineSink interface {
	AddTrailToOutlineMapIfNecessary(p Point, feeder string) bool
}

// Recorder is an append-only in-memory trail store keyed by hex.
// It is safe for concurrent use.
type Recorder struct {
	site    coordinates.Geographic
	outline OutlineSink

	mu     sync.RWMutex
	trails map[string][]Point
}

// NewRecorder creates a recorder measuring bearings from site.
// outline may be nil.
func NewRecorder(site coordinates.Geographic, outline OutlineSink) *Recorder {
	return &Recorder{
		site:    site,
		outline: outline,
		trails:  make(map[string][]Point),
	}
}

// Add appends the current position of rec as seen by feederName.
// Records without a position are not recorded.
func (r *Recorder) Add(rec *adsb.Record, feederName string, at time.Time) (Point, bool) {
	pos, ok := rec.Position()
	if !ok {
		return Point{}, false
	}

	p := Point{
		Hex:       strings.ToLower(rec.Hex),
		Longitude: pos.Longitude,
		Latitude:  pos.Latitude,
		Altitude:  rec.Altitude,
		Reentered: rec.Reentered,
		Timestamp: at,
		Feeder:    feederName,
		Source:    rec.SourceKind,
		Track:     rec.Track,
		Roll:      rec.Roll,
		Distance:  rec.Distance,
		Bearing:   coordinates.BearingBucket(r.site, pos),
	}

	r.mu.Lock()
	r.trails[p.Hex] = append(r.trails[p.Hex], p)
	r.mu.Unlock()

	if r.outline != nil && feederName != "" {
		r.outline.AddTrailToOutlineMapIfNecessary(p, feederName)
	}
	return p, true
}

// Last returns the most recent point for hex reported by feederName.
func (r *Recorder) Last(hex, feederName string) (Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	points := r.trails[strings.ToLower(hex)]
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Feeder == feederName {
			return points[i], true
		}
	}
	return Point{}, false
}

// ForHex returns the points of hex recorded at or after since, in timestamp order.
// An empty feederName matches every feeder.
func (r *Recorder) ForHex(hex, feederName string, since time.Time) []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Point
	for _, p := range r.trails[strings.ToLower(hex)] {
		if p.Timestamp.Before(since) {
			continue
		}
		if feederName != "" && p.Feeder != feederName {
			continue
		}
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b Point) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// Remove deletes and returns the whole trail of hex.
func (r *Recorder) Remove(hex string) []Point {
	hex = strings.ToLower(hex)

	r.mu.Lock()
	defer r.mu.Unlock()

	points := r.trails[hex]
	delete(r.trails, hex)
	return points
}

// Prune drops points older than cutoff and returns how many were removed.
func (r *Recorder) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for hex, points := range r.trails {
		kept := slices.DeleteFunc(points, func(p Point) bool { return p.Timestamp.Before(cutoff) })
		removed += len(points) - len(kept)
		if len(kept) == 0 {
			delete(r.trails, hex)
			continue
		}
		r.trails[hex] = kept
	}
	return removed
}

// Len returns the number of recorded points.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, points := range r.trails {
		n += len(points)
	}
	return n
}
