package trail

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// bucketCount is the number of bearing buckets, one per compass degree.
const bucketCount = 360

// OutlineWindow is how long an outline point stays valid.
const OutlineWindow = 24 * time.Hour

// Outline maintains, per feeder, the farthest recent point in each bearing
// bucket. Together the buckets approximate the feeder's reception range.
// It is safe for concurrent use.
type Outline struct {
	maxDistanceKm float64
	window        time.Duration
	now           func() time.Time

	mu      sync.RWMutex
	buckets map[string]*[bucketCount]*Point
}

// NewOutline creates an outline maintainer. Points farther than maxDistanceKm
// are rejected; 0 disables the ceiling.
func NewOutline(maxDistanceKm float64) *Outline {
	return &Outline{
		maxDistanceKm: maxDistanceKm,
		window:        OutlineWindow,
		now:           time.Now,
		buckets:       make(map[string]*[bucketCount]*Point),
	}
}

// AddTrailToOutlineMapIfNecessary stores p in its bearing bucket when it lies
// outside the feeder's current outline. It reports whether p was stored.
func (o *Outline) AddTrailToOutlineMapIfNecessary(p Point, feeder string) bool {
	if p.Distance == nil || feeder == "" {
		return false
	}
	dist := *p.Distance
	if o.maxDistanceKm > 0 && dist > o.maxDistanceKm {
		return false
	}
	bucket := ((p.Bearing % bucketCount) + bucketCount) % bucketCount
	cutoff := o.now().Add(-o.window)

	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.buckets[feeder]
	if !ok {
		b = new([bucketCount]*Point)
		o.buckets[feeder] = b
	}

	current := b[bucket]
	if current != nil && current.Timestamp.Before(cutoff) {
		current = nil
	}

	if occupied(b, cutoff) >= 3 && dist <= boundaryDistance(b, bucket, cutoff) {
		return false
	}
	if current != nil && *current.Distance >= dist {
		return false
	}

	stored := p
	stored.Bearing = bucket
	b[bucket] = &stored
	return true
}

// occupied counts the in-window buckets.
func occupied(b *[bucketCount]*Point, cutoff time.Time) int {
	n := 0
	for _, p := range b {
		if live(p, cutoff) {
			n++
		}
	}
	return n
}

func live(p *Point, cutoff time.Time) bool {
	return p != nil && !p.Timestamp.Before(cutoff)
}

// boundaryDistance is the distance from the site to the outline polygon along
// bucket. An occupied bucket is its own boundary. Otherwise the ray is
// intersected with the edge joining the nearest occupied buckets on either
// side; a gap of 180° or more leaves the polygon open there, so 0 is returned.
func boundaryDistance(b *[bucketCount]*Point, bucket int, cutoff time.Time) float64 {
	if p := b[bucket]; live(p, cutoff) {
		return *p.Distance
	}

	var prev, next *Point
	prevGap, nextGap := 0, 0
	for i := 1; i < bucketCount; i++ {
		if p := b[(bucket-i+bucketCount)%bucketCount]; prev == nil && live(p, cutoff) {
			prev, prevGap = p, i
		}
		if p := b[(bucket+i)%bucketCount]; next == nil && live(p, cutoff) {
			next, nextGap = p, i
		}
		if prev != nil && next != nil {
			break
		}
	}
	if prev == nil || next == nil || prevGap+nextGap >= 180 {
		return 0
	}

	r1, r2 := *prev.Distance, *next.Distance
	a1 := float64(prevGap) * math.Pi / 180
	a2 := float64(nextGap) * math.Pi / 180
	denom := r1*math.Sin(a1) + r2*math.Sin(a2)
	if denom == 0 {
		return 0
	}
	return r1 * r2 * math.Sin(a1+a2) / denom
}

// GetActualOutlineFromLast24Hours returns the in-window outline points of the
// requested feeders ordered by bearing. Aged-out buckets of those feeders are
// dropped; other feeders are left untouched.
func (o *Outline) GetActualOutlineFromLast24Hours(feeders []string) []Point {
	cutoff := o.now().Add(-o.window)

	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Point
	for _, feeder := range feeders {
		b, ok := o.buckets[feeder]
		if !ok {
			continue
		}
		for i, p := range b {
			if p == nil {
				continue
			}
			if p.Timestamp.Before(cutoff) {
				b[i] = nil
				continue
			}
			out = append(out, *p)
		}
	}

	slices.SortStableFunc(out, func(a, b Point) int { return a.Bearing - b.Bearing })
	return out
}

// Size returns the number of stored buckets of a feeder, expired ones included.
func (o *Outline) Size(feeder string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	b, ok := o.buckets[feeder]
	if !ok {
		return 0
	}
	n := 0
	for _, p := range b {
		if p != nil {
			n++
		}
	}
	return n
}

// Feeders returns the names of feeders with outline data.
func (o *Outline) Feeders() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := make([]string, 0, len(o.buckets))
	for name := range o.buckets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// FeatureCollection renders outline points as one polygon per feeder.
// Feeders with fewer than three points are skipped.
func FeatureCollection(points []Point) *geojson.FeatureCollection {
	byFeeder := make(map[string][]Point)
	var order []string
	for _, p := range points {
		if _, ok := byFeeder[p.Feeder]; !ok {
			order = append(order, p.Feeder)
		}
		byFeeder[p.Feeder] = append(byFeeder[p.Feeder], p)
	}

	fc := geojson.NewFeatureCollection()
	for _, feeder := range order {
		pts := byFeeder[feeder]
		if len(pts) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(pts)+1)
		for _, p := range pts {
			ring = append(ring, orb.Point{p.Longitude, p.Latitude})
		}
		ring = append(ring, ring[0])

		f := geojson.NewFeature(orb.Polygon{ring})
		f.Properties["feeder"] = feeder
		f.Properties["points"] = len(pts)
		fc.Append(f)
	}
	return fc
}
