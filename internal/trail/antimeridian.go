package trail

import (
	"math"
	"time"
)

// FixAntimeridian prepares an ordered trail for rendering.
//
// Consecutive points with identical observed values are collapsed. Wherever two
// neighbours are more than 180° of longitude apart, two synthetic points are
// inserted at their mid latitude, one on each side of the ±180° line, so the
// path is cut there instead of wrapping around the globe. The result is never
// stored; applying it twice yields the same sequence.
func FixAntimeridian(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}

	deduped := make([]Point, 0, len(points))
	for _, p := range points {
		if n := len(deduped); n > 0 && sameSample(deduped[n-1], p) {
			continue
		}
		deduped = append(deduped, p)
	}

	out := make([]Point, 0, len(deduped))
	for i, cur := range deduped {
		out = append(out, cur)
		if i == len(deduped)-1 {
			continue
		}
		next := deduped[i+1]
		if cur.Synthetic() && next.Synthetic() {
			continue
		}
		if math.Abs(cur.Longitude-next.Longitude) <= 180 {
			continue
		}

		midLat := (cur.Latitude + next.Latitude) / 2
		exitLon, entryLon := 180.0, -180.0
		if cur.Longitude < next.Longitude {
			exitLon, entryLon = -180.0, 180.0
		}
		out = append(out,
			edgePoint(cur, next, exitLon, midLat),
			edgePoint(cur, next, entryLon, midLat),
		)
	}
	return out
}

// edgePoint builds a synthetic point on the antimeridian between cur and next.
func edgePoint(cur, next Point, lon, lat float64) Point {
	return Point{
		Hex:       cur.Hex,
		Longitude: lon,
		Latitude:  lat,
		Altitude:  next.Altitude,
		Reentered: true,
		Timestamp: time.Time{},
		Track:     cur.Track,
		Roll:      cur.Roll,
	}
}
