package trail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var outlineNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func outlinePoint(hex string, distance float64, bearing int, feeder string) Point {
	d := distance
	return Point{
		Hex:       hex,
		Latitude:  53,
		Longitude: 10,
		Distance:  &d,
		Bearing:   bearing,
		Timestamp: outlineNow.Add(-time.Minute),
		Feeder:    feeder,
		Source:    "A",
	}
}

// newTestOutline seeds two feeders with two buckets each.
func newTestOutline(t *testing.T) *Outline {
	t.Helper()
	o := NewOutline(600)
	o.now = func() time.Time { return outlineNow }
	for _, p := range []Point{
		outlinePoint("hex1", 51, 0, "feeder1"),
		outlinePoint("hex2", 62, 90, "feeder2"),
		outlinePoint("hex3", 52, 180, "feeder1"),
		outlinePoint("hex3", 69, 270, "feeder2"),
	} {
		require.True(t, o.AddTrailToOutlineMapIfNecessary(p, p.Feeder))
	}
	return o
}

func TestOutlineFeederSelection(t *testing.T) {
	o := newTestOutline(t)

	both := o.GetActualOutlineFromLast24Hours([]string{"feeder1", "feeder2"})
	require.Len(t, both, 4)
	for i, want := range []int{0, 90, 180, 270} {
		assert.Equal(t, want, both[i].Bearing)
	}

	assert.Len(t, o.GetActualOutlineFromLast24Hours([]string{"feeder1"}), 2)
	assert.Empty(t, o.GetActualOutlineFromLast24Hours([]string{"unknown"}))
	assert.Equal(t, []string{"feeder1", "feeder2"}, o.Feeders())
}

func TestOutlineAddsNewBucketWhileSparse(t *testing.T) {
	o := newTestOutline(t)

	p := outlinePoint("hex", 6, 2, "feeder1")
	assert.True(t, o.AddTrailToOutlineMapIfNecessary(p, "feeder1"))

	got := o.GetActualOutlineFromLast24Hours([]string{"feeder1"})
	require.Len(t, got, 3)
	assert.Equal(t, "hex", got[1].Hex)
}

func TestOutlineReplacesFartherPoint(t *testing.T) {
	o := newTestOutline(t)

	assert.True(t, o.AddTrailToOutlineMapIfNecessary(outlinePoint("far", 100, 0, "feeder1"), "feeder1"))

	got := o.GetActualOutlineFromLast24Hours([]string{"feeder1"})
	require.Len(t, got, 2)
	assert.Equal(t, "far", got[0].Hex)
}

func TestOutlineMonotonic(t *testing.T) {
	o := NewOutline(0)
	o.now = func() time.Time { return outlineNow }

	best := 0.0
	for _, d := range []float64{10, 40, 20, 55, 5, 55, 70, 30} {
		o.AddTrailToOutlineMapIfNecessary(outlinePoint("hex", d, 45, "f"), "f")
		got := o.GetActualOutlineFromLast24Hours([]string{"f"})
		require.Len(t, got, 1)
		assert.GreaterOrEqual(t, *got[0].Distance, best)
		best = *got[0].Distance
	}
	assert.Equal(t, 70.0, best)
}

func TestOutlineExcludesInsidePoints(t *testing.T) {
	o := NewOutline(0)
	o.now = func() time.Time { return outlineNow }
	for _, b := range []int{0, 90, 180, 270} {
		require.True(t, o.AddTrailToOutlineMapIfNecessary(outlinePoint("edge", 100, b, "f"), "f"))
	}

	// The edge between 0° and 90° at 100 km passes 45° at about 70.7 km
	assert.False(t, o.AddTrailToOutlineMapIfNecessary(outlinePoint("in", 70, 45, "f"), "f"))
	assert.False(t, o.AddTrailToOutlineMapIfNecessary(outlinePoint("in", 99, 90, "f"), "f"))
	assert.Equal(t, 4, o.Size("f"))

	assert.True(t, o.AddTrailToOutlineMapIfNecessary(outlinePoint("out", 72, 45, "f"), "f"))
	assert.Equal(t, 5, o.Size("f"))
}

func TestOutlineCeiling(t *testing.T) {
	o := newTestOutline(t)

	assert.False(t, o.AddTrailToOutlineMapIfNecessary(outlinePoint("hex", 670, 0, "feeder1"), "feeder1"))
	assert.False(t, o.AddTrailToOutlineMapIfNecessary(outlinePoint("hex", 670, 33, "feeder1"), "feeder1"))
	assert.Len(t, o.GetActualOutlineFromLast24Hours([]string{"feeder1"}), 2)
}

func TestOutlineWithoutDistance(t *testing.T) {
	o := NewOutline(0)
	p := outlinePoint("hex", 1, 0, "f")
	p.Distance = nil
	assert.False(t, o.AddTrailToOutlineMapIfNecessary(p, "f"))
}

func TestOutlineAgesOutLazily(t *testing.T) {
	o := newTestOutline(t)
	old := outlinePoint("old", 500, 10, "feeder1")
	old.Timestamp = outlineNow.Add(-25 * time.Hour)
	require.True(t, o.AddTrailToOutlineMapIfNecessary(old, "feeder1"))
	assert.Equal(t, 3, o.Size("feeder1"))

	got := o.GetActualOutlineFromLast24Hours([]string{"feeder1"})
	assert.Len(t, got, 2)
	assert.Equal(t, 2, o.Size("feeder1"))
	assert.Equal(t, 2, o.Size("feeder2"), "unrequested feeder untouched")

	// An expired bucket no longer blocks a nearer point
	o.buckets["feeder1"][20] = &old
	assert.True(t, o.AddTrailToOutlineMapIfNecessary(outlinePoint("new", 5, 20, "feeder1"), "feeder1"))
}

func TestFeatureCollection(t *testing.T) {
	o := newTestOutline(t)
	o.AddTrailToOutlineMapIfNecessary(outlinePoint("hex", 6, 2, "feeder1"), "feeder1")

	fc := FeatureCollection(o.GetActualOutlineFromLast24Hours([]string{"feeder1", "feeder2"}))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "feeder1", fc.Features[0].Properties["feeder"])
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.GeoJSONType())
}
