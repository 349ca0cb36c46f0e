// Package coordinates provides the great-circle helpers used to relate vehicle
// positions to the receiving site: distance, initial bearing and unit conversions.
package coordinates

import "math"

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusMeters is the WGS84 equatorial radius used for site distances
	EarthRadiusMeters = 6378137.0

	// FeetToMeters converts feet to meters
	FeetToMeters = 0.3048

	// MetersToFeet converts meters to feet
	MetersToFeet = 3.281

	// KilometersPerNauticalMile converts nautical miles to kilometers
	KilometersPerNauticalMile = 1.852

	// MetersPerSecondToKnots converts m/s to knots (m/s -> km/h -> kn)
	MetersPerSecondToKnots = 3.6 / KilometersPerNauticalMile
)

// Geographic represents a position on Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	return az
}

// Bearing calculates the initial bearing (forward azimuth) from one point to another.
// Uses spherical trigonometry to calculate the bearing along a great circle.
// Returns bearing in degrees (0-360), where 0/360 = North, 90 = East, 180 = South, 270 = West.
func Bearing(from, to Geographic) float64 {
	lat1 := from.Latitude * DegreesToRadians
	lon1 := from.Longitude * DegreesToRadians
	lat2 := to.Latitude * DegreesToRadians
	lon2 := to.Longitude * DegreesToRadians

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeAzimuth(math.Atan2(y, x) * RadiansToDegrees)
}

// BearingBucket returns the integer compass degree (0-359) of the bearing from one point to another.
func BearingBucket(from, to Geographic) int {
	return int(math.Round(Bearing(from, to))) % 360
}

// haversine returns the central angle between two points in radians.
func haversine(from, to Geographic) float64 {
	lat1Rad := from.Latitude * DegreesToRadians
	lat2Rad := to.Latitude * DegreesToRadians
	dLat := lat2Rad - lat1Rad
	dLon := (to.Longitude - from.Longitude) * DegreesToRadians

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceKm calculates the great-circle distance between two points in kilometers,
// rounded to one decimal place.
func DistanceKm(from, to Geographic) float64 {
	km := EarthRadiusMeters * haversine(from, to) / 1000
	return math.Round(km*10) / 10
}

// DistanceNauticalMiles calculates the great-circle distance between two points.
// Returns distance in nautical miles.
func DistanceNauticalMiles(from, to Geographic) float64 {
	return EarthRadiusMeters * haversine(from, to) / 1000 / KilometersPerNauticalMile
}

// MetersToFeetInt converts meters to whole feet.
func MetersToFeetInt(m float64) int {
	return int(math.Round(m / FeetToMeters))
}

// MetersPerSecondToKnotsInt converts a speed in m/s to whole knots.
func MetersPerSecondToKnotsInt(ms float64) int {
	return int(math.Round(ms * MetersPerSecondToKnots))
}

// MetersPerSecondToFeetPerMinute converts a vertical rate in m/s to whole feet per minute.
func MetersPerSecondToFeetPerMinute(ms float64) int {
	return int(math.Round(ms * MetersToFeet * 60))
}
