package adsb

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
)

// Sample is one raw per-vehicle object as decoded from a provider's JSON.
type Sample map[string]any

// AirportLookup resolves IATA airport codes to ICAO codes.
type AirportLookup interface {
	ICAOByIATA(iata string) (string, bool)
}

// Normalizer converts provider samples into canonical records.
type Normalizer struct {
	site     coordinates.Geographic
	airports AirportLookup
}

// NewNormalizer creates a normalizer measuring distances from site.
// airports may be nil, in which case origin and destination are never set.
func NewNormalizer(site coordinates.Geographic, airports AirportLookup) *Normalizer {
	return &Normalizer{site: site, airports: airports}
}

// Site returns the reference position distances are measured from.
func (n *Normalizer) Site() coordinates.Geographic {
	return n.site
}

// Viable reports whether a sample carries a usable hex and a non-zero position.
func Viable(s Sample, f *feeder.Feeder) bool {
	m := f.Mapping()
	hex, ok := stringField(s, m, feeder.Hex)
	if !ok || strings.TrimSpace(hex) == "" {
		return false
	}
	lat, ok := numberField(s, m, feeder.Latitude)
	if !ok || lat == 0 {
		return false
	}
	lon, ok := numberField(s, m, feeder.Longitude)
	return ok && lon != 0
}

// Normalize maps a raw sample onto a canonical record using the feeder's mapping.
// It returns false when the sample has no usable hex, latitude or longitude.
// Fields whose value has an unexpected type are skipped.
func (n *Normalizer) Normalize(s Sample, f *feeder.Feeder) (*Record, bool) {
	m := f.Mapping()
	if !m.HasIdentity() {
		return nil, false
	}

	hex, ok := stringField(s, m, feeder.Hex)
	hex = strings.ToLower(strings.TrimSpace(hex))
	if !ok || hex == "" {
		return nil, false
	}
	lat, okLat := numberField(s, m, feeder.Latitude)
	lon, okLon := numberField(s, m, feeder.Longitude)
	if !okLat || !okLon {
		return nil, false
	}

	r := &Record{
		Hex:       hex,
		Latitude:  &lat,
		Longitude: &lon,
	}
	r.AddFeeder(f.Name())

	n.applyAltitude(r, s, m)

	if v, ok := boolField(s, m, feeder.OnGround); ok {
		r.OnGround = &v
	}

	r.Track = intField(s, m, feeder.Track)
	r.Speed = intField(s, m, feeder.Speed)
	r.VerticalRate = intField(s, m, feeder.VerticalRate)
	r.Roll = floatField(s, m, feeder.Roll)
	r.Temperature = intField(s, m, feeder.Temperature)
	r.WindSpeed = intField(s, m, feeder.WindSpeed)
	r.WindFromDirection = intField(s, m, feeder.WindFromDirection)
	r.SelectedQnh = floatField(s, m, feeder.SelectedQnh)
	r.SelectedAltitude = intField(s, m, feeder.SelectedAltitude)
	r.SelectedHeading = intField(s, m, feeder.SelectedHeading)
	r.Rssi = floatField(s, m, feeder.Rssi)
	r.LastSeen = floatField(s, m, feeder.LastSeen)
	if v, ok := boolField(s, m, feeder.AutopilotEngaged); ok {
		r.AutopilotEngaged = &v
	}

	r.Type = trimmedField(s, m, feeder.Type)
	r.Registration = trimmedField(s, m, feeder.Registration)
	r.FlightID = trimmedField(s, m, feeder.FlightID)
	r.Category = trimmedField(s, m, feeder.Category)
	r.Squawk = trimmedField(s, m, feeder.Squawk)
	r.Origin = n.resolveAirport(trimmedField(s, m, feeder.Origin))
	r.Destination = n.resolveAirport(trimmedField(s, m, feeder.Destination))

	if kind := sourceKind(s, f); kind != "" {
		r.SourceKind = kind
		r.UpsertSource(f.Name(), kind)
	}

	d := coordinates.DistanceKm(n.site, coordinates.Geographic{Latitude: lat, Longitude: lon})
	r.Distance = &d
	r.ClimbState = Classify(r.OnGround, r.VerticalRate)

	return r, true
}

// applyAltitude reconciles barometric and ellipsoidal altitude.
// A numeric altitude means airborne; a string (e.g. "ground") means on the ground at 0 ft.
// When the barometric altitude is missing the ellipsoidal one is displayed instead.
func (n *Normalizer) applyAltitude(r *Record, s Sample, m feeder.Mapping) {
	airborne := false
	ground := true

	altKey, altMapped := m.Key(feeder.Altitude)
	if altMapped {
		switch v := s[altKey].(type) {
		case nil:
			if ellip, ok := numberField(s, m, feeder.EllipsoidalAltitude); ok {
				r.Altitude = intPtr(ellip)
				r.OnGround = &airborne
			}
		case string:
			r.Altitude = intPtr(0)
			r.OnGround = &ground
		default:
			if alt, ok := number(v); ok {
				r.Altitude = intPtr(alt)
				r.OnGround = &airborne
			}
		}
	}

	ellipKey, ellipMapped := m.Key(feeder.EllipsoidalAltitude)
	if !ellipMapped {
		return
	}
	switch v := s[ellipKey].(type) {
	case nil:
	case string:
		r.Altitude = intPtr(0)
		r.EllipsoidalAltitude = intPtr(0)
		r.OnGround = &ground
	default:
		if ellip, ok := number(v); ok {
			r.EllipsoidalAltitude = intPtr(ellip)
		}
	}
}

// resolveAirport reduces an "IATA + text" value to its code and resolves it to ICAO.
// Unresolved codes are dropped.
func (n *Normalizer) resolveAirport(v string) string {
	if len(v) < 3 || n.airports == nil {
		return ""
	}
	icao, ok := n.airports.ICAOByIATA(strings.ToUpper(v[:3]))
	if !ok {
		return ""
	}
	return icao
}

// sourceKind derives the source kind tag of a sample for the feeder's strategy.
func sourceKind(s Sample, f *feeder.Feeder) string {
	key, ok := f.Mapping().Key(feeder.Source)
	if !ok {
		return ""
	}
	v, present := s[key]
	if !present || v == nil {
		return ""
	}

	switch f.SourceStrategy() {
	case feeder.SourceArray:
		arr, ok := v.([]any)
		if !ok {
			return ""
		}
		if len(arr) > 0 {
			return SourceMLAT
		}
		return SourceADSB
	case feeder.SourceTypeString:
		str, ok := v.(string)
		if !ok {
			return ""
		}
		return AbbreviateSourceType(str)
	case feeder.SourceDirect:
		str, ok := v.(string)
		if !ok {
			return ""
		}
		return strings.TrimSpace(str)
	}
	return ""
}

// AbbreviateSourceType maps a readsb message type (adsb_icao, mlat, tisb_other, ...)
// onto a one-letter source kind. Unknown types map to "".
func AbbreviateSourceType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case strings.HasPrefix(t, "adsb"), strings.HasPrefix(t, "adsr"):
		return SourceADSB
	case t == "mlat":
		return SourceMLAT
	case t == "adsc":
		return SourceADSC
	case strings.HasPrefix(t, "tisb"), t == "mode_s", t == "other":
		return SourceSecondary
	}
	return ""
}

// number converts a decoded JSON number to float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func numberField(s Sample, m feeder.Mapping, f feeder.Field) (float64, bool) {
	key, ok := m.Key(f)
	if !ok {
		return 0, false
	}
	return number(s[key])
}

func stringField(s Sample, m feeder.Mapping, f feeder.Field) (string, bool) {
	key, ok := m.Key(f)
	if !ok {
		return "", false
	}
	v, ok := s[key].(string)
	return v, ok
}

func trimmedField(s Sample, m feeder.Mapping, f feeder.Field) string {
	v, _ := stringField(s, m, f)
	return strings.TrimSpace(v)
}

func boolField(s Sample, m feeder.Mapping, f feeder.Field) (bool, bool) {
	key, ok := m.Key(f)
	if !ok {
		return false, false
	}
	v, ok := s[key].(bool)
	return v, ok
}

func intField(s Sample, m feeder.Mapping, f feeder.Field) *int {
	v, ok := numberField(s, m, f)
	if !ok {
		return nil
	}
	return intPtr(v)
}

func floatField(s Sample, m feeder.Mapping, f feeder.Field) *float64 {
	v, ok := numberField(s, m, f)
	if !ok {
		return nil
	}
	return &v
}

func intPtr(v float64) *int {
	i := int(math.Round(v))
	return &i
}
