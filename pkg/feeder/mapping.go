// Package feeder describes the upstream sources vehicles are observed by and
// how their provider-specific JSON keys map onto canonical record fields.
package feeder

import (
	"fmt"
	"maps"
)

// Field identifies a canonical record field a provider may supply.
type Field int

// Canonical fields. Hex, Latitude and Longitude are required for a record to exist.
const (
	Hex Field = iota
	Latitude
	Longitude
	Altitude
	EllipsoidalAltitude
	OnGround
	Track
	Speed
	VerticalRate
	Roll
	Type
	Registration
	FlightID
	Category
	Squawk
	Origin
	Destination
	Rssi
	Temperature
	WindSpeed
	WindFromDirection
	AutopilotEngaged
	SelectedQnh
	SelectedAltitude
	SelectedHeading
	LastSeen
	Source
	fieldCount
)

var fieldNames = [fieldCount]string{
	Hex:                 "hex",
	Latitude:            "latitude",
	Longitude:           "longitude",
	Altitude:            "altitude",
	EllipsoidalAltitude: "ellipsoidalAltitude",
	OnGround:            "onGround",
	Track:               "track",
	Speed:               "speed",
	VerticalRate:        "verticalRate",
	Roll:                "roll",
	Type:                "type",
	Registration:        "registration",
	FlightID:            "flightId",
	Category:            "category",
	Squawk:              "squawk",
	Origin:              "origin",
	Destination:         "destination",
	Rssi:                "rssi",
	Temperature:         "temperature",
	WindSpeed:           "windSpeed",
	WindFromDirection:   "windFromDirection",
	AutopilotEngaged:    "autopilotEngaged",
	SelectedQnh:         "selectedQnh",
	SelectedAltitude:    "selectedAltitude",
	SelectedHeading:     "selectedHeading",
	LastSeen:            "lastSeen",
	Source:              "source",
}

// String returns the canonical field name.
func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// ParseField resolves a canonical field name as used in configuration files.
func ParseField(name string) (Field, bool) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), true
		}
	}
	return 0, false
}

// Mapping maps canonical fields to the provider's JSON key.
// A field without a key is not supported by the provider. Mapping is immutable.
type Mapping struct {
	keys map[Field]string
}

// NewMapping builds a mapping from a field table. Empty keys are ignored.
func NewMapping(keys map[Field]string) Mapping {
	m := Mapping{keys: make(map[Field]string, len(keys))}
	for f, k := range keys {
		if k != "" {
			m.keys[f] = k
		}
	}
	return m
}

// Key returns the provider key for a canonical field.
func (m Mapping) Key(f Field) (string, bool) {
	k, ok := m.keys[f]
	return k, ok
}

// Has reports whether the provider supplies the field.
func (m Mapping) Has(f Field) bool {
	_, ok := m.keys[f]
	return ok
}

// HasIdentity reports whether hex, latitude and longitude are all mapped.
func (m Mapping) HasIdentity() bool {
	return m.Has(Hex) && m.Has(Latitude) && m.Has(Longitude)
}

// With returns a copy of the mapping with overrides applied by canonical name.
// An empty key removes the field.
func (m Mapping) With(overrides map[string]string) (Mapping, error) {
	out := Mapping{keys: maps.Clone(m.keys)}
	if out.keys == nil {
		out.keys = make(map[Field]string)
	}
	for name, key := range overrides {
		f, ok := ParseField(name)
		if !ok {
			return Mapping{}, fmt.Errorf("unknown mapping field %q", name)
		}
		if key == "" {
			delete(out.keys, f)
			continue
		}
		out.keys[f] = key
	}
	return out, nil
}

// canonicalMapping maps every field to its canonical name; used by adapters that
// build samples themselves.
func canonicalMapping() Mapping {
	keys := make(map[Field]string, fieldCount)
	for i, n := range fieldNames {
		keys[Field(i)] = n
	}
	return NewMapping(keys)
}

// readsbMapping covers readsb, dump1090-fa, tar1090 and ADSBExchange v2 style JSON.
func readsbMapping() Mapping {
	return NewMapping(map[Field]string{
		Hex:                 "hex",
		Latitude:            "lat",
		Longitude:           "lon",
		Altitude:            "alt_baro",
		EllipsoidalAltitude: "alt_geom",
		Track:               "track",
		Speed:               "gs",
		VerticalRate:        "baro_rate",
		Roll:                "roll",
		Type:                "t",
		Registration:        "r",
		FlightID:            "flight",
		Category:            "category",
		Squawk:              "squawk",
		Rssi:                "rssi",
		Temperature:         "oat",
		WindSpeed:           "ws",
		WindFromDirection:   "wd",
		SelectedQnh:         "nav_qnh",
		SelectedAltitude:    "nav_altitude_mcp",
		SelectedHeading:     "nav_heading",
		LastSeen:            "seen",
		Source:              "type",
	})
}

func fr24Mapping() Mapping {
	return NewMapping(map[Field]string{
		Hex:          "hex",
		Latitude:     "lat",
		Longitude:    "lon",
		Altitude:     "altitude",
		Track:        "track",
		Speed:        "speed",
		VerticalRate: "vert_rate",
		Type:         "type",
		FlightID:     "flight",
		Squawk:       "squawk",
		Category:     "category",
		Origin:       "from_iata",
		Destination:  "to_iata",
		Source:       "mlat",
	})
}

func airsquitterMapping() Mapping {
	return NewMapping(map[Field]string{
		Hex:                 "hex",
		Latitude:            "lat",
		Longitude:           "lon",
		Altitude:            "alt",
		EllipsoidalAltitude: "galt",
		Track:               "trk",
		Speed:               "spd",
		VerticalRate:        "vrt",
		Type:                "typ",
		Registration:        "reg",
		FlightID:            "fli",
		Category:            "cat",
		Squawk:              "sqk",
		Rssi:                "rssi",
		Source:              "src",
	})
}
