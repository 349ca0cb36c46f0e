// Package adsb defines the canonical vehicle record, the normalizer that turns
// provider samples into records, and HTTP clients for the upstream aggregators.
package adsb

import (
	"slices"
	"time"

	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
)

// ClimbState classifies the vertical state of a vehicle.
// The zero value means the state is unknown.
type ClimbState string

const (
	ClimbUnknown    ClimbState = ""
	ClimbGround     ClimbState = "GROUND"
	ClimbDescending ClimbState = "DESCENDING"
	ClimbClimbing   ClimbState = "CLIMBING"
	ClimbLevel      ClimbState = "LEVEL"
)

// levelBandFpm is the vertical rate band, in feet per minute, still considered level flight.
const levelBandFpm = 150

// Classify derives the climb state from the on-ground flag and the vertical rate.
// An unknown vertical rate yields an unknown state unless the vehicle is on the ground.
func Classify(onGround *bool, verticalRate *int) ClimbState {
	if onGround != nil && *onGround {
		return ClimbGround
	}
	if verticalRate == nil {
		return ClimbUnknown
	}
	switch vr := *verticalRate; {
	case vr < -levelBandFpm:
		return ClimbDescending
	case vr > levelBandFpm:
		return ClimbClimbing
	default:
		return ClimbLevel
	}
}

// Source kinds reported per feeder.
const (
	SourceADSB      = "A"
	SourceMLAT      = "M"
	SourceADSC      = "C"
	SourceSecondary = "S"
)

// SourceEntry is the last source kind a feeder reported for a vehicle.
type SourceEntry struct {
	Feeder string `json:"feeder"`
	Kind   string `json:"kind"`
}

// Record is the canonical, feeder-agnostic representation of one tracked vehicle.
// Nil pointer fields are unknown. Records handed out by the store are copies.
type Record struct {
	// Hex is the lower-cased ICAO 24-bit address (or a fixed id such as "iss")
	Hex string `json:"hex"`

	// Position in decimal degrees
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// Altitude is the displayable altitude in feet; 0 when on the ground
	Altitude *int `json:"altitude,omitempty"`

	// EllipsoidalAltitude is the geometric (GNSS) altitude in feet
	EllipsoidalAltitude *int  `json:"ellipsoidalAltitude,omitempty"`
	OnGround            *bool `json:"onGround,omitempty"`

	// Kinematics
	Track        *int     `json:"track,omitempty"`        // degrees
	Speed        *int     `json:"speed,omitempty"`        // knots
	VerticalRate *int     `json:"verticalRate,omitempty"` // feet per minute
	Roll         *float64 `json:"roll,omitempty"`         // degrees

	// Identity
	Type         string `json:"type,omitempty"`
	Registration string `json:"registration,omitempty"`
	FlightID     string `json:"flightId,omitempty"`
	Category     string `json:"category,omitempty"`
	Squawk       string `json:"squawk,omitempty"`
	Origin       string `json:"origin,omitempty"`      // ICAO airport code
	Destination  string `json:"destination,omitempty"` // ICAO airport code

	// Receiver and flight deck data
	Rssi              *float64 `json:"rssi,omitempty"`
	Temperature       *int     `json:"temperature,omitempty"`
	WindSpeed         *int     `json:"windSpeed,omitempty"`
	WindFromDirection *int     `json:"windFromDirection,omitempty"`
	AutopilotEngaged  *bool    `json:"autopilotEngaged,omitempty"`
	SelectedQnh       *float64 `json:"selectedQnh,omitempty"`
	SelectedAltitude  *int     `json:"selectedAltitude,omitempty"`
	SelectedHeading   *int     `json:"selectedHeading,omitempty"`
	LastSeen          *float64 `json:"lastSeen,omitempty"` // seconds since the feeder last heard the vehicle

	// Multi-source bookkeeping: feeders that reported in the current tick
	FeederList []string      `json:"feederList"`
	SourceList []SourceEntry `json:"sourceList"`

	// SourceKind is the source kind of the sample most recently applied
	SourceKind string `json:"-"`

	// Derived
	Distance   *float64   `json:"distance,omitempty"` // km to the site, 1 decimal
	ClimbState ClimbState `json:"climbState,omitempty"`
	Reentered  bool       `json:"reentered"`
	LastUpdate time.Time  `json:"lastUpdate"`

	// Enrichment, set once on creation or on first flight id
	FullType          string `json:"fullType,omitempty"`
	Operator          string `json:"operator,omitempty"`
	Age               *int   `json:"age,omitempty"` // airframe age in years
	URLPhotoDirect    string `json:"urlPhotoDirect,omitempty"`
	URLPhotoWebsite   string `json:"urlPhotoWebsite,omitempty"`
	PhotoPhotographer string `json:"photoPhotographer,omitempty"`
}

// Position returns the vehicle position, if known.
func (r *Record) Position() (coordinates.Geographic, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return coordinates.Geographic{}, false
	}
	return coordinates.Geographic{Latitude: *r.Latitude, Longitude: *r.Longitude}, true
}

// Clone returns a copy that shares no mutable state with r.
// Pointer fields are never mutated in place, only replaced, so they are shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.FeederList = slices.Clone(r.FeederList)
	c.SourceList = slices.Clone(r.SourceList)
	return &c
}

// AddFeeder adds a feeder to the feeder list if absent.
func (r *Record) AddFeeder(name string) {
	if !slices.Contains(r.FeederList, name) {
		r.FeederList = append(r.FeederList, name)
	}
}

// UpsertSource records the source kind for a feeder, replacing any earlier entry for it.
func (r *Record) UpsertSource(feederName, kind string) {
	if feederName == "" || kind == "" {
		return
	}
	for i := range r.SourceList {
		if r.SourceList[i].Feeder == feederName {
			r.SourceList[i].Kind = kind
			return
		}
	}
	r.SourceList = append(r.SourceList, SourceEntry{Feeder: feederName, Kind: kind})
}

// ResetSources clears the feeder and source lists.
func (r *Record) ResetSources() {
	r.FeederList = r.FeederList[:0]
	r.SourceList = r.SourceList[:0]
}

// StripPhotos removes rights-constrained photo references.
func (r *Record) StripPhotos() {
	r.URLPhotoDirect = ""
	r.URLPhotoWebsite = ""
	r.PhotoPhotographer = ""
}
