package feeder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/unklstewy/adsb-feedhub/pkg/config"
)

// Feeder types with a built-in mapping.
const (
	TypeReadsb      = "readsb"
	TypeDump1090    = "dump1090"
	TypeADSBx       = "adsbx"
	TypeFR24        = "fr24feeder"
	TypeAirsquitter = "airsquitter"
	TypeOpenSky     = "opensky"
	TypeSpacecraft  = "spacecraft"
)

// SourceStrategy selects how the per-feeder source kind (A, M, C, S) is derived.
type SourceStrategy int

const (
	// SourceNone leaves the source kind unset.
	SourceNone SourceStrategy = iota
	// SourceArray marks a sample multilaterated when the source array is present and non-empty.
	SourceArray
	// SourceTypeString abbreviates a readsb style type string (adsb_icao, mlat, ...).
	SourceTypeString
	// SourceDirect uses the source field verbatim.
	SourceDirect
)

// builtin describes a feeder type.
type builtin struct {
	mapping  func() Mapping
	envelope string
	source   SourceStrategy
}

var builtins = map[string]builtin{
	TypeReadsb:      {readsbMapping, "aircraft", SourceTypeString},
	TypeDump1090:    {readsbMapping, "aircraft", SourceTypeString},
	TypeADSBx:       {readsbMapping, "aircraft", SourceTypeString},
	TypeFR24:        {fr24Mapping, "aircraft", SourceArray},
	TypeAirsquitter: {airsquitterMapping, "", SourceDirect},
	TypeOpenSky:     {canonicalMapping, "", SourceDirect},
	TypeSpacecraft:  {canonicalMapping, "", SourceDirect},
}

// KnownType reports whether a feeder type has a built-in mapping.
func KnownType(typ string) bool {
	_, ok := builtins[typ]
	return ok
}

// BuiltinMapping returns the mapping of a known feeder type.
func BuiltinMapping(typ string) (Mapping, bool) {
	b, ok := builtins[typ]
	if !ok {
		return Mapping{}, false
	}
	return b.mapping(), true
}

// Feeder is a configured upstream source: identity, endpoint, type and field mapping.
// A Feeder is immutable after construction.
type Feeder struct {
	name     string
	typ      string
	color    string
	endpoint string
	mapping  Mapping
	envelope string
	source   SourceStrategy
}

// New creates a feeder of a known type with the given mapping.
func New(name, typ, color, endpoint string, mapping Mapping) (*Feeder, error) {
	b, ok := builtins[typ]
	if !ok {
		return nil, fmt.Errorf("feeder %q: unknown type %q", name, typ)
	}
	if !mapping.HasIdentity() {
		return nil, fmt.Errorf("feeder %q: mapping must define hex, latitude and longitude", name)
	}
	return &Feeder{
		name:     name,
		typ:      typ,
		color:    color,
		endpoint: endpoint,
		mapping:  mapping,
		envelope: b.envelope,
		source:   b.source,
	}, nil
}

// Builtin creates a feeder that uses its type's built-in mapping unchanged.
// Used by the remote adapters, which have no configuration entry.
func Builtin(name, typ, color string) *Feeder {
	b, ok := builtins[typ]
	if !ok {
		panic(fmt.Sprintf("feeder: unknown builtin type %q", typ))
	}
	return &Feeder{
		name:     name,
		typ:      typ,
		color:    color,
		mapping:  b.mapping(),
		envelope: b.envelope,
		source:   b.source,
	}
}

// FromConfig builds a feeder from its configuration entry,
// layering mapping overrides over the type's built-in mapping.
func FromConfig(cfg config.FeederConfig) (*Feeder, error) {
	base, ok := BuiltinMapping(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("feeder %q: unknown type %q", cfg.Name, cfg.Type)
	}
	mapping, err := base.With(cfg.Mapping)
	if err != nil {
		return nil, fmt.Errorf("feeder %q: %w", cfg.Name, err)
	}
	return New(strings.TrimSpace(cfg.Name), cfg.Type, cfg.Color, cfg.Endpoint, mapping)
}

// FromConfigs builds every enabled feeder, in configured order.
func FromConfigs(cfgs []config.FeederConfig) ([]*Feeder, error) {
	out := make([]*Feeder, 0, len(cfgs))
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		f, err := FromConfig(c)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Name returns the feeder name.
func (f *Feeder) Name() string { return f.name }

// Type returns the feeder type tag.
func (f *Feeder) Type() string { return f.typ }

// Color returns the display color.
func (f *Feeder) Color() string { return f.color }

// Endpoint returns the fetch URL. It is never exposed to clients.
func (f *Feeder) Endpoint() string { return f.endpoint }

// Mapping returns the feeder's field mapping.
func (f *Feeder) Mapping() Mapping { return f.mapping }

// EnvelopeKey returns the JSON key holding the vehicle array; empty means a bare array.
func (f *Feeder) EnvelopeKey() string { return f.envelope }

// SourceStrategy returns how the source kind is derived for this feeder.
func (f *Feeder) SourceStrategy() SourceStrategy { return f.source }

// MarshalJSON exposes the public description of a feeder. The endpoint is omitted.
func (f *Feeder) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Color string `json:"color"`
	}{f.name, f.typ, f.color})
}
