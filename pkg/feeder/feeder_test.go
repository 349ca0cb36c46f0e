package feeder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/adsb-feedhub/pkg/config"
)

func TestParseField(t *testing.T) {
	for f := Field(0); f < fieldCount; f++ {
		parsed, ok := ParseField(f.String())
		require.True(t, ok, f.String())
		assert.Equal(t, f, parsed)
	}

	_, ok := ParseField("nope")
	assert.False(t, ok)
}

func TestMappingWith(t *testing.T) {
	base, ok := BuiltinMapping(TypeReadsb)
	require.True(t, ok)

	m, err := base.With(map[string]string{"squawk": "", "registration": "reg"})
	require.NoError(t, err)

	assert.False(t, m.Has(Squawk))
	key, ok := m.Key(Registration)
	assert.True(t, ok)
	assert.Equal(t, "reg", key)

	// Base mapping untouched
	assert.True(t, base.Has(Squawk))
	key, _ = base.Key(Registration)
	assert.Equal(t, "r", key)

	_, err = base.With(map[string]string{"bogus": "x"})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	t.Run("Known type", func(t *testing.T) {
		f, err := FromConfig(config.FeederConfig{
			Name: " north ", Type: TypeReadsb, Color: "red", Endpoint: "http://10.0.0.2/data/aircraft.json",
		})
		require.NoError(t, err)
		assert.Equal(t, "north", f.Name())
		assert.Equal(t, "aircraft", f.EnvelopeKey())
		assert.Equal(t, SourceTypeString, f.SourceStrategy())
	})

	t.Run("Bare array type", func(t *testing.T) {
		f, err := FromConfig(config.FeederConfig{Name: "sq", Type: TypeAirsquitter, Endpoint: "http://x"})
		require.NoError(t, err)
		assert.Empty(t, f.EnvelopeKey())
		assert.Equal(t, SourceDirect, f.SourceStrategy())
	})

	t.Run("Unknown type", func(t *testing.T) {
		_, err := FromConfig(config.FeederConfig{Name: "x", Type: "sbs", Endpoint: "http://x"})
		assert.ErrorContains(t, err, "unknown type")
	})

	t.Run("Override removes identity field", func(t *testing.T) {
		_, err := FromConfig(config.FeederConfig{
			Name: "x", Type: TypeReadsb, Endpoint: "http://x", Mapping: map[string]string{"hex": ""},
		})
		assert.ErrorContains(t, err, "hex, latitude and longitude")
	})
}

func TestFromConfigsSkipsDisabled(t *testing.T) {
	feeders, err := FromConfigs([]config.FeederConfig{
		{Name: "a", Type: TypeReadsb, Endpoint: "http://a", Enabled: true},
		{Name: "b", Type: TypeReadsb, Endpoint: "http://b", Enabled: false},
		{Name: "c", Type: TypeFR24, Endpoint: "http://c", Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, feeders, 2)
	assert.Equal(t, "a", feeders[0].Name())
	assert.Equal(t, "c", feeders[1].Name())
}

func TestMarshalHidesEndpoint(t *testing.T) {
	f, err := New("north", TypeReadsb, "red", "http://secret.local/aircraft.json", readsbMapping())
	require.NoError(t, err)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"north","type":"readsb","color":"red"}`, string(data))
	assert.NotContains(t, string(data), "secret")
}

func TestBuiltinPanicsOnUnknownType(t *testing.T) {
	assert.Panics(t, func() { Builtin("x", "nope", "") })
	assert.NotPanics(t, func() { Builtin("Opensky", TypeOpenSky, "yellow") })
}
