package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
)

var site = coordinates.Geographic{Latitude: 53, Longitude: 10}

type fakeStates struct {
	mu     sync.Mutex
	calls  []orb.Bound
	result []adsb.Sample
	err    error
}

func (f *fakeStates) GetStates(_ context.Context, b orb.Bound) ([]adsb.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, b)
	return f.result, f.err
}

type pointCall struct{ lat, lon, radius float64 }

type fakePoint struct {
	calls  []pointCall
	result []adsb.Sample
}

func (f *fakePoint) GetAircraft(_ context.Context, lat, lon, radius float64) ([]adsb.Sample, error) {
	f.calls = append(f.calls, pointCall{lat, lon, radius})
	return f.result, nil
}

type fakeISS struct {
	calls int
	lat   float64
	lon   float64
	err   error
}

func (f *fakeISS) GetPosition(context.Context) (adsb.Sample, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return adsb.Sample{
		"hex": adsb.ISSHex, "latitude": f.lat, "longitude": f.lon,
		"altitude": 1312336.0, "speed": 14903.0, "track": 0.0,
		"onGround": false, "category": "B7", "type": "ISS",
	}, nil
}

func box(minLon, minLat, maxLon, maxLat float64) *orb.Bound {
	return &orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}

func openSkySample(hex string, lat, lon float64) adsb.Sample {
	return adsb.Sample{"hex": hex, "latitude": lat, "longitude": lon, "altitude": 30000.0, "source": "A"}
}

func newAircraftService(os StatesFetcher, al PointFetcher) *AircraftService {
	return NewAircraftService(AircraftConfig{
		Engine:        state.NewEngine(state.EngineConfig{Store: state.NewStore(state.NamespaceRemote)}),
		Normalizer:    adsb.NewNormalizer(site, nil),
		OpenSky:       os,
		AirplanesLive: al,
		Interval:      time.Hour,
		PurgeAfter:    10 * time.Minute,
	})
}

func TestTickServesLatestRequestOfOldestClient(t *testing.T) {
	states := &fakeStates{result: []adsb.Sample{openSkySample("abc123", 53.5, 10.5)}}
	s := newAircraftService(states, nil)

	s.Enqueue("10.0.0.1", box(9, 52, 11, 54), ProviderOpenSky)
	time.Sleep(time.Millisecond)
	s.Enqueue("10.0.0.2", box(0, 40, 1, 41), ProviderOpenSky)
	time.Sleep(time.Millisecond)
	s.Enqueue("10.0.0.1", box(8, 51, 12, 55), ProviderOpenSky)

	merged := s.Tick(context.Background())
	assert.Equal(t, 1, merged)
	require.Len(t, states.calls, 1)
	assert.Equal(t, *box(8, 51, 12, 55), states.calls[0])
	assert.Equal(t, 1, s.Pending(), "other client's request stays queued")

	rec, ok := s.Store().Get("abc123")
	require.True(t, ok)
	assert.Equal(t, []string{ProviderOpenSky}, rec.FeederList)
	assert.Equal(t, 30000, *rec.Altitude)
}

func TestTickEmptyQueueMakesNoCall(t *testing.T) {
	states := &fakeStates{}
	s := newAircraftService(states, nil)
	assert.Zero(t, s.Tick(context.Background()))
	assert.Empty(t, states.calls)
}

func TestInvalidRequestsDroppedWithoutCall(t *testing.T) {
	states := &fakeStates{}
	s := newAircraftService(states, nil)

	s.Enqueue("a", nil, ProviderOpenSky)
	s.Enqueue("b", box(9, 52, 11, 54), ProviderAirplanesLive) // not configured
	s.Enqueue("c", box(9, 52, 11, 54), "Nowhere")

	for i := 0; i < 3; i++ {
		s.Tick(context.Background())
	}
	assert.Empty(t, states.calls)
	assert.Zero(t, s.Pending())
}

func TestAirplanesLiveUsesBoxCenter(t *testing.T) {
	point := &fakePoint{result: []adsb.Sample{
		{"hex": "DEF456", "lat": 53.2, "lon": 10.2, "alt_baro": 12000.0, "type": "mlat"},
		{"hex": "nopos"},
	}}
	s := newAircraftService(nil, point)

	s.Enqueue("a", box(8, 50, 12, 56), ProviderAirplanesLive)
	assert.Equal(t, 1, s.Tick(context.Background()))

	require.Len(t, point.calls, 1)
	assert.Equal(t, pointCall{53, 10, 250}, point.calls[0])

	rec, ok := s.Store().Get("def456")
	require.True(t, ok)
	assert.Equal(t, []adsb.SourceEntry{{Feeder: ProviderAirplanesLive, Kind: adsb.SourceMLAT}}, rec.SourceList)
}

func TestUpstreamErrorKeepsStore(t *testing.T) {
	states := &fakeStates{err: &adsb.RateLimitError{StatusCode: 429, RetryAfter: time.Second}}
	s := newAircraftService(states, nil)
	s.Enqueue("a", box(9, 52, 11, 54), ProviderOpenSky)

	assert.Zero(t, s.Tick(context.Background()))
	assert.Len(t, states.calls, 1)
	assert.Zero(t, s.Store().Len())
}

func TestRemoteRecordsPurgedWhenIdle(t *testing.T) {
	states := &fakeStates{result: []adsb.Sample{openSkySample("abc123", 53.5, 10.5)}}
	s := newAircraftService(states, nil)
	s.Enqueue("a", box(9, 52, 11, 54), ProviderOpenSky)
	s.Tick(context.Background())
	require.Equal(t, 1, s.Store().Len())

	s.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	assert.Zero(t, s.Purge())

	s.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	assert.Equal(t, 1, s.Purge())
	assert.Zero(t, s.Store().Len())
}

func TestCallStatus(t *testing.T) {
	assert.Equal(t, "ok", callStatus(nil))
	assert.Equal(t, "error", callStatus(errors.New("boom")))
	assert.Equal(t, "rate_limited", callStatus(&adsb.RateLimitError{StatusCode: 429}))
}

func newSpacecraftService(iss PositionFetcher) *SpacecraftService {
	engine := state.NewEngine(state.EngineConfig{
		Store:               state.NewStore(state.NamespaceSpacecraft),
		Trails:              trail.NewRecorder(site, nil),
		CaptureRemoteTrails: true,
	})
	return NewSpacecraftService(SpacecraftConfig{
		Engine:         engine,
		Normalizer:     adsb.NewNormalizer(site, nil),
		ISS:            iss,
		Interval:       time.Hour,
		TrailRetention: 24 * time.Hour,
	})
}

func TestSpacecraftPolledOnlyOnDemand(t *testing.T) {
	iss := &fakeISS{lat: 51.5, lon: -0.1}
	s := newSpacecraftService(iss)

	assert.False(t, s.Tick(context.Background()))
	assert.Zero(t, iss.calls)

	s.Enqueue("a", box(-10, 40, 10, 60))
	s.Enqueue("b", box(-10, 40, 10, 60))
	assert.True(t, s.Tick(context.Background()))
	assert.Equal(t, 1, iss.calls)

	assert.False(t, s.Tick(context.Background()), "all clients answered by one call")
	assert.Equal(t, 1, iss.calls)

	rec, ok := s.Store().Get("iss")
	require.True(t, ok)
	assert.Equal(t, "ISS", rec.Type)
	assert.Equal(t, "B7", rec.Category)
	assert.Equal(t, 1312336, *rec.Altitude)
	assert.Equal(t, []string{"Open-Notify"}, rec.FeederList)
}

func TestSpacecraftCapturesTrail(t *testing.T) {
	iss := &fakeISS{lat: 10, lon: 179.5}
	s := newSpacecraftService(iss)

	s.Enqueue("a", box(-180, -90, 180, 90))
	s.Tick(context.Background())
	iss.lon = -179.5
	s.Enqueue("a", box(-180, -90, 180, 90))
	s.Tick(context.Background())

	points := s.cfg.Engine.Trails().ForHex("iss", "", time.Time{})
	require.Len(t, points, 2)
	assert.Len(t, trail.FixAntimeridian(points), 4)
}

func TestSpacecraftFailureKeepsQueue(t *testing.T) {
	iss := &fakeISS{err: errors.New("unreachable")}
	s := newSpacecraftService(iss)
	s.Enqueue("a", box(-10, 40, 10, 60))
	s.Enqueue("b", box(-10, 40, 10, 60))

	assert.False(t, s.Tick(context.Background()))
	assert.Equal(t, 1, s.queue.Len())
}
