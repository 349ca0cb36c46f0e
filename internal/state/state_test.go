package state

import (
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
)

var site = coordinates.Geographic{Latitude: 53, Longitude: 10}

type recordingEnricher struct {
	mu        sync.Mutex
	created   []string
	flightIDs []string
}

func (r *recordingEnricher) Created(_ *Store, rec *adsb.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, rec.Hex)
}

func (r *recordingEnricher) FlightIDAssigned(_ *Store, rec *adsb.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flightIDs = append(r.flightIDs, rec.FlightID)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newEngine(t *testing.T, enricher Enricher) (*Engine, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(EngineConfig{
		Store:    NewStore(NamespaceLocal),
		Trails:   trail.NewRecorder(site, nil),
		Enricher: enricher,
	})
	e.now = c.now
	return e, c
}

func normalize(t *testing.T, s adsb.Sample, feederName string) *adsb.Record {
	t.Helper()
	m, ok := feeder.BuiltinMapping(feeder.TypeReadsb)
	require.True(t, ok)
	f, err := feeder.New(feederName, feeder.TypeReadsb, "red", "http://localhost", m)
	require.NoError(t, err)

	rec, ok := adsb.NewNormalizer(site, nil).Normalize(s, f)
	require.True(t, ok)
	return rec
}

func TestEndToEndTwoTicks(t *testing.T) {
	enricher := &recordingEnricher{}
	e, c := newEngine(t, enricher)

	first := normalize(t, adsb.Sample{"hex": "abc123", "lat": 53.0, "lon": 10.0, "alt_baro": 1000.0, "baro_rate": 200.0}, "north")
	rec, created := e.Apply(first, "north", true, false)
	require.True(t, created)
	assert.Equal(t, adsb.ClimbClimbing, rec.ClimbState)
	assert.Nil(t, rec.Track)

	c.t = c.t.Add(2 * time.Second)
	second := normalize(t, adsb.Sample{"hex": "abc123", "lat": 53.01, "lon": 10.01}, "north")
	rec, created = e.Apply(second, "north", true, true)
	require.False(t, created)

	require.NotNil(t, rec.Track)
	want := int(coordinates.Bearing(coordinates.Geographic{Latitude: 53, Longitude: 10}, coordinates.Geographic{Latitude: 53.01, Longitude: 10.01}))
	assert.Equal(t, want, *rec.Track)
	assert.Equal(t, []string{"north"}, rec.FeederList)
	assert.False(t, rec.Reentered)
	assert.Len(t, e.Trails().ForHex("abc123", "", time.Time{}), 2)
	assert.Equal(t, []string{"abc123"}, enricher.created)
}

func TestMergeIdempotent(t *testing.T) {
	e, _ := newEngine(t, nil)
	sample := adsb.Sample{"hex": "abc123", "lat": 53.0, "lon": 10.0, "alt_baro": 1000.0, "type": "adsb_icao", "flight": "DLH1"}

	a, _ := e.Apply(normalize(t, sample, "north"), "north", true, false)
	b, _ := e.Apply(normalize(t, sample, "north"), "north", true, false)

	assert.Equal(t, a, b)
	assert.Equal(t, []string{"north"}, b.FeederList)
	assert.Equal(t, []adsb.SourceEntry{{Feeder: "north", Kind: adsb.SourceADSB}}, b.SourceList)
}

func TestHexCaseInsensitive(t *testing.T) {
	e, _ := newEngine(t, nil)

	e.Apply(normalize(t, adsb.Sample{"hex": "3D4920", "lat": 53.0, "lon": 10.0}, "north"), "north", true, false)
	e.Apply(normalize(t, adsb.Sample{"hex": "3d4920", "lat": 53.1, "lon": 10.0}, "south"), "south", true, false)

	assert.Equal(t, 1, e.Store().Len())
	rec, ok := e.Store().Get("3D4920")
	require.True(t, ok)
	assert.Equal(t, []string{"north", "south"}, rec.FeederList)
}

func TestMergeFieldRules(t *testing.T) {
	enricher := &recordingEnricher{}
	e, _ := newEngine(t, enricher)

	e.Apply(normalize(t, adsb.Sample{"hex": "abc123", "lat": 53.0, "lon": 10.0, "r": "D-AIBL", "squawk": "1000", "category": "A3"}, "north"), "north", true, false)
	assert.Empty(t, enricher.flightIDs)

	rec, _ := e.Apply(normalize(t, adsb.Sample{
		"hex": "abc123", "lat": 53.0, "lon": 10.0, "track": 90.0,
		"r": "D-XXXX", "flight": "DLH4AB", "squawk": "7000", "category": "",
	}, "north"), "north", true, false)

	assert.Equal(t, "D-AIBL", rec.Registration, "registration keeps first writer")
	assert.Equal(t, "DLH4AB", rec.FlightID)
	assert.Equal(t, "7000", rec.Squawk)
	assert.Equal(t, "A3", rec.Category, "empty values never clear perishable fields")
	assert.Equal(t, 90, *rec.Track)

	rec, _ = e.Apply(normalize(t, adsb.Sample{"hex": "abc123", "lat": 53.0, "lon": 10.0, "flight": "OTHER"}, "north"), "north", true, false)
	assert.Equal(t, "DLH4AB", rec.FlightID)
	assert.Equal(t, 90, *rec.Track, "track kept while position is unchanged")
	assert.Equal(t, []string{"DLH4AB"}, enricher.flightIDs, "route lookup fires once")
}

func TestReentered(t *testing.T) {
	e, c := newEngine(t, nil)
	s := adsb.Sample{"hex": "abc123", "lat": 53.0, "lon": 10.0}

	e.Apply(normalize(t, s, "north"), "north", true, false)

	c.t = c.t.Add(2 * time.Second)
	rec, _ := e.Apply(normalize(t, s, "north"), "north", true, false)
	assert.False(t, rec.Reentered)

	c.t = c.t.Add(10 * time.Second)
	rec, _ = e.Apply(normalize(t, s, "north"), "north", true, false)
	assert.True(t, rec.Reentered)

	points := e.Trails().ForHex("abc123", "north", time.Time{})
	require.Len(t, points, 3)
	assert.True(t, points[2].Reentered)

	rec, _ = e.Apply(normalize(t, s, "south"), "south", true, false)
	assert.False(t, rec.Reentered, "first report of a feeder is not a reentry")
}

func TestRemoteTrailCapture(t *testing.T) {
	for _, capture := range []bool{false, true} {
		recorder := trail.NewRecorder(site, nil)
		e := NewEngine(EngineConfig{Store: NewStore(NamespaceRemote), Trails: recorder, CaptureRemoteTrails: capture})

		rec := normalize(t, adsb.Sample{"hex": "abc123", "lat": 53.0, "lon": 10.0}, "Opensky")
		e.Apply(rec, "Opensky", false, false)
		e.Apply(rec, "Opensky", false, false)

		want := 0
		if capture {
			want = 2
		}
		assert.Equal(t, want, recorder.Len())
	}
}

func TestStoreCopyOnWrite(t *testing.T) {
	s := NewStore(NamespaceLocal)
	lat, lon := 53.0, 10.0
	s.Put(&adsb.Record{Hex: "ABC123", Latitude: &lat, Longitude: &lon, FeederList: []string{"north"}})

	got, ok := s.Get("abc123")
	require.True(t, ok)
	got.FeederList[0] = "mutated"

	again, _ := s.Get("abc123")
	assert.Equal(t, "north", again.FeederList[0])

	assert.True(t, s.Update("ABC123", func(r *adsb.Record) { r.Operator = "DLH" }))
	again, _ = s.Get("abc123")
	assert.Equal(t, "DLH", again.Operator)
	assert.False(t, s.Update("missing", func(*adsb.Record) {}))

	inside := s.InBounds(orb.Bound{Min: orb.Point{9, 52}, Max: orb.Point{11, 54}})
	assert.Len(t, inside, 1)
	assert.Empty(t, s.InBounds(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}))

	assert.True(t, s.Delete("abc123"))
	assert.False(t, s.Delete("abc123"))
	assert.Zero(t, s.Len())
}

func TestStoreIdleSince(t *testing.T) {
	s := NewStore(NamespaceLocal)
	now := time.Now()
	s.Put(&adsb.Record{Hex: "old", LastUpdate: now.Add(-2 * time.Hour)})
	s.Put(&adsb.Record{Hex: "new", LastUpdate: now})

	idle := s.IdleSince(now.Add(-time.Hour))
	require.Len(t, idle, 1)
	assert.Equal(t, "old", idle[0].Hex)
}

func TestStoreConcurrentReaders(t *testing.T) {
	e, _ := newEngine(t, nil)
	samples := make([]*adsb.Record, 200)
	for i := range samples {
		samples[i] = normalize(t, adsb.Sample{"hex": "abc123", "lat": 53.0 + float64(i)/1000, "lon": 10.0}, "north")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, s := range samples {
			e.Apply(s, "north", true, i%2 == 0)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				for _, rec := range e.Store().Snapshot() {
					_ = len(rec.FeederList)
				}
			}
		}()
	}
	wg.Wait()
}

func TestStoreUpsert(t *testing.T) {
	s := NewStore(NamespaceLocal)

	s.Upsert("ABC123", func(cur *adsb.Record) *adsb.Record {
		assert.Nil(t, cur)
		return &adsb.Record{Hex: "ABC123", Operator: "DLH"}
	})
	s.Upsert("abc123", func(cur *adsb.Record) *adsb.Record {
		require.NotNil(t, cur)
		assert.Equal(t, "DLH", cur.Operator)
		cur.Registration = "D-AIBL"
		return cur
	})

	got, ok := s.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123", got.Hex)
	assert.Equal(t, "DLH", got.Operator)
	assert.Equal(t, "D-AIBL", got.Registration)
	assert.Equal(t, 1, s.Len())
}

func TestApplyKeepsConcurrentUpdates(t *testing.T) {
	e, _ := newEngine(t, nil)
	e.Apply(normalize(t, adsb.Sample{"hex": "abc123", "lat": 53.0, "lon": 10.0}, "north"), "north", true, true)

	samples := make([]*adsb.Record, 500)
	for i := range samples {
		samples[i] = normalize(t, adsb.Sample{"hex": "abc123", "lat": 53.0 + float64(i)/1000, "lon": 10.0}, "north")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, s := range samples {
			e.Apply(s, "north", true, false)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.Store().Update("abc123", func(r *adsb.Record) {
				r.URLPhotoDirect = "https://example.com/abc123.jpg"
			})
		}
	}()
	wg.Wait()

	rec, ok := e.Store().Get("abc123")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/abc123.jpg", rec.URLPhotoDirect)
	assert.InDelta(t, 53.499, *rec.Latitude, 1e-9)
}
