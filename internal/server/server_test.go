package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/unklstewy/adsb-feedhub/internal/auth"
	"github.com/unklstewy/adsb-feedhub/internal/metrics"
	"github.com/unklstewy/adsb-feedhub/internal/poller"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
)

var site = coordinates.Geographic{Latitude: 53, Longitude: 10}

type fakeRemote struct {
	store    *state.Store
	requests []string
	bounds   []*orb.Bound
}

func (f *fakeRemote) Enqueue(client string, bounds *orb.Bound, provider string) {
	f.requests = append(f.requests, client+"|"+provider)
	f.bounds = append(f.bounds, bounds)
}
func (f *fakeRemote) Store() *state.Store { return f.store }
func (f *fakeRemote) Pending() int        { return len(f.requests) }

type fakeSpacecraft struct {
	store   *state.Store
	clients []string
}

func (f *fakeSpacecraft) Enqueue(client string, _ *orb.Bound) { f.clients = append(f.clients, client) }
func (f *fakeSpacecraft) Store() *state.Store                 { return f.store }

type fakeHistory struct {
	points []trail.Point
	err    error
}

func (f *fakeHistory) LatestTrail(context.Context, string) ([]trail.Point, error) {
	return f.points, f.err
}

type fakeArchiver struct{ runs int }

func (f *fakeArchiver) Archive(context.Context) poller.ArchiveResult {
	f.runs++
	return poller.ArchiveResult{Archived: 3, Failed: 1}
}

type fixture struct {
	server     *Server
	local      *state.Store
	trails     *trail.Recorder
	outline    *trail.Outline
	remote     *fakeRemote
	spacecraft *fakeSpacecraft
	history    *fakeHistory
	archiver   *fakeArchiver
	auth       *auth.Service
}

func rec(hex string, lat, lon float64, feeders ...string) *adsb.Record {
	return &adsb.Record{Hex: hex, Latitude: &lat, Longitude: &lon, FeederList: feeders}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		local:      state.NewStore(state.NamespaceLocal),
		outline:    trail.NewOutline(0),
		remote:     &fakeRemote{store: state.NewStore(state.NamespaceRemote)},
		spacecraft: &fakeSpacecraft{store: state.NewStore(state.NamespaceSpacecraft)},
		history:    &fakeHistory{},
		archiver:   &fakeArchiver{},
	}
	f.trails = trail.NewRecorder(site, f.outline)

	f.local.Put(rec("aaa111", 53.1, 10.1, "north"))
	f.local.Put(rec("bbb222", 53.2, 10.2, "south"))
	f.local.Put(rec("ccc333", 40.0, 0.0, "north", "south"))
	f.remote.store.Put(rec("bbb222", 53.2, 10.2, "Opensky"))
	f.remote.store.Put(rec("ddd444", 53.3, 10.3, "Opensky"))

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	f.auth = auth.NewService(auth.Config{AdminUsername: "admin", AdminPasswordHash: string(hash), JWTSecret: "secret"})

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.FetchError("north")

	north, err := feeder.New("north", feeder.TypeReadsb, "red", "http://10.0.0.2/data/aircraft.json", mustMapping(t, feeder.TypeReadsb))
	require.NoError(t, err)
	south, err := feeder.New("south", feeder.TypeReadsb, "blue", "http://10.0.0.3/data/aircraft.json", mustMapping(t, feeder.TypeReadsb))
	require.NoError(t, err)

	f.server = New(Config{
		Local:      f.local,
		Trails:     f.trails,
		Outline:    f.outline,
		Feeders:    []*feeder.Feeder{north, south},
		Remote:     f.remote,
		Spacecraft: f.spacecraft,
		History:    f.history,
		Archiver:   f.archiver,
		Auth:       f.auth,
		Health:     func(context.Context) bool { return true },
		Gatherer:   reg,
	})
	return f
}

func mustMapping(t *testing.T, typ string) feeder.Mapping {
	t.Helper()
	m, ok := feeder.BuiltinMapping(typ)
	require.True(t, ok)
	return m
}

func (f *fixture) do(t *testing.T, method, target string, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = "192.0.2.7:54321"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

type aircraftResponse struct {
	Aircraft []adsb.Record `json:"aircraft"`
	Count    int           `json:"count"`
}

func hexes(recs []adsb.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Hex
	}
	return out
}

func TestGetAircraft(t *testing.T) {
	f := newFixture(t)

	t.Run("All local records", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/aircraft", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var resp aircraftResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, []string{"aaa111", "bbb222", "ccc333"}, hexes(resp.Aircraft))
		assert.Equal(t, 3, resp.Count)
	})

	t.Run("Bounding box and feeder filter", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/aircraft?lamin=52&lomin=9&lamax=54&lomax=11&feeders=north", "")
		var resp aircraftResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, []string{"aaa111"}, hexes(resp.Aircraft))
		assert.Empty(t, f.remote.requests, "no remote requested")
	})

	t.Run("Remote merge keeps local duplicate", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/aircraft?lamin=52&lomin=9&lamax=54&lomax=11&remote=Opensky", "")
		var resp aircraftResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, []string{"aaa111", "bbb222", "ddd444"}, hexes(resp.Aircraft))
		assert.Equal(t, []string{"south"}, resp.Aircraft[1].FeederList)

		require.Len(t, f.remote.requests, 1)
		assert.Equal(t, "192.0.2.7|Opensky", f.remote.requests[0])
		require.NotNil(t, f.remote.bounds[0])
		assert.Equal(t, orb.Point{9, 52}, f.remote.bounds[0].Min)
	})

	t.Run("Incomplete box still enqueued", func(t *testing.T) {
		f.do(t, "GET", "/api/v1/aircraft?lamin=52&remote=Airplanes-Live", "")
		assert.Nil(t, f.remote.bounds[len(f.remote.bounds)-1])
	})

	t.Run("Bad coordinate", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/aircraft?lamin=north&lomin=9&lamax=54&lomax=11", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetSpacecraft(t *testing.T) {
	f := newFixture(t)
	lat, lon := 51.5, -0.1
	f.spacecraft.store.Put(&adsb.Record{Hex: "iss", Type: "ISS", Latitude: &lat, Longitude: &lon})

	rr := f.do(t, "GET", "/api/v1/spacecraft?lamin=-90&lomin=-180&lamax=90&lomax=180", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Spacecraft []adsb.Record `json:"spacecraft"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Spacecraft, 1)
	assert.Equal(t, "ISS", resp.Spacecraft[0].Type)
	assert.Equal(t, []string{"192.0.2.7"}, f.spacecraft.clients)
}

type trailResponse struct {
	Hex   string        `json:"hex"`
	Trail []trail.Point `json:"trail"`
}

func TestGetTrail(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.trails.Add(rec("aaa111", 10, 179.5), "north", now.Add(-2*time.Minute))
	f.trails.Add(rec("aaa111", 10, -179.5), "north", now.Add(-time.Minute))
	f.trails.Add(rec("aaa111", 10, -179.0), "south", now.Add(-time.Minute))
	f.trails.Add(rec("aaa111", 11, 179.0), "north", now.Add(-3*time.Hour))

	t.Run("Live trail fixed at the antimeridian", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/trail/AAA111?feeder=north", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var resp trailResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "aaa111", resp.Hex)
		require.Len(t, resp.Trail, 4)
		assert.Equal(t, 180.0, resp.Trail[1].Longitude)
		assert.Equal(t, -180.0, resp.Trail[2].Longitude)
	})

	t.Run("All feeders", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/trail/aaa111", "")
		var resp trailResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Len(t, resp.Trail, 5)
	})

	t.Run("Unknown hex", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/trail/ffffff", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"trail":[]`)
	})

	t.Run("History", func(t *testing.T) {
		f.history.points = []trail.Point{
			{Hex: "aaa111", Longitude: 10, Latitude: 53, Feeder: "north", Timestamp: now},
			{Hex: "aaa111", Longitude: 10.1, Latitude: 53, Feeder: "south", Timestamp: now},
		}
		rr := f.do(t, "GET", "/api/v1/trail/aaa111?history=true&feeder=south", "")
		var resp trailResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Trail, 1)
		assert.Equal(t, "south", resp.Trail[0].Feeder)
	})

	t.Run("History failure", func(t *testing.T) {
		f.history.err = errors.New("connection refused")
		rr := f.do(t, "GET", "/api/v1/trail/aaa111?history=true", "")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		f.history.err = nil
	})
}

func seedOutline(f *fixture) {
	now := time.Now()
	for i, bearing := range []int{0, 120, 240} {
		d := float64(100 + i)
		f.outline.AddTrailToOutlineMapIfNecessary(trail.Point{
			Hex: "aaa111", Latitude: 53 + float64(i)/10, Longitude: 10 + float64(i)/10,
			Distance: &d, Bearing: bearing, Timestamp: now, Feeder: "north",
		}, "north")
	}
}

func TestGetOutline(t *testing.T) {
	f := newFixture(t)
	seedOutline(f)

	t.Run("JSON points per feeder", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/outline", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Outline map[string][]trail.Point `json:"outline"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Len(t, resp.Outline["north"], 3)
		assert.Empty(t, resp.Outline["south"])
	})

	t.Run("GeoJSON", func(t *testing.T) {
		rr := f.do(t, "GET", "/api/v1/outline?feeders=north", "", "Accept", "application/geo+json")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/geo+json", rr.Header().Get("Content-Type"))

		fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
		require.NoError(t, err)
		require.Len(t, fc.Features, 1)
		assert.Equal(t, "north", fc.Features[0].Properties["feeder"])
		poly, ok := fc.Features[0].Geometry.(orb.Polygon)
		require.True(t, ok)
		assert.Len(t, poly[0], 4)
	})
}

func TestGetFeedersHidesEndpoints(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "GET", "/api/v1/feeders", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"name":"north","type":"readsb","color":"red"},{"name":"south","type":"readsb","color":"blue"}]`, rr.Body.String())
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "POST", "/api/v1/admin/archive", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, "POST", "/api/v1/auth/login", `{"username":"admin","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, "POST", "/api/v1/auth/login", `{"username":"admin","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	rr = f.do(t, "POST", "/api/v1/admin/archive", "", "Authorization", "Bearer "+login.Token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"archived":3,"failed":1}`, rr.Body.String())
	assert.Equal(t, 1, f.archiver.runs)

	seedOutline(f)
	rr = f.do(t, "GET", "/api/v1/admin/stats", "", "Authorization", "Bearer "+login.Token)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3.0, stats["local_records"])
	assert.Equal(t, 2.0, stats["remote_records"])
	assert.Equal(t, map[string]any{"north": 3.0}, stats["outline_points"])
}

func TestLoginBadBody(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "POST", "/api/v1/auth/login", `{`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "GET", "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"database":"ok"`)

	rr = f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `feedhub_feeder_fetch_errors_total{feeder="north"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "OPTIONS", "/api/v1/aircraft", "",
		"Origin", "https://map.example.org",
		"Access-Control-Request-Method", "GET")
	assert.NotEmpty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "GET")
}
