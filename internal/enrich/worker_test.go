package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/flightaware"
	"github.com/unklstewy/adsb-feedhub/pkg/planespotters"
)

type fakePhotos struct {
	calls atomic.Int32
	fails int32
	photo *planespotters.Photo
}

func (f *fakePhotos) PhotoByHex(_ context.Context, hex string) (*planespotters.Photo, error) {
	n := f.calls.Add(1)
	if n <= f.fails {
		return nil, errors.New("temporary failure")
	}
	return f.photo, nil
}

type fakeRoutes struct {
	callsigns []string
	route     *flightaware.Route
}

func (f *fakeRoutes) RouteByCallsign(_ context.Context, callsign string) (*flightaware.Route, error) {
	f.callsigns = append(f.callsigns, callsign)
	return f.route, nil
}

func fastRetry() adsb.RetryConfig {
	return adsb.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
}

func storeWith(hex string) *state.Store {
	s := state.NewStore(state.NamespaceLocal)
	s.Put(&adsb.Record{Hex: hex, FlightID: "DLH4AB", Origin: "EDDH"})
	return s
}

func TestPhotoLookupUpdatesRecord(t *testing.T) {
	photos := &fakePhotos{fails: 1, photo: &planespotters.Photo{
		DirectURL: "https://t.plnspttrs.net/1.jpg", WebsiteURL: "https://www.planespotters.net/photo/1", Photographer: "J. Doe",
	}}
	w := New(Config{Photos: photos, Retry: fastRetry()})
	store := storeWith("3c6444")

	w.Created(store, &adsb.Record{Hex: "3c6444"})
	require.Equal(t, 1, w.Pending())
	w.process(context.Background(), <-w.jobs)

	rec, _ := store.Get("3c6444")
	assert.Equal(t, "https://t.plnspttrs.net/1.jpg", rec.URLPhotoDirect)
	assert.Equal(t, "https://www.planespotters.net/photo/1", rec.URLPhotoWebsite)
	assert.Equal(t, "J. Doe", rec.PhotoPhotographer)
	assert.Equal(t, int32(2), photos.calls.Load())
}

func TestRouteLookupKeepsFeederValues(t *testing.T) {
	routes := &fakeRoutes{route: &flightaware.Route{
		Origin: "EDDM", Destination: "EGLL", Operator: "DLH", AircraftType: "A320",
	}}
	w := New(Config{Routes: routes, Retry: fastRetry()})
	store := storeWith("3c6444")

	w.FlightIDAssigned(store, &adsb.Record{Hex: "3c6444", FlightID: "DLH4AB"})
	w.process(context.Background(), <-w.jobs)

	assert.Equal(t, []string{"DLH4AB"}, routes.callsigns)
	rec, _ := store.Get("3c6444")
	assert.Equal(t, "EDDH", rec.Origin)
	assert.Equal(t, "EGLL", rec.Destination)
	assert.Equal(t, "DLH", rec.Operator)
	assert.Equal(t, "A320", rec.FullType)
}

func TestMissingLookupsAreSkipped(t *testing.T) {
	w := New(Config{})
	store := storeWith("3c6444")

	w.Created(store, &adsb.Record{Hex: "3c6444"})
	w.FlightIDAssigned(store, &adsb.Record{Hex: "3c6444", FlightID: "DLH4AB"})
	assert.Zero(t, w.Pending())
}

func TestSubmitNeverBlocks(t *testing.T) {
	w := New(Config{Photos: &fakePhotos{}, QueueSize: 2})
	store := storeWith("3c6444")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.Created(store, &adsb.Record{Hex: "3c6444"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Created blocked on a full queue")
	}
	assert.Equal(t, 2, w.Pending())
}

func TestLookupForDeletedRecord(t *testing.T) {
	photos := &fakePhotos{photo: &planespotters.Photo{DirectURL: "x"}}
	w := New(Config{Photos: photos, Retry: fastRetry()})
	store := storeWith("3c6444")

	w.Created(store, &adsb.Record{Hex: "3c6444"})
	store.Delete("3c6444")
	w.process(context.Background(), <-w.jobs)

	_, ok := store.Get("3c6444")
	assert.False(t, ok)
}

func TestEngineTriggersWorker(t *testing.T) {
	photos := &fakePhotos{photo: &planespotters.Photo{DirectURL: "x"}}
	routes := &fakeRoutes{}
	w := New(Config{Photos: photos, Routes: routes, Retry: fastRetry()})
	engine := state.NewEngine(state.EngineConfig{Store: state.NewStore(state.NamespaceLocal), Enricher: w})

	lat, lon := 53.1, 10.1
	engine.Apply(&adsb.Record{Hex: "3c6444", Latitude: &lat, Longitude: &lon}, "north", true, false)
	engine.Apply(&adsb.Record{Hex: "3c6444", Latitude: &lat, Longitude: &lon, FlightID: "DLH4AB"}, "north", true, false)
	engine.Apply(&adsb.Record{Hex: "3c6444", Latitude: &lat, Longitude: &lon, FlightID: "DLH4AB"}, "north", true, false)

	require.Equal(t, 2, w.Pending())
	first, second := <-w.jobs, <-w.jobs
	assert.Equal(t, lookupPhoto, first.kind)
	assert.Equal(t, lookupRoute, second.kind)
	assert.Equal(t, "DLH4AB", second.key)
}

func TestRunStopsOnCancel(t *testing.T) {
	w := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx), context.Canceled)
}
