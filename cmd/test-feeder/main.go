package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/unklstewy/adsb-feedhub/internal/poller"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/config"
	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
)

// main fetches one configured feeder once and prints the normalized records,
// to check a feeder's endpoint and field mapping without starting the hub.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	name := flag.String("feeder", "", "Feeder name (default: first configured feeder)")
	limit := flag.Int("limit", 10, "Maximum number of records to print")
	flag.Parse()

	log.Println("Feeder Test")
	log.Println("=====================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fc, ok := pickFeeder(cfg.Feeders, *name)
	if !ok {
		log.Fatalf("Feeder %q not found in %s", *name, *configPath)
	}
	f, err := feeder.FromConfig(fc)
	if err != nil {
		log.Fatalf("Invalid feeder: %v", err)
	}

	site := coordinates.Geographic{Latitude: cfg.Site.Latitude, Longitude: cfg.Site.Longitude}
	log.Printf("Feeder:   %s (%s)", f.Name(), f.Type())
	log.Printf("Endpoint: %s", f.Endpoint())
	log.Printf("Site:     %.4f, %.4f", site.Latitude, site.Longitude)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	engine := state.NewEngine(state.EngineConfig{Store: state.NewStore(state.NamespaceLocal), Logger: logger})

	p := poller.New(poller.Config{
		Targets:    []poller.Target{{Feeder: f, Timeout: fc.Timeout()}},
		Engine:     engine,
		Normalizer: adsb.NewNormalizer(site, nil),
		Archiver:   poller.DiscardArchiver{},
		Logger:     logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), fc.Timeout()+5*time.Second)
	defer cancel()

	start := time.Now()
	stats := p.Tick(ctx)
	if stats.Failed > 0 {
		log.Fatalf("✗ Fetch failed after %v", time.Since(start).Round(time.Millisecond))
	}

	log.Printf("✓ Fetched in %v: %d merged, %d rejected",
		time.Since(start).Round(time.Millisecond), stats.Merged, stats.Rejected)
	log.Println("=====================================")

	records := engine.Store().Snapshot()
	slices.SortFunc(records, func(a, b *adsb.Record) int {
		return compareDistance(a.Distance, b.Distance)
	})

	for i, rec := range records {
		if i >= *limit {
			log.Printf("\n... and %d more aircraft", len(records)-*limit)
			break
		}
		printRecord(i+1, rec, site)
	}

	log.Println("\n=====================================")
	log.Println("Test complete!")
}

func pickFeeder(feeders []config.FeederConfig, name string) (config.FeederConfig, bool) {
	for _, f := range feeders {
		if name == "" || strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return config.FeederConfig{}, false
}

func compareDistance(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func printRecord(n int, rec *adsb.Record, site coordinates.Geographic) {
	log.Printf("\nAircraft #%d:", n)
	log.Printf("  Hex:      %s", rec.Hex)
	if rec.FlightID != "" {
		log.Printf("  Flight:   %s", rec.FlightID)
	}
	if rec.Registration != "" || rec.Type != "" {
		log.Printf("  Airframe: %s %s", rec.Registration, rec.Type)
	}
	if pos, ok := rec.Position(); ok {
		log.Printf("  Position: %.4f, %.4f", pos.Latitude, pos.Longitude)
		log.Printf("  Bearing:  %.0f° %s", coordinates.Bearing(site, pos), azimuthToCardinal(coordinates.Bearing(site, pos)))
	}
	if rec.Distance != nil {
		log.Printf("  Distance: %.1f km", *rec.Distance)
	}
	if rec.Altitude != nil {
		log.Printf("  Altitude: %d ft (%s)", *rec.Altitude, rec.ClimbState)
	}
	if rec.Speed != nil {
		log.Printf("  Speed:    %d knots", *rec.Speed)
	}
	if rec.Track != nil {
		log.Printf("  Track:    %d°", *rec.Track)
	}
	for _, s := range rec.SourceList {
		log.Printf("  Source:   %s via %s", s.Kind, s.Feeder)
	}
}

// azimuthToCardinal converts azimuth in degrees to cardinal direction.
func azimuthToCardinal(azimuth float64) string {
	directions := []string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
		"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}
	index := int((azimuth + 11.25) / 22.5)
	return directions[index%16]
}
