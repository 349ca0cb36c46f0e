// feedhub ingests aircraft telemetry from local feeders and remote providers,
// merges it into live stores and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/unklstewy/adsb-feedhub/internal/auth"
	"github.com/unklstewy/adsb-feedhub/internal/db"
	"github.com/unklstewy/adsb-feedhub/internal/enrich"
	"github.com/unklstewy/adsb-feedhub/internal/metrics"
	"github.com/unklstewy/adsb-feedhub/internal/poller"
	"github.com/unklstewy/adsb-feedhub/internal/remote"
	"github.com/unklstewy/adsb-feedhub/internal/server"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
	"github.com/unklstewy/adsb-feedhub/pkg/config"
	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
	"github.com/unklstewy/adsb-feedhub/pkg/flightaware"
	"github.com/unklstewy/adsb-feedhub/pkg/planespotters"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	envFile    = flag.String("env", ".env", "Optional .env file loaded before the configuration")
	logJSON    = flag.Bool("log-json", false, "Write structured logs as JSON")
)

func main() {
	flag.Parse()

	log.Println("===========================================")
	log.Println("  ADS-B Feed Hub")
	log.Println("===========================================")

	if err := godotenv.Load(*envFile); err == nil {
		log.Printf("✓ Environment loaded from %s", *envFile)
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("✗ Failed to read %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("✗ Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("✗ Invalid configuration: %v", err)
	}
	log.Printf("✓ Configuration loaded from %s", *configPath)

	logger := newLogger(*logJSON)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatalf("✗ %v", err)
	}
	log.Println("✓ Shutdown complete")
}

func newLogger(asJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	site := coordinates.Geographic{Latitude: cfg.Site.Latitude, Longitude: cfg.Site.Longitude}
	log.Printf("Site: %s at %.4f, %.4f", cfg.Site.Name, site.Latitude, site.Longitude)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	// Persistence is optional; without it records are archived to nowhere.
	var (
		database *db.DB
		archiver poller.Archiver = poller.DiscardArchiver{}
		ranges   poller.RangeWriter
		history  server.HistoryTrails
		airports adsb.AirportLookup
	)
	if cfg.Database.Enabled {
		log.Println("Connecting to database...")
		database, err = db.ReconnectWithRetry(ctx, cfg.Database, 5, 2*time.Second, logger)
		if err != nil {
			return err
		}
		defer database.Close()
		log.Println("✓ Database connected")

		if err := database.InitSchema(ctx); err != nil {
			return err
		}
		log.Println("✓ Database schema initialized")

		historyRepo := db.NewHistoryRepository(database)
		archiver = historyRepo
		history = historyRepo
		ranges = db.NewRangeRepository(database)

		index, err := db.NewAirportRepository(database).LoadIndex(ctx)
		if err != nil {
			log.Printf("✗ Airport index unavailable, routes stay unresolved: %v", err)
		} else {
			airports = index
			log.Printf("✓ Airport index loaded (%d airports)", index.Len())
		}
	} else {
		log.Println("Database disabled, history archive and range data are off")
	}

	feeders, err := feeder.FromConfigs(cfg.Feeders)
	if err != nil {
		return err
	}
	enabled := cfg.EnabledFeeders()
	targets := make([]poller.Target, 0, len(feeders))
	for i, f := range feeders {
		targets = append(targets, poller.Target{Feeder: f, Timeout: enabled[i].Timeout()})
		log.Printf("  ✓ Feeder %s (%s)", f.Name(), f.Type())
	}
	if len(feeders) == 0 {
		log.Println("No local feeders enabled")
	}

	normalizer := adsb.NewNormalizer(site, airports)
	outline := trail.NewOutline(cfg.Outline.MaxDistanceKm)

	worker := enrich.New(enrichConfig(cfg, m, logger))

	localTrails := trail.NewRecorder(site, outline)
	localEngine := state.NewEngine(state.EngineConfig{
		Store:             state.NewStore(state.NamespaceLocal),
		Trails:            localTrails,
		Enricher:          worker,
		ReenteredDebounce: cfg.Intervals.ReenteredDebounce(),
		Logger:            logger,
	})

	localPoller := poller.New(poller.Config{
		Targets:         targets,
		Engine:          localEngine,
		Normalizer:      normalizer,
		Archiver:        archiver,
		RangeWriter:     ranges,
		Outline:         outline,
		Interval:        cfg.Intervals.LocalPoll(),
		ArchiveInterval: cfg.Intervals.ArchiveInterval(),
		ArchiveIdle:     cfg.Intervals.ArchiveIdle(),
		TrailRetention:  cfg.Intervals.TrailRetention(),
		Metrics:         m,
		Logger:          logger,
	})

	aircraftCfg := remote.AircraftConfig{
		Engine: state.NewEngine(state.EngineConfig{
			Store:             state.NewStore(state.NamespaceRemote),
			Enricher:          worker,
			ReenteredDebounce: cfg.Intervals.ReenteredDebounce(),
			Logger:            logger,
		}),
		Normalizer: normalizer,
		RadiusNM:   cfg.AirplanesLive.RadiusNM,
		Interval:   cfg.Intervals.RemotePoll(),
		PurgeAfter: cfg.Intervals.RemotePurge(),
		Metrics:    m,
		Logger:     logger,
	}
	if cfg.OpenSky.Enabled {
		var tokens adsb.TokenSource
		if cfg.OpenSky.ClientID != "" && cfg.OpenSky.ClientSecret != "" {
			tokens = adsb.NewOpenSkyTokenSource(cfg.OpenSky.TokenURL, cfg.OpenSky.ClientID, cfg.OpenSky.ClientSecret)
		}
		aircraftCfg.OpenSky = adsb.NewOpenSkyClient(cfg.OpenSky.BaseURL, tokens)
		log.Printf("✓ Remote provider %s (authenticated: %t)", remote.ProviderOpenSky, tokens != nil)
	}
	if cfg.AirplanesLive.Enabled {
		minInterval := time.Duration(cfg.AirplanesLive.RateLimitSeconds * float64(time.Second))
		aircraftCfg.AirplanesLive = adsb.NewAirplanesLiveClient(cfg.AirplanesLive.BaseURL, minInterval)
		log.Printf("✓ Remote provider %s (radius %.0f nm)", remote.ProviderAirplanesLive, cfg.AirplanesLive.RadiusNM)
	}
	remoteAircraft := remote.NewAircraftService(aircraftCfg)

	var (
		spacecraft       *remote.SpacecraftService
		spacecraftTrails *trail.Recorder
	)
	if cfg.Spacecraft.Enabled {
		spacecraftTrails = trail.NewRecorder(site, nil)
		spacecraft = remote.NewSpacecraftService(remote.SpacecraftConfig{
			Engine: state.NewEngine(state.EngineConfig{
				Store:               state.NewStore(state.NamespaceSpacecraft),
				Trails:              spacecraftTrails,
				CaptureRemoteTrails: true,
				Logger:              logger,
			}),
			Normalizer:     normalizer,
			ISS:            adsb.NewISSClient(cfg.Spacecraft.URL),
			Interval:       cfg.Intervals.SpacecraftPoll(),
			TrailRetention: cfg.Intervals.TrailRetention(),
			Metrics:        m,
			Logger:         logger,
		})
		log.Println("✓ Spacecraft feed enabled")
	}

	var authSvc *auth.Service
	if cfg.Auth.AdminPasswordHash != "" && cfg.Auth.JWTSecret != "" {
		authSvc = auth.NewService(auth.Config{
			AdminUsername:     cfg.Auth.AdminUsername,
			AdminPasswordHash: cfg.Auth.AdminPasswordHash,
			JWTSecret:         cfg.Auth.JWTSecret,
			TokenDuration:     time.Duration(cfg.Auth.TokenDurationMinutes) * time.Minute,
		})
		log.Println("✓ Admin endpoints enabled")
	}

	srvCfg := server.Config{
		Local:            localEngine.Store(),
		Trails:           localTrails,
		Outline:          outline,
		Feeders:          feeders,
		Remote:           remoteAircraft,
		SpacecraftTrails: spacecraftTrails,
		History:          history,
		Archiver:         localPoller,
		Auth:             authSvc,
		Gatherer:         reg,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		Logger:           logger,
	}
	if spacecraft != nil {
		srvCfg.Spacecraft = spacecraft
	}
	if database != nil {
		srvCfg.Health = func(ctx context.Context) bool { return db.HealthCheck(ctx, database) }
		srvCfg.DBStats = database.GetStats
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.New(srvCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return localPoller.Run(ctx) })
	g.Go(func() error { return remoteAircraft.Run(ctx) })
	if spacecraft != nil {
		g.Go(func() error { return spacecraft.Run(ctx) })
	}
	if database != nil {
		g.Go(func() error {
			return pruneRangeData(ctx, database, cfg.Intervals.ArchiveInterval(), cfg.Intervals.RangeRetention(), logger)
		})
	}
	g.Go(func() error {
		log.Printf("✓ HTTP server listening on %s", httpServer.Addr)
		var err error
		if cfg.Server.TLSEnabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	log.Println("===========================================")
	log.Println("  Feed hub started. Press Ctrl+C to stop")
	log.Println("===========================================")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// enrichConfig builds the lookup clients that are enabled and configured.
func enrichConfig(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) enrich.Config {
	ec := enrich.Config{Metrics: m, Logger: logger}
	if cfg.Planespotters.Enabled {
		ec.Photos = planespotters.NewClient(cfg.Planespotters.BaseURL, cfg.Planespotters.RequestsPerMinute)
		log.Println("✓ Photo enrichment enabled")
	}
	if cfg.FlightAware.Enabled && cfg.FlightAware.APIKey != "" {
		ec.Routes = flightaware.NewClient(flightaware.Config{
			APIKey:          cfg.FlightAware.APIKey,
			RequestsPerHour: cfg.FlightAware.RequestsPerHour,
		})
		log.Println("✓ Route enrichment enabled")
	}
	return ec
}

// pruneRangeData deletes range-data snapshots older than retention every interval.
func pruneRangeData(ctx context.Context, database *db.DB, interval, retention time.Duration, logger *slog.Logger) error {
	if retention <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := database.CleanupOldData(ctx, retention)
			if err != nil {
				logger.Error("range data cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("range data cleaned up", "deleted", n)
			}
		}
	}
}
