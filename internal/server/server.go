// Package server exposes the live stores, trails and range outlines over HTTP
// and accepts the viewport requests feeding the remote coalescing queues.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unklstewy/adsb-feedhub/internal/auth"
	"github.com/unklstewy/adsb-feedhub/internal/metrics"
	"github.com/unklstewy/adsb-feedhub/internal/poller"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/feeder"
)

// DefaultTrailWindow is how far back a live trail reaches.
const DefaultTrailWindow = time.Hour

// RemoteAircraft is the remote aircraft service.
type RemoteAircraft interface {
	Enqueue(client string, bounds *orb.Bound, provider string)
	Store() *state.Store
	Pending() int
}

// Spacecraft is the spacecraft service.
type Spacecraft interface {
	Enqueue(client string, bounds *orb.Bound)
	Store() *state.Store
}

// HistoryTrails reads archived trails.
type HistoryTrails interface {
	LatestTrail(ctx context.Context, hex string) ([]trail.Point, error)
}

// ArchiveRunner runs the archive job on demand.
type ArchiveRunner interface {
	Archive(ctx context.Context) poller.ArchiveResult
}

// Config wires the server to the running components. Optional parts may be nil.
type Config struct {
	Local   *state.Store
	Trails  *trail.Recorder
	Outline *trail.Outline
	Feeders []*feeder.Feeder

	Remote           RemoteAircraft
	Spacecraft       Spacecraft
	SpacecraftTrails *trail.Recorder

	History  HistoryTrails
	Archiver ArchiveRunner
	Auth     *auth.Service

	// Health reports the database state; nil means no database configured
	Health func(ctx context.Context) bool

	// DBStats returns history table counts for the admin stats endpoint
	DBStats func(ctx context.Context) (map[string]int64, error)

	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	TrailWindow    time.Duration
	Logger         *slog.Logger
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	cfg    Config
	router *chi.Mux
	logger *slog.Logger
	now    func() time.Time
}

// New creates a server with all routes registered.
func New(cfg Config) *Server {
	if cfg.TrailWindow <= 0 {
		cfg.TrailWindow = DefaultTrailWindow
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: logger.With("component", "server"),
		now:    time.Now,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.cfg.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/aircraft", s.handleGetAircraft)
		r.Get("/spacecraft", s.handleGetSpacecraft)
		r.Get("/trail/{hex}", s.handleGetTrail)
		r.Get("/outline", s.handleGetOutline)
		r.Get("/feeders", s.handleGetFeeders)

		r.Post("/auth/login", s.handleLogin)

		if s.cfg.Auth != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.cfg.Auth.Middleware(auth.RoleAdmin))

				r.Post("/admin/archive", s.handleArchive)
				r.Get("/admin/stats", s.handleStats)
			})
		}
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
