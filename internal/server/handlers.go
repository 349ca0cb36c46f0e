package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/unklstewy/adsb-feedhub/internal/auth"
	"github.com/unklstewy/adsb-feedhub/internal/state"
	"github.com/unklstewy/adsb-feedhub/internal/trail"
	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
)

// parseBounds reads lamin, lomin, lamax and lomax. An incomplete box yields
// nil without error; a value that is not a number is an error.
func parseBounds(r *http.Request) (*orb.Bound, error) {
	q := r.URL.Query()
	keys := []string{"lamin", "lomin", "lamax", "lomax"}
	vals := make([]float64, len(keys))
	complete := true

	for i, k := range keys {
		raw := q.Get(k)
		if raw == "" {
			complete = false
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", k, raw)
		}
		vals[i] = v
	}
	if !complete {
		return nil, nil
	}
	return &orb.Bound{
		Min: orb.Point{vals[1], vals[0]},
		Max: orb.Point{vals[3], vals[2]},
	}, nil
}

// listParam splits a comma-separated query parameter.
func listParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// clientID identifies the caller for coalescing: its IP without port.
func clientID(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func recordsIn(store *state.Store, bounds *orb.Bound) []*adsb.Record {
	if bounds == nil {
		return store.Snapshot()
	}
	return store.InBounds(*bounds)
}

func reportedByAny(rec *adsb.Record, feeders []string) bool {
	for _, f := range rec.FeederList {
		if slices.Contains(feeders, f) {
			return true
		}
	}
	return false
}

// handleGetAircraft returns local records in the box, merged with remote
// records when a provider is requested. Local records win on duplicate hex.
func (s *Server) handleGetAircraft(w http.ResponseWriter, r *http.Request) {
	bounds, err := parseBounds(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	selected := listParam(r, "feeders")

	var out []*adsb.Record
	seen := make(map[string]bool)
	if s.cfg.Local != nil {
		for _, rec := range recordsIn(s.cfg.Local, bounds) {
			if len(selected) > 0 && !reportedByAny(rec, selected) {
				continue
			}
			seen[rec.Hex] = true
			out = append(out, rec)
		}
	}

	if provider := r.URL.Query().Get("remote"); provider != "" && s.cfg.Remote != nil {
		s.cfg.Remote.Enqueue(clientID(r), bounds, provider)
		for _, rec := range recordsIn(s.cfg.Remote.Store(), bounds) {
			if !seen[rec.Hex] {
				out = append(out, rec)
			}
		}
	}

	if out == nil {
		out = []*adsb.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"aircraft": out,
		"count":    len(out),
		"now":      s.now().UnixMilli(),
	})
}

// handleGetSpacecraft queues a spacecraft request and returns the known spacecraft.
func (s *Server) handleGetSpacecraft(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Spacecraft == nil {
		respondError(w, http.StatusNotFound, "spacecraft feed disabled")
		return
	}
	bounds, err := parseBounds(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.cfg.Spacecraft.Enqueue(clientID(r), bounds)
	respondJSON(w, http.StatusOK, map[string]any{
		"spacecraft": s.cfg.Spacecraft.Store().Snapshot(),
		"now":        s.now().UnixMilli(),
	})
}

// handleGetTrail returns the antimeridian-corrected trail of a vehicle,
// either live for the trail window or from its latest archival.
func (s *Server) handleGetTrail(w http.ResponseWriter, r *http.Request) {
	hex := strings.ToLower(chi.URLParam(r, "hex"))
	feederName := r.URL.Query().Get("feeder")

	var points []trail.Point
	if r.URL.Query().Get("history") == "true" {
		if s.cfg.History == nil {
			respondError(w, http.StatusServiceUnavailable, "history store not configured")
			return
		}
		archived, err := s.cfg.History.LatestTrail(r.Context(), hex)
		if err != nil {
			s.logger.Error("history trail query failed", "hex", hex, "error", err)
			respondError(w, http.StatusInternalServerError, "history query failed")
			return
		}
		for _, p := range archived {
			if feederName == "" || p.Feeder == feederName {
				points = append(points, p)
			}
		}
	} else {
		recorder := s.cfg.Trails
		if strings.EqualFold(hex, adsb.ISSHex) && s.cfg.SpacecraftTrails != nil {
			recorder = s.cfg.SpacecraftTrails
		}
		if recorder != nil {
			points = recorder.ForHex(hex, feederName, s.now().Add(-s.cfg.TrailWindow))
		}
	}

	fixed := trail.FixAntimeridian(points)
	if fixed == nil {
		fixed = []trail.Point{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"hex":   hex,
		"trail": fixed,
	})
}

// handleGetOutline returns the range outline of the requested feeders
// (all configured feeders by default), as JSON points or as GeoJSON.
func (s *Server) handleGetOutline(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Outline == nil {
		respondError(w, http.StatusNotFound, "outline disabled")
		return
	}

	feeders := listParam(r, "feeders")
	if len(feeders) == 0 {
		for _, f := range s.cfg.Feeders {
			feeders = append(feeders, f.Name())
		}
	}
	points := s.cfg.Outline.GetActualOutlineFromLast24Hours(feeders)

	if strings.Contains(r.Header.Get("Accept"), "application/geo+json") {
		body, err := json.Marshal(trail.FeatureCollection(points))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "encode outline")
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	byFeeder := make(map[string][]trail.Point, len(feeders))
	for _, name := range feeders {
		byFeeder[name] = []trail.Point{}
	}
	for _, p := range points {
		byFeeder[p.Feeder] = append(byFeeder[p.Feeder], p)
	}
	respondJSON(w, http.StatusOK, map[string]any{"outline": byFeeder})
}

// handleGetFeeders lists the configured feeders without their endpoints.
func (s *Server) handleGetFeeders(w http.ResponseWriter, r *http.Request) {
	feeders := s.cfg.Feeders
	if feeders == nil {
		respondJSON(w, http.StatusOK, []any{})
		return
	}
	respondJSON(w, http.StatusOK, feeders)
}

// handleLogin exchanges the operator credentials for a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == nil {
		respondError(w, http.StatusServiceUnavailable, "admin login disabled")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.cfg.Auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrDisabled):
		respondError(w, http.StatusServiceUnavailable, "admin login disabled")
		return
	case err != nil:
		s.logger.Warn("admin login failed", "username", req.Username, "client", clientID(r))
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"token": token})
}

// handleArchive runs the archive job now.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Archiver == nil {
		respondError(w, http.StatusServiceUnavailable, "archive job not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.cfg.Archiver.Archive(r.Context()))
}

// handleStats reports store sizes, queue depth, outline sizes and history counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{}

	if s.cfg.Local != nil {
		stats["local_records"] = s.cfg.Local.Len()
	}
	if s.cfg.Trails != nil {
		stats["trail_points"] = s.cfg.Trails.Len()
	}
	if s.cfg.Remote != nil {
		stats["remote_records"] = s.cfg.Remote.Store().Len()
		stats["remote_pending"] = s.cfg.Remote.Pending()
	}
	if s.cfg.Spacecraft != nil {
		stats["spacecraft_records"] = s.cfg.Spacecraft.Store().Len()
	}
	if s.cfg.Outline != nil {
		sizes := map[string]int{}
		for _, name := range s.cfg.Outline.Feeders() {
			sizes[name] = s.cfg.Outline.Size(name)
		}
		stats["outline_points"] = sizes
	}
	if s.cfg.DBStats != nil {
		dbStats, err := s.cfg.DBStats(r.Context())
		if err != nil {
			s.logger.Warn("database stats failed", "error", err)
		} else {
			stats["database"] = dbStats
		}
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleHealth reports liveness and, when configured, database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	}
	if s.cfg.Health != nil {
		if s.cfg.Health(r.Context()) {
			body["database"] = "ok"
		} else {
			body["database"] = "unavailable"
			body["status"] = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, body)
}
