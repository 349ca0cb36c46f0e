// Package flightaware provides a client for the FlightAware AeroAPI v4.
//
// The feed hub only needs the route and operator of a flight, looked up once
// by callsign when a vehicle first reports one.
//
// API Documentation: https://www.flightaware.com/aeroapi/portal/documentation
// Rate Limits: Free tier allows 500 requests/month, paid tiers offer higher limits.
package flightaware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
)

const (
	// BaseURL is the FlightAware AeroAPI v4 base URL
	BaseURL = "https://aeroapi.flightaware.com/aeroapi"

	// DefaultTimeout for API requests
	DefaultTimeout = 10 * time.Second
)

// ErrNoAPIKey is returned when lookups are attempted without an API key.
var ErrNoAPIKey = errors.New("flightaware: no API key configured")

// Client represents a FlightAware AeroAPI client.
type Client struct {
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
}

// Config contains configuration for the FlightAware client.
type Config struct {
	APIKey          string
	RequestsPerHour int
	Timeout         time.Duration

	// BaseURL overrides the AeroAPI endpoint (tests)
	BaseURL string
}

// NewClient creates a new FlightAware AeroAPI client with a request budget per hour.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerHour <= 0 {
		cfg.RequestsPerHour = 1
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}

	// Burst of 1, spread evenly over the hour
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerHour)/3600.0), 1)

	return &Client{
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: limiter,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Route is the enrichment result for a callsign.
type Route struct {
	Ident        string
	Origin       string // ICAO airport code
	Destination  string // ICAO airport code
	Operator     string // ICAO operator designator
	AircraftType string
}

// flight is one entry of the /flights/{ident} response.
type flight struct {
	Ident        string `json:"ident"`
	FAFlightID   string `json:"fa_flight_id"`
	OperatorICAO string `json:"operator_icao"`
	AircraftType string `json:"aircraft_type"`
	Status       string `json:"status"`

	Origin *struct {
		Code string `json:"code_icao"`
	} `json:"origin"`

	Destination *struct {
		Code string `json:"code_icao"`
	} `json:"destination"`
}

// RouteByCallsign looks up the most recent flight for a callsign.
//
// Returns nil, nil if no flight is found (not an error).
// HTTP 429 is returned as *adsb.RateLimitError.
func (c *Client) RouteByCallsign(ctx context.Context, callsign string) (*Route, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	callsign = strings.TrimSpace(callsign)
	if callsign == "" {
		return nil, nil
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/flights/%s", c.baseURL, url.PathEscape(callsign))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := adsb.CheckResponse(resp); err != nil {
		return nil, err
	}

	var body struct {
		Flights []flight `json:"flights"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(body.Flights) == 0 {
		return nil, nil
	}

	// AeroAPI lists the most recent flight first
	f := body.Flights[0]
	route := &Route{
		Ident:        f.Ident,
		Operator:     f.OperatorICAO,
		AircraftType: f.AircraftType,
	}
	if f.Origin != nil {
		route.Origin = f.Origin.Code
	}
	if f.Destination != nil {
		route.Destination = f.Destination.Code
	}
	return route, nil
}
