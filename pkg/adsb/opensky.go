package adsb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/paulmach/orb"
	"golang.org/x/time/rate"

	"github.com/unklstewy/adsb-feedhub/pkg/coordinates"
)

// ErrNoCredentials is returned by a token source without client credentials.
var ErrNoCredentials = errors.New("no client credentials configured")

// TokenSource supplies bearer tokens for an upstream API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// openSkyTokenLifetime is the longest a fetched token is reused.
const openSkyTokenLifetime = 30 * time.Minute

// OpenSkyTokenSource fetches OAuth2 client-credentials tokens and caches them.
// A token is refetched on first use, after 30 minutes, or once its JWT exp has passed.
type OpenSkyTokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
	expiresAt time.Time
}

// NewOpenSkyTokenSource creates a token source for the given client credentials.
func NewOpenSkyTokenSource(tokenURL, clientID, clientSecret string) *OpenSkyTokenSource {
	return &OpenSkyTokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

// Token returns a cached token or synchronously fetches a new one.
// Without credentials it returns ErrNoCredentials and makes no request.
func (s *OpenSkyTokenSource) Token(ctx context.Context) (string, error) {
	if s.clientID == "" || s.clientSecret == "" {
		return "", ErrNoCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Sub(s.fetchedAt) < openSkyTokenLifetime &&
		(s.expiresAt.IsZero() || now.Before(s.expiresAt)) {
		return s.token, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		s.token = ""
		return "", err
	}

	s.token = token
	s.fetchedAt = now
	s.expiresAt = tokenExpiry(token)
	return token, nil
}

func (s *OpenSkyTokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("token response without access_token")
	}
	return body.AccessToken, nil
}

// tokenExpiry reads the exp claim of a JWT access token without verifying it.
// Opaque tokens yield the zero time.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// OpenSkyClient queries OpenSky Network state vectors for a bounding box.
// API Documentation: https://openskynetwork.github.io/opensky-api/rest.html
type OpenSkyClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
}

// NewOpenSkyClient creates an OpenSky client. tokens may be nil for anonymous access.
func NewOpenSkyClient(baseURL string, tokens TokenSource) *OpenSkyClient {
	return &OpenSkyClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// openSkyResponse is the state vector response; each state is a fixed-index array.
type openSkyResponse struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// State vector indices.
const (
	osIcao24 = iota
	osCallsign
	osOriginCountry
	osTimePosition
	osLastContact
	osLongitude
	osLatitude
	osGeoAltitude
	osOnGround
	osVelocity
	osTrueTrack
	osVerticalRate
	osSensors
	osBaroAltitude
	osSquawk
	osSPI
	osPositionSource
)

// GetStates returns raw samples for the states inside bounds.
// Samples use canonical field names with units already converted to feet and knots.
func (c *OpenSkyClient) GetStates(ctx context.Context, bounds orb.Bound) ([]Sample, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("lamin", fmt.Sprintf("%f", bounds.Min.Lat()))
	q.Set("lomin", fmt.Sprintf("%f", bounds.Min.Lon()))
	q.Set("lamax", fmt.Sprintf("%f", bounds.Max.Lat()))
	q.Set("lomax", fmt.Sprintf("%f", bounds.Max.Lon()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/states/all?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+token)
		case errors.Is(err, ErrNoCredentials):
		default:
			return nil, fmt.Errorf("opensky token: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch states: %w", err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return nil, err
	}

	var body openSkyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	samples := make([]Sample, 0, len(body.States))
	for _, state := range body.States {
		if s, ok := stateToSample(state); ok {
			samples = append(samples, s)
		}
	}
	return samples, nil
}

// stateToSample converts one state vector, converting metric units first.
func stateToSample(state []any) (Sample, bool) {
	if len(state) <= osSquawk {
		return nil, false
	}
	hex, ok := state[osIcao24].(string)
	if !ok {
		return nil, false
	}

	s := Sample{"hex": hex}
	if v, ok := state[osCallsign].(string); ok {
		s["flightId"] = strings.TrimSpace(v)
	}
	if v, ok := state[osLongitude].(float64); ok {
		s["longitude"] = v
	}
	if v, ok := state[osLatitude].(float64); ok {
		s["latitude"] = v
	}
	if v, ok := state[osGeoAltitude].(float64); ok {
		s["ellipsoidalAltitude"] = float64(coordinates.MetersToFeetInt(v))
	}
	if v, ok := state[osBaroAltitude].(float64); ok {
		s["altitude"] = float64(coordinates.MetersToFeetInt(v))
	}
	if v, ok := state[osOnGround].(bool); ok {
		s["onGround"] = v
	}
	if v, ok := state[osVelocity].(float64); ok {
		s["speed"] = float64(coordinates.MetersPerSecondToKnotsInt(v))
	}
	if v, ok := state[osTrueTrack].(float64); ok {
		s["track"] = v
	}
	if v, ok := state[osVerticalRate].(float64); ok {
		s["verticalRate"] = float64(coordinates.MetersPerSecondToFeetPerMinute(v))
	}
	if v, ok := state[osSquawk].(string); ok {
		s["squawk"] = v
	}
	if len(state) > osPositionSource {
		if v, ok := state[osPositionSource].(float64); ok {
			s["source"] = positionSourceKind(int(v))
		}
	}
	return s, true
}

// positionSourceKind maps the OpenSky position_source enum onto a source kind.
func positionSourceKind(src int) string {
	switch src {
	case 0:
		return SourceADSB
	case 1:
		return SourceADSC
	case 2:
		return SourceMLAT
	case 3:
		return SourceSecondary
	}
	return ""
}
