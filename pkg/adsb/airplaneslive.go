package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// AirplanesLiveMaxRadiusNM is the largest radius the point search accepts.
const AirplanesLiveMaxRadiusNM = 250.0

// AirplanesLiveClient queries the airplanes.live point search API.
// API Documentation: https://airplanes.live/api-guide/
// Rate Limit: 1 request per second
type AirplanesLiveClient struct {
	// baseURL is the API base URL (default: https://api.airplanes.live/v2)
	baseURL string

	// httpClient is the HTTP client used for API requests
	httpClient *http.Client

	// limiter spaces requests to the published rate limit
	limiter *rate.Limiter
}

// NewAirplanesLiveClient creates a new airplanes.live API client.
// minInterval is the minimum time between requests; 0 means one second.
func NewAirplanesLiveClient(baseURL string, minInterval time.Duration) *AirplanesLiveClient {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &AirplanesLiveClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// airplanesLiveResponse is the envelope of a point search; vehicles are kept raw
// so they can go through the adsbx feeder mapping.
type airplanesLiveResponse struct {
	Aircraft []Sample `json:"ac"`
	Total    int      `json:"total"`
	Now      float64  `json:"now"`
}

// GetAircraft returns the raw samples of all aircraft within radiusNM of a point.
// Uses the /point/[lat]/[lon]/[radius] endpoint; the radius is capped at 250 nm.
func (c *AirplanesLiveClient) GetAircraft(ctx context.Context, centerLat, centerLon, radiusNM float64) ([]Sample, error) {
	if radiusNM > AirplanesLiveMaxRadiusNM || radiusNM <= 0 {
		radiusNM = AirplanesLiveMaxRadiusNM
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/point/%.4f/%.4f/%.0f", c.baseURL, centerLat, centerLon, radiusNM)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aircraft data: %w", err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return nil, err
	}

	var apiResp airplanesLiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	return apiResp.Aircraft, nil
}
