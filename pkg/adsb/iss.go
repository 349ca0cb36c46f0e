package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ISS record constants. The feed only carries a position.
const (
	ISSHex      = "ISS"
	issAltitude = 1312336 // feet
	issSpeed    = 14903   // knots
)

// ISSClient reads the current ISS position from the Open-Notify API.
type ISSClient struct {
	url        string
	httpClient *http.Client
}

// NewISSClient creates a client for the iss-now endpoint.
func NewISSClient(url string) *ISSClient {
	return &ISSClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type issResponse struct {
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	ISSPosition struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"iss_position"`
}

// GetPosition returns the ISS as a raw sample with canonical field names.
func (c *ISSClient) GetPosition(ctx context.Context) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ISS position: %w", err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return nil, err
	}

	var body issResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse ISS response: %w", err)
	}

	lat, err := strconv.ParseFloat(body.ISSPosition.Latitude, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ISS latitude %q: %w", body.ISSPosition.Latitude, err)
	}
	lon, err := strconv.ParseFloat(body.ISSPosition.Longitude, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ISS longitude %q: %w", body.ISSPosition.Longitude, err)
	}

	return Sample{
		"hex":       ISSHex,
		"latitude":  lat,
		"longitude": lon,
		"altitude":  float64(issAltitude),
		"speed":     float64(issSpeed),
		"track":     0.0,
		"onGround":  false,
		"category":  "B7",
		"type":      "ISS",
	}, nil
}
