// Package planespotters looks up aircraft photos on planespotters.net.
//
// API Documentation: https://www.planespotters.net/photo/api
// Photos are credited to their photographer and must not be stored in archives.
package planespotters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
)

// BaseURL is the planespotters public API.
const BaseURL = "https://api.planespotters.net/pub"

// Photo is one photo reference.
type Photo struct {
	DirectURL    string // large thumbnail image
	WebsiteURL   string // photo page
	Photographer string
}

// Client fetches photos by ICAO hex.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client limited to requestsPerMinute.
func NewClient(baseURL string, requestsPerMinute int) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

type photosResponse struct {
	Photos []struct {
		ID             string `json:"id"`
		Link           string `json:"link"`
		Photographer   string `json:"photographer"`
		ThumbnailLarge struct {
			Src string `json:"src"`
		} `json:"thumbnail_large"`
		Thumbnail struct {
			Src string `json:"src"`
		} `json:"thumbnail"`
	} `json:"photos"`
}

// PhotoByHex returns the first photo for an airframe, or nil if there is none.
func (c *Client) PhotoByHex(ctx context.Context, hex string) (*Photo, error) {
	hex = strings.ToLower(strings.TrimSpace(hex))
	if hex == "" {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/photos/hex/%s", c.baseURL, url.PathEscape(hex))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch photos: %w", err)
	}
	defer resp.Body.Close()

	if err := adsb.CheckResponse(resp); err != nil {
		return nil, err
	}

	var body photosResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parse photos: %w", err)
	}
	if len(body.Photos) == 0 {
		return nil, nil
	}

	p := body.Photos[0]
	direct := p.ThumbnailLarge.Src
	if direct == "" {
		direct = p.Thumbnail.Src
	}
	return &Photo{
		DirectURL:    direct,
		WebsiteURL:   p.Link,
		Photographer: p.Photographer,
	}, nil
}
