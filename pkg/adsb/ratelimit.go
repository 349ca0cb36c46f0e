package adsb

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RateLimitError represents an HTTP 429 rate limit error with retry information.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Headers    RateLimitHeaders
}

// RateLimitHeaders contains rate limit information from response headers.
type RateLimitHeaders struct {
	Limit     int       // X-Rate-Limit-Limit: Maximum requests allowed
	Remaining int       // X-Rate-Limit-Remaining: Requests remaining in current window
	Reset     time.Time // X-Rate-Limit-Reset: When the rate limit resets
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError checks if an error is, or wraps, a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// CheckResponse turns a non-200 upstream response into an error.
// HTTP 429 becomes a *RateLimitError carrying the Retry-After information.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    "Rate limit exceeded",
			Headers:    extractRateLimitHeaders(resp.Header),
		}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// parseRetryAfter extracts the Retry-After header value.
// Supports both delay-seconds (integer) and HTTP-date formats.
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 0
}

// extractRateLimitHeaders extracts common rate limit headers from the response.
// Both X-Rate-Limit-* and X-RateLimit-* spellings are accepted.
func extractRateLimitHeaders(headers http.Header) RateLimitHeaders {
	rlh := RateLimitHeaders{
		Limit:     -1,
		Remaining: -1,
	}

	header := func(name string) string {
		if v := headers.Get("X-Rate-Limit-" + name); v != "" {
			return v
		}
		return headers.Get("X-RateLimit-" + name)
	}

	if val, err := strconv.Atoi(header("Limit")); err == nil {
		rlh.Limit = val
	}
	if val, err := strconv.Atoi(header("Remaining")); err == nil {
		rlh.Remaining = val
	}
	if ts, err := strconv.ParseInt(header("Reset"), 10, 64); err == nil {
		rlh.Reset = time.Unix(ts, 0)
	}

	return rlh
}
