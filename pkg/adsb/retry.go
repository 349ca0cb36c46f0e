package adsb

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int

	// InitialDelay is the initial backoff delay (default: 1 second)
	InitialDelay time.Duration

	// MaxDelay is the maximum backoff delay (default: 60 seconds)
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0 for exponential)
	Multiplier float64

	// RespectRetryAfter uses Retry-After header if available (default: true)
	RespectRetryAfter bool

	// Logger receives rate limit notices; nil uses slog.Default()
	Logger *slog.Logger
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		Multiplier:        2.0,
		RespectRetryAfter: true,
	}
}

// backoff returns the delay before retry number attempt+1.
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay)
func (cfg RetryConfig) backoff(attempt int) time.Duration {
	d := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return d
}

// RetryWithBackoffResult executes fn with exponential backoff and returns its result.
// Rate limit errors (HTTP 429) wait for the server's Retry-After instead of the backoff.
//
// Example usage:
//
//	photos, err := RetryWithBackoffResult(ctx, DefaultRetryConfig(), func() ([]Photo, error) {
//	    return client.PhotosByHex(ctx, hex)
//	})
func RetryWithBackoffResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var result T
	var lastErr error
	var delay time.Duration

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}
		result = res
		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}

		delay = cfg.backoff(attempt)
		if rle, ok := IsRateLimitError(err); ok {
			if cfg.RespectRetryAfter && rle.RetryAfter > 0 {
				delay = rle.RetryAfter
			}
			if rle.Headers.Remaining >= 0 {
				logger.Warn("rate limit hit",
					"remaining", rle.Headers.Remaining,
					"limit", rle.Headers.Limit,
					"reset", rle.Headers.Reset,
					"retry_in", delay)
			}
		}
	}

	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
