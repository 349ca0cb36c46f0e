package adsb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          20 * time.Millisecond,
		Multiplier:        2.0,
		RespectRetryAfter: true,
	}
}

func TestRetryAttempts(t *testing.T) {
	t.Run("Success on first attempt", func(t *testing.T) {
		attempts := 0
		_, err := RetryWithBackoffResult(context.Background(), fastRetry(3), func() (int, error) {
			attempts++
			return attempts, nil
		})
		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("Success after transient failures", func(t *testing.T) {
		attempts := 0
		_, err := RetryWithBackoffResult(context.Background(), fastRetry(3), func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, errors.New("connection reset")
			}
			return attempts, nil
		})
		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("Gives up and keeps the cause", func(t *testing.T) {
		cause := errors.New("upstream down")
		attempts := 0
		_, err := RetryWithBackoffResult(context.Background(), fastRetry(2), func() (int, error) {
			attempts++
			return 0, cause
		})
		if !errors.Is(err, cause) {
			t.Errorf("Expected wrapped cause, got: %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts (initial + 2 retries), got %d", attempts)
		}
	})

	t.Run("Zero retries", func(t *testing.T) {
		attempts := 0
		_, _ = RetryWithBackoffResult(context.Background(), fastRetry(0), func() (int, error) {
			attempts++
			return 0, errors.New("error")
		})
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("Cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		attempts := 0
		cfg := fastRetry(5)
		cfg.InitialDelay = time.Second
		_, err := RetryWithBackoffResult(ctx, cfg, func() (int, error) {
			attempts++
			return 0, errors.New("error")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	cfg := fastRetry(1)
	cfg.InitialDelay = 5 * time.Second
	cfg.MaxDelay = 5 * time.Second

	attempts := 0
	start := time.Now()
	_, err := RetryWithBackoffResult(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, fmt.Errorf("fetch: %w", &RateLimitError{
				StatusCode: 429,
				RetryAfter: 10 * time.Millisecond,
				Message:    "Rate limit exceeded",
				Headers:    RateLimitHeaders{Limit: 10, Remaining: 0},
			})
		}
		return attempts, nil
	})

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected Retry-After delay instead of backoff, took %v", elapsed)
	}
}

func TestRetryWithBackoffResult(t *testing.T) {
	attempts := 0
	got, err := RetryWithBackoffResult(context.Background(), fastRetry(3), func() ([]string, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("temporary error")
		}
		return []string{"abc123"}, nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(got) != 1 || got[0] != "abc123" {
		t.Errorf("Expected [abc123], got %v", got)
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}

	want := []time.Duration{10, 20, 40, 50, 50}
	for attempt, w := range want {
		if got := cfg.backoff(attempt); got != w*time.Millisecond {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w*time.Millisecond, got)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != time.Second || cfg.MaxDelay != time.Minute {
		t.Errorf("Expected 1s/60s delays, got %v/%v", cfg.InitialDelay, cfg.MaxDelay)
	}
	if !cfg.RespectRetryAfter {
		t.Error("Expected RespectRetryAfter to be enabled")
	}
}
