package db

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/unklstewy/adsb-feedhub/pkg/config"
)

// maxReconnectDelay caps the backoff between connection attempts.
const maxReconnectDelay = 60 * time.Second

// retryWait is the base wait of WithRetry; attempt n waits n*retryWait.
var retryWait = time.Second

// ReconnectWithRetry connects to the database with exponential backoff.
// maxRetries of 0 retries until ctx is cancelled.
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	delay := initialDelay

	for attempt := 1; ; attempt++ {
		db, err := Connect(ctx, cfg)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connected", "attempt", attempt)
			}
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			logger.Error("database connection failed", "attempts", attempt, "error", err)
			return nil, err
		}

		logger.Warn("database connection failed, retrying", "attempt", attempt, "retry_in", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}
	return result == 1
}

// connErrors are message fragments of errors worth retrying.
var connErrors = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"bad connection",
	"eof",
	"timeout",
}

// IsConnError reports whether err looks like a lost or refused connection.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry runs operation and retries it up to maxRetries times while it
// fails with a connection error. Other errors are returned immediately.
func WithRetry(ctx context.Context, operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsConnError(err) {
			return err
		}

		if attempt < maxRetries {
			timer := time.NewTimer(time.Duration(attempt+1) * retryWait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			case <-timer.C:
			}
		}
	}
	return lastErr
}
