package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig is an exponential backoff schedule.
type RetryConfig struct {
	MaxRetries    int           // attempts before giving up, 0 means unlimited
	RetryDelay    time.Duration // delay after the first failure
	MaxRetryDelay time.Duration // cap
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Backoff returns the delay after the given failed attempt (1-based):
// RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.MaxRetryDelay > 0 && delay >= c.MaxRetryDelay {
			return c.MaxRetryDelay
		}
	}
	if c.MaxRetryDelay > 0 && delay > c.MaxRetryDelay {
		return c.MaxRetryDelay
	}
	return delay
}

// Retry calls fn until it succeeds, the retry budget is spent or ctx ends.
func Retry(ctx context.Context, cfg RetryConfig, what string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("telemetry: connected after retry", "target", what, "attempts", attempt)
			}
			return nil
		}
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries {
			return fmt.Errorf("telemetry: %s: giving up after %d attempts: %w", what, attempt, err)
		}

		delay := cfg.Backoff(attempt)
		slog.Warn("telemetry: attempt failed, retrying",
			"target", what,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
