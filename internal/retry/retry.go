// Package retry provides exponential backoff for calls to GitLab and to the
// MCP tool server, which may still be starting when the session connects.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// Retryable decides whether an error is worth another attempt.
	// Nil means kerrors.IsRetryable.
	Retryable func(error) bool
}

// DefaultConfig returns the backoff used for GitLab reads.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// ConnectConfig returns the short backoff used while an MCP server starts up.
// Every error is retried.
func ConnectConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    time.Second,
		Retryable:   func(error) bool { return true },
	}
}

// Do executes fn with exponential backoff until it succeeds, returns a
// non-retryable error, or runs out of attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = kerrors.IsRetryable
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}
	return lastErr
}

func (cfg Config) delay(attempt int) time.Duration {
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}
