// Package resilience wraps the backoff and circuit-breaker policies used to
// protect the storage adapter's background tasks from a flaky embedded
// store.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures an exponential backoff policy.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
	MaxRetries      int
	RetryIfFn       func(error) bool
}

// DefaultBackgroundRetryConfig is the retry policy for background
// sync/cleanup tasks: base 100ms, cap 5s, no overall deadline (the task
// just keeps retrying on its own timer tick).
func DefaultBackgroundRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  0,
		MaxRetries:      5,
	}
}

// Retry runs operation with exponential backoff, honoring ctx cancellation.
func Retry(ctx context.Context, cfg RetryConfig, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		b.Multiplier = cfg.Multiplier
	}
	b.MaxElapsedTime = cfg.MaxElapsedTime

	var policy backoff.BackOff = b
	if cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
	}
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && cfg.RetryIfFn != nil && !cfg.RetryIfFn(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
