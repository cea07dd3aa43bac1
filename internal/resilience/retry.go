package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig bounds a retried operation.
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// BaseBackoff is the delay before the second attempt; it doubles on every
	// further attempt. Default: 50ms.
	BaseBackoff time.Duration

	// MaxBackoff caps a single delay. Default: 1s.
	MaxBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Second
	}
	return c
}

// Retry runs fn until it succeeds, returns an error for which retryable
// reports false, the attempt budget is spent, or ctx is done. The error of the
// last attempt is returned unchanged.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	b := retry.NewExponential(cfg.BaseBackoff)
	b = retry.WithCappedDuration(cfg.MaxBackoff, b)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			return err
		}
		if attempt < cfg.MaxAttempts {
			slog.Warn("transient failure, retrying",
				"name", cfg.Name,
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"err", err)
		}
		return retry.RetryableError(err)
	})
}
