package rpc

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/goran-ethernal/ChainStream/pkg/config"
)

const jitterFraction = 0.25

// backoffDelay is the wait before retry number retry (1-based): exponential growth from
// InitialBackoff capped at MaxBackoff, spread by a jitter of up to 25% either way.
func backoffDelay(retry int, cfg *config.RetryConfig, jitter func() float64) time.Duration {
	if retry < 1 || cfg == nil {
		return 0
	}

	delay := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(retry-1))
	delay = min(delay, float64(cfg.MaxBackoff.Duration))
	delay += delay * jitterFraction * (2*jitter() - 1)

	return time.Duration(max(delay, 0))
}

// withRetry runs fn until it succeeds, fails with an error that is not worth retrying or
// runs out of attempts. A nil cfg runs fn once.
func withRetry(ctx context.Context, cfg *config.RetryConfig, method string, fn func() error) error {
	attempts := 1
	if cfg != nil && cfg.MaxAttempts > 1 {
		attempts = cfg.MaxAttempts
	}

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		class := classify(err)
		if !class.retryable() || attempts == 1 {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", method, attempts, err)
		}

		observeRetry(method, class)

		timer := time.NewTimer(backoffDelay(attempt, cfg, rand.Float64))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s interrupted after %d attempts: %w (last error: %w)", method, attempt, ctx.Err(), err)
		}
	}
}
