package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/types"
)

// RetryConfig bounds the retry loop around a single stage's remote call.
// Backoff grows exponentially from InitialBackoff with random jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, first call included.
	MaxAttempts uint

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	return c
}

// runWithRetry invokes fn up to the configured number of attempts. Only
// errors marked transient by the provider are retried; permanent service
// errors (bad credential, malformed request) and unclassified errors stop the
// loop immediately. The error of the final attempt is returned once the
// budget is exhausted.
func (c *Coordinator) runWithRetry(ctx context.Context, stage string, fn func() (string, error)) (string, error) {
	var result string
	var lastErr error

	err := retry.Do(
		func() error {
			text, err := fn()
			if err != nil {
				lastErr = err
				if !types.IsTransient(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = text
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.retry.MaxAttempts),
		retry.Delay(c.retry.InitialBackoff),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.retry.InitialBackoff/2),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			slog.Warn("stage attempt failed, retrying",
				"stage", stage,
				"attempt", attempt+1,
				"max_attempts", c.retry.MaxAttempts,
				"error", err)
			observe.AddCounter(ctx, c.metrics.RetryAttempts, 1,
				attribute.String("stage", stage))
		}),
	)
	if err != nil {
		// retry.Unrecoverable wraps without Unwrap; hand back the provider
		// error we captured so callers can inspect it.
		if lastErr != nil {
			return "", lastErr
		}
		return "", err
	}
	return result, nil
}
