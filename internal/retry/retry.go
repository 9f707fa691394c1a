// Package retry wraps an arbitrary operation with bounded retries and
// exponential backoff with jitter. It is the only place a retryable
// error may be suppressed, and the only place a provider-supplied
// Retry-After hint overrides local backoff policy.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
)

const (
	// DefaultMaxAttempts is the number of retries after the first
	// attempt, so up to DefaultMaxAttempts+1 calls in total.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the exponential backoff.
	DefaultBaseDelay = time.Second
	// maxDelay caps any single computed backoff interval.
	maxDelay = 30 * time.Second
)

// newBackoff builds the delay policy: base * 2^attempt with up to 10%
// jitter, capped at maxDelay.
func newBackoff(base time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = maxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs fn with attempts 0..maxAttempts inclusive. A non-retryable
// error, or a failure on the final attempt, is returned immediately.
// Each attempt may replace the previous error with a fresher
// classification; the last one wins. A BridgeError carrying RetryAfter
// overrides the computed delay for that round.
func Do[T any](ctx context.Context, logger *slog.Logger, maxAttempts int, base time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}

	policy := newBackoff(base)

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		var be *bridgeerr.BridgeError
		retryable := errors.As(err, &be) && be.Retryable
		if !retryable || attempt >= maxAttempts {
			return zero, err
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop || delay > maxDelay {
			delay = maxDelay
		}
		if be.RetryAfter > 0 {
			delay = be.RetryAfter
		}

		if logger != nil {
			logger.Warn("retrying request",
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"delay_ms", delay.Milliseconds(),
				"code", string(be.Code),
				"provider", be.Provider,
			)
		}

		select {
		case <-ctx.Done():
			return zero, bridgeerr.Wrap(bridgeerr.CodeCancelled, be.Provider,
				"cancelled while waiting to retry", ctx.Err())
		case <-time.After(delay):
		}
	}
}
