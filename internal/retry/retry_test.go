package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), nil, 3, time.Millisecond, func() (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), nil, 3, time.Millisecond, func() (string, error) {
		calls++
		if calls < 3 {
			return "", bridgeerr.New(bridgeerr.CodeServerError, "openai", "upstream hiccup")
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), nil, 3, time.Millisecond, func() (int, error) {
		calls++
		return 0, bridgeerr.New(bridgeerr.CodeInvalidAPIKey, "openai", "bad key")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")

	var be *bridgeerr.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bridgeerr.CodeInvalidAPIKey, be.Code)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), nil, 2, time.Millisecond, func() (int, error) {
		calls++
		return 0, bridgeerr.New(bridgeerr.CodeTimeout, "ollama", "slow model")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "maxAttempts retries plus the initial attempt")
}

func TestDoLastErrorWins(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), nil, 1, time.Millisecond, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, bridgeerr.New(bridgeerr.CodeServerError, "openai", "first failure")
		}
		return 0, bridgeerr.New(bridgeerr.CodeRateLimit, "openai", "second failure")
	})

	require.Error(t, err)
	var be *bridgeerr.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bridgeerr.CodeRateLimit, be.Code)
	assert.Equal(t, "second failure", be.Message)
}

func TestDoNonBridgeErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), nil, 3, time.Millisecond, func() (int, error) {
		calls++
		return 0, errors.New("something unexpected")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetryAfterOverridesBackoff(t *testing.T) {
	e := bridgeerr.New(bridgeerr.CodeRateLimit, "openai", "slow down")
	e.RetryAfter = 150 * time.Millisecond

	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), nil, 1, time.Millisecond, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, e
		}
		return 42, nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond,
		"Retry-After must override the computed backoff delay")
}

func TestDoCancelledDuringWait(t *testing.T) {
	e := bridgeerr.New(bridgeerr.CodeServerError, "openai", "flaky")
	e.RetryAfter = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, nil, 3, time.Millisecond, func() (int, error) {
		return 0, e
	})

	require.Error(t, err)
	var be *bridgeerr.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bridgeerr.CodeCancelled, be.Code)
	assert.ErrorIs(t, err, context.Canceled)
}
