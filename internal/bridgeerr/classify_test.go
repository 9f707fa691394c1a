package bridgeerr

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   http.Header
		body     string
		wantCode Code
	}{
		{
			name:     "provider type wins over status",
			status:   http.StatusBadRequest,
			body:     `{"error": {"type": "rate_limit_error", "message": "slow down"}}`,
			wantCode: CodeRateLimit,
		},
		{
			name:     "provider code field consulted",
			status:   http.StatusBadRequest,
			body:     `{"error": {"type": "invalid_request_error", "code": "context_length_exceeded", "message": "too long"}}`,
			wantCode: CodeContextLength,
		},
		{
			name:     "401 maps to invalid api key",
			status:   http.StatusUnauthorized,
			body:     `{"error": {"message": "bad key"}}`,
			wantCode: CodeInvalidAPIKey,
		},
		{
			name:     "403 maps to invalid api key",
			status:   http.StatusForbidden,
			body:     ``,
			wantCode: CodeInvalidAPIKey,
		},
		{
			name:     "402 maps to authentication error",
			status:   http.StatusPaymentRequired,
			body:     ``,
			wantCode: CodeAuthentication,
		},
		{
			name:     "429 maps to rate limit",
			status:   http.StatusTooManyRequests,
			body:     ``,
			wantCode: CodeRateLimit,
		},
		{
			name:     "413 maps to context length",
			status:   http.StatusRequestEntityTooLarge,
			body:     ``,
			wantCode: CodeContextLength,
		},
		{
			name:     "503 maps to server error",
			status:   http.StatusServiceUnavailable,
			body:     `upstream unavailable`,
			wantCode: CodeServerError,
		},
		{
			name:     "unknown 4xx maps to invalid request",
			status:   http.StatusConflict,
			body:     ``,
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "heuristics catch rate limit text on 2xx",
			status:   http.StatusOK,
			body:     `{"error": "rate limit reached for this model"}`,
			wantCode: CodeRateLimit,
		},
		{
			name:     "heuristics catch context length text on 2xx",
			status:   http.StatusOK,
			body:     `{"error": {"message": "This model's maximum context length is 8192 tokens"}}`,
			wantCode: CodeContextLength,
		},
		{
			name:     "nothing matches falls back to api error",
			status:   http.StatusOK,
			body:     `{"error": "model not found"}`,
			wantCode: CodeAPIError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify("openai", tt.status, tt.header, []byte(tt.body))
			require.NotNil(t, e)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, tt.wantCode.Retryable(), e.Retryable)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestClassifyRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")

	e := Classify("openai", http.StatusTooManyRequests, header, nil)
	assert.Equal(t, 7*time.Second, e.RetryAfter)
}

func TestClassifyRetryAfterHTTPDate(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))

	e := Classify("anthropic", http.StatusTooManyRequests, header, nil)
	assert.Greater(t, e.RetryAfter, 5*time.Second)
	assert.LessOrEqual(t, e.RetryAfter, 10*time.Second)
}

func TestClassifyRetryAfterIgnoredOffRateLimit(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")

	e := Classify("openai", http.StatusServiceUnavailable, header, nil)
	assert.Zero(t, e.RetryAfter)
}

func TestFromTransport(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode Code
	}{
		{"cancellation", context.Canceled, CodeCancelled},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"plain network failure", errors.New("dial tcp: connection refused"), CodeNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := FromTransport("ollama", tt.err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.ErrorIs(t, e, tt.err)
		})
	}
}

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "fake net error" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

func TestFromTransportNetTimeout(t *testing.T) {
	e := FromTransport("openai", fakeNetError{timeout: true})
	assert.Equal(t, CodeTimeout, e.Code)

	e = FromTransport("openai", fakeNetError{timeout: false})
	assert.Equal(t, CodeNetworkError, e.Code)
}
