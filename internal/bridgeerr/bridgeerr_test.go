package bridgeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeInvalidRequest, false},
		{CodeInvalidAPIKey, false},
		{CodeAuthentication, false},
		{CodeRateLimit, true},
		{CodeContextLength, false},
		{CodeServerError, true},
		{CodeNetworkError, true},
		{CodeTimeout, true},
		{CodeCancelled, false},
		{CodeToolExecution, false},
		{CodeStreamLimit, false},
		{CodeConfiguration, false},
		{CodeAPIError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Retryable())
		})
	}
}

func TestNewDerivesFieldsFromCode(t *testing.T) {
	e := New(CodeRateLimit, "openai", "slow down")

	assert.True(t, e.Retryable)
	assert.NotEmpty(t, e.SuggestedFix)
	assert.Equal(t, "openai: slow down (rate_limit_exceeded)", e.Error())
}

func TestErrorWithoutProvider(t *testing.T) {
	e := New(CodeConfiguration, "", "no endpoint set")
	assert.Equal(t, "no endpoint set (configuration_error)", e.Error())
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	e := Wrap(CodeNetworkError, "ollama", "dial failed", cause)

	require.ErrorIs(t, e, cause)

	var be *BridgeError
	require.ErrorAs(t, error(e), &be)
	assert.Equal(t, CodeNetworkError, be.Code)
}
