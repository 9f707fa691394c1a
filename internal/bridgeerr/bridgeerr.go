// Package bridgeerr defines the canonical error taxonomy every
// provider failure is normalized into, and the classifier that maps
// heterogeneous HTTP status codes and provider error payloads onto it.
package bridgeerr

import (
	"fmt"
	"time"
)

// Code is a canonical error code. Retryability is a pure function of
// the code so retry decisions are deterministic for a given error.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeInvalidAPIKey  Code = "invalid_api_key"
	CodeAuthentication Code = "authentication_error"
	CodeRateLimit      Code = "rate_limit_exceeded"
	CodeContextLength  Code = "context_length_exceeded"
	CodeServerError    Code = "server_error"
	CodeNetworkError   Code = "network_error"
	CodeTimeout        Code = "timeout"
	CodeCancelled      Code = "cancelled"
	CodeToolExecution  Code = "tool_execution_failed"
	CodeStreamLimit    Code = "stream_limit_exceeded"
	CodeConfiguration  Code = "configuration_error"
	CodeAPIError       Code = "api_error"
)

// Retryable reports whether an error with this code is worth retrying.
func (c Code) Retryable() bool {
	switch c {
	case CodeServerError, CodeNetworkError, CodeTimeout, CodeRateLimit:
		return true
	default:
		return false
	}
}

// suggestedFix returns remediation text for codes where one is known.
func suggestedFix(c Code) string {
	switch c {
	case CodeInvalidAPIKey, CodeAuthentication:
		return "verify your API key in settings"
	case CodeRateLimit:
		return "wait a moment before sending another request"
	case CodeContextLength:
		return "shorten the conversation or reduce max_tokens"
	case CodeConfiguration:
		return "check the provider configuration for this agent"
	case CodeStreamLimit:
		return "the response exceeded streaming limits; try a smaller request"
	default:
		return ""
	}
}

// BridgeError is the canonical error shape crossing the bridge
// boundary. It is constructed where a failure is detected and may be
// replaced by a fresher classification on each retry attempt.
type BridgeError struct {
	Message      string
	Code         Code
	Provider     string
	StatusCode   int
	RetryAfter   time.Duration
	Retryable    bool
	SuggestedFix string
	Cause        error
}

func (e *BridgeError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *BridgeError) Unwrap() error { return e.Cause }

// New constructs a BridgeError with retryability and remediation
// derived from the code.
func New(code Code, provider, message string) *BridgeError {
	return &BridgeError{
		Message:      message,
		Code:         code,
		Provider:     provider,
		Retryable:    code.Retryable(),
		SuggestedFix: suggestedFix(code),
	}
}

// Newf is New with printf formatting.
func Newf(code Code, provider, format string, args ...any) *BridgeError {
	return New(code, provider, fmt.Sprintf(format, args...))
}

// Wrap constructs a BridgeError that retains the underlying cause.
func Wrap(code Code, provider, message string, cause error) *BridgeError {
	e := New(code, provider, message)
	e.Cause = cause
	return e
}
