package bridgeerr

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// providerError covers the error envelopes the supported providers
// emit. OpenAI and Anthropic nest an object; Ollama returns a bare
// string in the "error" field.
type providerError struct {
	Error json.RawMessage `json:"error"`
}

type providerErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Classify maps an HTTP failure onto the canonical taxonomy.
// Precedence: explicit provider error type/code field, then HTTP
// status, then message-substring heuristics as a last resort.
func Classify(provider string, status int, header http.Header, body []byte) *BridgeError {
	message, typeOrCode := extractProviderError(body)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	code := codeFromProviderType(typeOrCode)
	if code == "" {
		code = codeFromStatus(status)
	}
	if code == "" {
		code = codeFromHeuristics(message)
	}
	if code == "" {
		code = CodeAPIError
	}

	e := New(code, provider, message)
	e.StatusCode = status
	if code == CodeRateLimit {
		e.RetryAfter = parseRetryAfter(header)
	}
	return e
}

// FromTransport normalizes errors raised before an HTTP response
// exists: dial failures, timeouts, cancellation.
func FromTransport(provider string, err error) *BridgeError {
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(CodeCancelled, provider, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeTimeout, provider, "request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(CodeTimeout, provider, "request timed out", err)
	}

	return Wrap(CodeNetworkError, provider, err.Error(), err)
}

func extractProviderError(body []byte) (message, typeOrCode string) {
	var envelope providerError
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return "", ""
	}

	// Ollama shape: {"error": "model not found"}
	var plain string
	if err := json.Unmarshal(envelope.Error, &plain); err == nil {
		return plain, ""
	}

	// OpenAI / Anthropic shape: {"error": {"type": ..., "message": ...}}
	var detail providerErrorDetail
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		typeOrCode = detail.Type
		if detail.Code != "" {
			typeOrCode = detail.Code
		}
		return detail.Message, typeOrCode
	}

	return "", ""
}

func codeFromProviderType(typeOrCode string) Code {
	switch typeOrCode {
	case "invalid_request_error", "invalid_request":
		return CodeInvalidRequest
	case "authentication_error", "invalid_api_key", "permission_error", "forbidden":
		return CodeInvalidAPIKey
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota":
		return CodeRateLimit
	case "context_length_exceeded":
		return CodeContextLength
	case "overloaded_error", "api_error", "server_error", "internal_server_error":
		return CodeServerError
	case "timeout", "timeout_error":
		return CodeTimeout
	default:
		return ""
	}
}

func codeFromStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeInvalidAPIKey
	case status == http.StatusPaymentRequired:
		return CodeAuthentication
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusRequestTimeout:
		return CodeTimeout
	case status == http.StatusRequestEntityTooLarge:
		return CodeContextLength
	case status >= 500:
		return CodeServerError
	case status >= 400:
		return CodeInvalidRequest
	default:
		return ""
	}
}

func codeFromHeuristics(message string) Code {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "context length", "context_length", "maximum context", "too many tokens"):
		return CodeContextLength
	case containsAny(lower, "rate limit", "too many requests", "quota"):
		return CodeRateLimit
	case containsAny(lower, "api key", "unauthorized", "authentication"):
		return CodeInvalidAPIKey
	case containsAny(lower, "timeout", "deadline exceeded"):
		return CodeTimeout
	case containsAny(lower, "overloaded", "service unavailable", "internal server error"):
		return CodeServerError
	default:
		return ""
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// parseRetryAfter reads a Retry-After header given either as delay
// seconds or as an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}
