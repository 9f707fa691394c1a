// Package providers translates the canonical chat model to and from
// each supported provider's wire format: request bodies and headers,
// complete JSON responses, and streamed frames (SSE lines or NDJSON
// objects). Builders and parsers are pure; no I/O happens here.
package providers

import (
	"net/http"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
	"github.com/codeweaver-ai/llm-bridge-go/internal/chat"
	"github.com/codeweaver-ai/llm-bridge-go/internal/config"
)

// Supported provider identifiers.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Ollama    = "ollama"
	Custom    = "custom"
)

// Capabilities declares what a provider supports. Tool calling is an
// explicit flag rather than an implicit omission in the builder.
type Capabilities struct {
	Tools     bool
	Streaming bool
}

var capabilities = map[string]Capabilities{
	OpenAI:    {Tools: true, Streaming: true},
	Anthropic: {Tools: true, Streaming: true},
	Ollama:    {Tools: false, Streaming: true},
	Custom:    {Tools: true, Streaming: true},
}

// CapabilitiesFor returns the capability flags for a provider.
func CapabilitiesFor(provider string) (Capabilities, bool) {
	caps, ok := capabilities[provider]
	return caps, ok
}

// Known reports whether the provider identifier is supported.
func Known(provider string) bool {
	_, ok := capabilities[provider]
	return ok
}

// BuiltRequest is the provider-specific HTTP request produced by a
// builder. Building is deterministic: identical inputs yield a
// byte-identical body.
type BuiltRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// BuildRequest turns canonical messages plus options into a
// provider-specific request.
func BuildRequest(agent config.Agent, messages []chat.Message, opts chat.RequestOptions) (*BuiltRequest, error) {
	switch agent.Provider {
	case OpenAI:
		return buildOpenAIRequest(agent, messages, opts, openAIEndpoint(agent))
	case Custom:
		if agent.Endpoint == "" {
			return nil, bridgeerr.New(bridgeerr.CodeConfiguration, Custom,
				"custom provider requires an endpoint")
		}
		// Custom endpoints are assumed OpenAI-compatible.
		return buildOpenAIRequest(agent, messages, opts, agent.Endpoint)
	case Anthropic:
		return buildAnthropicRequest(agent, messages, opts)
	case Ollama:
		return buildOllamaRequest(agent, messages, opts)
	default:
		return nil, bridgeerr.Newf(bridgeerr.CodeConfiguration, agent.Provider,
			"unknown provider %q", agent.Provider)
	}
}

// ParseResponse converts a complete provider response into the
// canonical shape. A non-2xx status or an error-carrying body yields a
// classified BridgeError.
func ParseResponse(provider string, status int, header http.Header, body []byte) (*chat.Response, error) {
	if status < 200 || status >= 300 {
		return nil, bridgeerr.Classify(provider, status, header, body)
	}

	switch provider {
	case OpenAI, Custom:
		return parseOpenAIResponse(provider, status, header, body)
	case Anthropic:
		return parseAnthropicResponse(status, header, body)
	case Ollama:
		return parseOllamaResponse(status, header, body)
	default:
		return nil, bridgeerr.Newf(bridgeerr.CodeConfiguration, provider,
			"unknown provider %q", provider)
	}
}

// ParseStreamLine extracts a content delta from one raw protocol line.
// ok is false for ignorable or malformed lines; a single bad frame
// never aborts the stream. done marks the provider's terminal signal.
// finish carries the canonical finish reason when the frame declared
// one, "" otherwise.
func ParseStreamLine(provider, line string) (delta string, finish chat.FinishReason, done bool, ok bool) {
	switch provider {
	case OpenAI, Custom:
		return parseOpenAIStreamLine(line)
	case Anthropic:
		return parseAnthropicStreamLine(line)
	case Ollama:
		return parseOllamaStreamLine(line)
	default:
		return "", "", false, false
	}
}

// BuildProbe constructs the minimal request ValidateConnection sends:
// a models listing for OpenAI, a one-token completion for Anthropic, a
// tags listing for Ollama, and a minimal send for custom endpoints.
func BuildProbe(agent config.Agent) (*BuiltRequest, error) {
	switch agent.Provider {
	case OpenAI:
		return buildOpenAIProbe(agent)
	case Anthropic:
		return buildAnthropicProbe(agent)
	case Ollama:
		return buildOllamaProbe(agent)
	case Custom:
		return buildCustomProbe(agent)
	default:
		return nil, bridgeerr.Newf(bridgeerr.CodeConfiguration, agent.Provider,
			"unknown provider %q", agent.Provider)
	}
}
