// Package chat defines the canonical, provider-agnostic data model the
// bridge converges on: messages going in, responses and tool calls
// coming out. Provider wire formats live in internal/providers.
package chat

import (
	"time"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation, in canonical form.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ToolSpec describes a tool the model may request, in JSON-schema form.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a structured invocation request emitted by the model.
// ID is opaque and provider-issued; it must survive the round trip so
// a result can be matched back to its invocation.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// FinishReason is the canonical reason a completion stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add merges another usage record additively. Nil receivers and nil
// arguments are tolerated so multi-round totals compose cleanly.
func (u *Usage) Add(other *Usage) *Usage {
	if u == nil {
		if other == nil {
			return nil
		}
		cp := *other
		return &cp
	}
	if other == nil {
		return u
	}
	return &Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Response is the canonical shape every provider response is parsed into.
type Response struct {
	Content      string         `json:"content"`
	FinishReason FinishReason   `json:"finish_reason"`
	Usage        *Usage         `json:"usage,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RequestOptions carries per-call tuning. Zero values are filled with
// defaults by the façade before validation.
type RequestOptions struct {
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
	Stream      bool          `json:"stream"`
	Tools       []ToolSpec    `json:"tools,omitempty"`
}

// Validate rejects out-of-range options before any network I/O.
func (o RequestOptions) Validate() error {
	if o.Temperature < 0 || o.Temperature > 2 {
		return bridgeerr.Newf(bridgeerr.CodeInvalidRequest, "",
			"temperature %.2f out of range [0, 2]", o.Temperature)
	}
	if o.MaxTokens <= 0 {
		return bridgeerr.Newf(bridgeerr.CodeInvalidRequest, "",
			"max_tokens must be positive, got %d", o.MaxTokens)
	}
	if o.Timeout <= 0 {
		return bridgeerr.Newf(bridgeerr.CodeInvalidRequest, "",
			"timeout must be positive, got %s", o.Timeout)
	}
	return nil
}

// StreamCallback receives incremental content. Within one stream,
// deltas arrive in byte order; the final invocation always has
// isComplete true and an empty delta on graceful completion.
type StreamCallback func(delta string, isComplete bool)
