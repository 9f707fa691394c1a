package providers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
	"github.com/codeweaver-ai/llm-bridge-go/internal/chat"
	"github.com/codeweaver-ai/llm-bridge-go/internal/config"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion      = "2023-06-01"

	// Anthropic rejects requests without max_tokens; this is the one
	// provider where omitting it is itself an error.
	anthropicDefaultMaxTokens = 4096
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      *anthropicUsage         `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

func anthropicEndpoint(agent config.Agent) string {
	if agent.Endpoint != "" {
		return agent.Endpoint
	}
	return defaultAnthropicEndpoint
}

func anthropicHeaders(agent config.Agent) http.Header {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("anthropic-version", anthropicAPIVersion)
	if agent.APIKey != "" {
		header.Set("x-api-key", agent.APIKey)
	}
	return header
}

func buildAnthropicRequest(agent config.Agent, messages []chat.Message, opts chat.RequestOptions) (*BuiltRequest, error) {
	system, rest := splitSystemMessages(messages)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	temperature := opts.Temperature
	req := anthropicRequest{
		Model:       agent.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    rest,
		Temperature: &temperature,
		Stream:      opts.Stream,
	}

	if len(opts.Tools) > 0 {
		req.Tools = make([]anthropicTool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			req.Tools = append(req.Tools, anthropicTool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.Parameters,
			})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeInvalidRequest, Anthropic,
			"marshal request body", err)
	}

	return &BuiltRequest{
		Method: http.MethodPost,
		URL:    anthropicEndpoint(agent),
		Header: anthropicHeaders(agent),
		Body:   body,
	}, nil
}

// splitSystemMessages extracts system-role content into the dedicated
// system field (joined by blank lines) and coalesces the remaining
// messages so the array strictly alternates user/assistant.
func splitSystemMessages(messages []chat.Message) (string, []anthropicMessage) {
	var systemParts []string
	rest := make([]anthropicMessage, 0, len(messages))

	for _, m := range messages {
		if m.Role == chat.RoleSystem {
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}
			continue
		}

		role := string(m.Role)
		if n := len(rest); n > 0 && rest[n-1].Role == role {
			rest[n-1].Content += "\n\n" + m.Content
			continue
		}
		rest = append(rest, anthropicMessage{Role: role, Content: m.Content})
	}

	return strings.Join(systemParts, "\n\n"), rest
}

func parseAnthropicResponse(status int, header http.Header, body []byte) (*chat.Response, error) {
	if hasErrorEnvelope(body) {
		return nil, bridgeerr.Classify(Anthropic, status, header, body)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeAPIError, Anthropic,
			"unparsable response body", err)
	}
	if len(resp.Content) == 0 {
		return nil, bridgeerr.New(bridgeerr.CodeAPIError, Anthropic,
			"response contains no content blocks")
	}

	result := &chat.Response{
		FinishReason: mapAnthropicStopReason(resp.StopReason),
		Metadata:     map[string]any{"id": resp.ID, "model": resp.Model},
	}

	var content strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, chat.ToolCall{
				ID:         block.ID,
				Name:       block.Name,
				Parameters: block.Input,
			})
		}
	}
	result.Content = content.String()

	if resp.Usage != nil {
		result.Usage = &chat.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}

	return result, nil
}

func mapAnthropicStopReason(reason string) chat.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return chat.FinishStop
	case "max_tokens":
		return chat.FinishLength
	case "tool_use":
		return chat.FinishToolCalls
	default:
		return chat.FinishError
	}
}

// parseAnthropicStreamLine handles named SSE events. The payload's own
// type field is authoritative, so "event:" lines are ignorable.
func parseAnthropicStreamLine(line string) (delta string, finish chat.FinishReason, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ssePrefix) {
		return "", "", false, false
	}

	var event anthropicStreamEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, ssePrefix)), &event); err != nil {
		return "", "", false, false
	}

	switch event.Type {
	case "content_block_delta":
		return event.Delta.Text, "", false, true
	case "message_delta":
		// message_delta carries the stop reason alongside any text.
		if event.Delta.StopReason != "" {
			finish = mapAnthropicStopReason(event.Delta.StopReason)
		}
		return event.Delta.Text, finish, false, true
	case "message_stop":
		return "", "", true, true
	case "":
		return "", "", false, false
	default:
		// message_start, content_block_start/stop, ping: no content.
		return "", "", false, true
	}
}

func buildAnthropicProbe(agent config.Agent) (*BuiltRequest, error) {
	// A one-token completion is the cheapest authenticated call; an
	// expected 4xx still proves reachability and credential validity.
	return buildAnthropicRequest(agent,
		[]chat.Message{{Role: chat.RoleUser, Content: "ping"}},
		chat.RequestOptions{Temperature: 0, MaxTokens: 1, Timeout: config.DefaultTimeout})
}
