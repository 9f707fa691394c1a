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
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	openAIDonePayload     = "[DONE]"
	ssePrefix             = "data: "
)

// openAIRequest is the OpenAI chat-completions body. Custom providers
// reuse this shape against their own endpoint.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
}

type openAIChoice struct {
	Message      openAIRespMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIRespMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func openAIEndpoint(agent config.Agent) string {
	if agent.Endpoint != "" {
		return agent.Endpoint
	}
	return defaultOpenAIEndpoint
}

func openAIHeaders(agent config.Agent) http.Header {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if agent.APIKey != "" {
		header.Set("Authorization", "Bearer "+agent.APIKey)
	}
	return header
}

func buildOpenAIRequest(agent config.Agent, messages []chat.Message, opts chat.RequestOptions, endpoint string) (*BuiltRequest, error) {
	req := openAIRequest{
		Model:       agent.Model,
		Messages:    make([]openAIMessage, 0, len(messages)),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      opts.Stream,
	}

	for _, m := range messages {
		req.Messages = append(req.Messages, openAIMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	if len(opts.Tools) > 0 {
		req.Tools = make([]openAITool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			req.Tools = append(req.Tools, openAITool{
				Type: "function",
				Function: openAIFunctionDef{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeInvalidRequest, agent.Provider,
			"marshal request body", err)
	}

	return &BuiltRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: openAIHeaders(agent),
		Body:   body,
	}, nil
}

func parseOpenAIResponse(provider string, status int, header http.Header, body []byte) (*chat.Response, error) {
	// Error envelopes can arrive with a 200 on some compatible servers.
	if hasErrorEnvelope(body) {
		return nil, bridgeerr.Classify(provider, status, header, body)
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeAPIError, provider,
			"unparsable response body", err)
	}
	if len(resp.Choices) == 0 {
		return nil, bridgeerr.New(bridgeerr.CodeAPIError, provider,
			"response contains no choices")
	}

	choice := resp.Choices[0]
	result := &chat.Response{
		Content:      choice.Message.Content,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Metadata:     map[string]any{"id": resp.ID, "model": resp.Model},
	}

	for _, tc := range choice.Message.ToolCalls {
		params := map[string]any{}
		if tc.Function.Arguments != "" {
			// Malformed arguments degrade to an empty object rather
			// than failing the whole response.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &params)
		}
		result.ToolCalls = append(result.ToolCalls, chat.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: params,
		})
	}

	if resp.Usage != nil {
		result.Usage = &chat.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		}
	}

	return result, nil
}

// mapOpenAIFinishReason is total: every provider value maps to exactly
// one canonical value and unrecognized values map to Error, never Stop.
func mapOpenAIFinishReason(reason string) chat.FinishReason {
	switch reason {
	case "stop":
		return chat.FinishStop
	case "length":
		return chat.FinishLength
	case "tool_calls", "function_call":
		return chat.FinishToolCalls
	default:
		return chat.FinishError
	}
}

func parseOpenAIStreamLine(line string) (delta string, finish chat.FinishReason, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ssePrefix) {
		return "", "", false, false
	}

	payload := strings.TrimPrefix(line, ssePrefix)
	if payload == openAIDonePayload {
		return "", "", true, true
	}

	var chunk openAIStreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", "", false, false
	}
	if len(chunk.Choices) == 0 {
		return "", "", false, false
	}

	choice := chunk.Choices[0]
	if fr := choice.FinishReason; fr != nil && *fr != "" {
		finish = mapOpenAIFinishReason(*fr)
	}
	return choice.Delta.Content, finish, false, true
}

func hasErrorEnvelope(body []byte) bool {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	return len(envelope.Error) > 0 && string(envelope.Error) != "null"
}

func buildOpenAIProbe(agent config.Agent) (*BuiltRequest, error) {
	// List models: cheap, requires valid credentials, no token spend.
	url := "https://api.openai.com/v1/models"
	if agent.Endpoint != "" {
		url = strings.TrimSuffix(agent.Endpoint, "/chat/completions") + "/models"
	}

	return &BuiltRequest{
		Method: http.MethodGet,
		URL:    url,
		Header: openAIHeaders(agent),
	}, nil
}

func buildCustomProbe(agent config.Agent) (*BuiltRequest, error) {
	if agent.Endpoint == "" {
		return nil, bridgeerr.New(bridgeerr.CodeConfiguration, Custom,
			"custom provider requires an endpoint")
	}

	return buildOpenAIRequest(agent,
		[]chat.Message{{Role: chat.RoleUser, Content: "ping"}},
		chat.RequestOptions{Temperature: 0, MaxTokens: 1, Timeout: config.DefaultTimeout},
		agent.Endpoint)
}
