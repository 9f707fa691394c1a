package providers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
	"github.com/codeweaver-ai/llm-bridge-go/internal/chat"
	"github.com/codeweaver-ai/llm-bridge-go/internal/config"
)

const defaultOllamaBase = "http://localhost:11434"

// ollamaRequest nests tuning under options and never carries tools:
// tool calling is disabled for this provider by capability flag.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// ollamaResponse is one NDJSON object; the same shape serves both the
// complete non-streaming response and each streamed line.
type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

func ollamaBase(agent config.Agent) string {
	if agent.Endpoint != "" {
		return strings.TrimSuffix(agent.Endpoint, "/")
	}
	return defaultOllamaBase
}

func buildOllamaRequest(agent config.Agent, messages []chat.Message, opts chat.RequestOptions) (*BuiltRequest, error) {
	req := ollamaRequest{
		Model:    agent.Model,
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   opts.Stream,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}

	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeInvalidRequest, Ollama,
			"marshal request body", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return &BuiltRequest{
		Method: http.MethodPost,
		URL:    ollamaBase(agent) + "/api/chat",
		Header: header,
		Body:   body,
	}, nil
}

func parseOllamaResponse(status int, header http.Header, body []byte) (*chat.Response, error) {
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.CodeAPIError, Ollama,
			"unparsable response body", err)
	}
	if resp.Error != "" {
		return nil, bridgeerr.Classify(Ollama, status, header, body)
	}

	result := &chat.Response{
		Content:      resp.Message.Content,
		FinishReason: mapOllamaDoneReason(resp.DoneReason, resp.Done),
		Metadata:     map[string]any{"model": resp.Model},
	}

	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		result.Usage = &chat.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}
	}

	return result, nil
}

func mapOllamaDoneReason(reason string, done bool) chat.FinishReason {
	switch reason {
	case "stop":
		return chat.FinishStop
	case "length":
		return chat.FinishLength
	case "":
		if done {
			return chat.FinishStop
		}
		return chat.FinishError
	default:
		return chat.FinishError
	}
}

// parseOllamaStreamLine handles newline-delimited JSON; there is no
// SSE framing and no [DONE] sentinel, just a done:true object.
func parseOllamaStreamLine(line string) (delta string, finish chat.FinishReason, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false, false
	}

	var obj ollamaResponse
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return "", "", false, false
	}

	if obj.Done {
		return obj.Message.Content, mapOllamaDoneReason(obj.DoneReason, true), true, true
	}
	return obj.Message.Content, "", false, true
}

func buildOllamaProbe(agent config.Agent) (*BuiltRequest, error) {
	return &BuiltRequest{
		Method: http.MethodGet,
		URL:    ollamaBase(agent) + "/api/tags",
		Header: http.Header{},
	}, nil
}
