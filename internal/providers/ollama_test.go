package providers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
	"github.com/codeweaver-ai/llm-bridge-go/internal/chat"
	"github.com/codeweaver-ai/llm-bridge-go/internal/config"
)

func ollamaAgent() config.Agent {
	return config.Agent{Provider: Ollama, Model: "llama3.2"}
}

func TestBuildOllamaRequest(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleSystem, Content: "Be brief"},
		{Role: chat.RoleUser, Content: "Hello"},
	}
	opts := chat.RequestOptions{Temperature: 0.4, MaxTokens: 128, Timeout: config.DefaultTimeout}

	built, err := BuildRequest(ollamaAgent(), messages, opts)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, built.Method)
	assert.Equal(t, defaultOllamaBase+"/api/chat", built.URL)
	assert.Empty(t, built.Header.Get("Authorization"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(built.Body, &body))

	assert.Equal(t, "llama3.2", body["model"])
	assert.Equal(t, false, body["stream"])

	// Tuning lives under options, not at the top level.
	options, ok := body["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.4, options["temperature"])
	assert.Equal(t, float64(128), options["num_predict"])
	assert.NotContains(t, body, "temperature")
	assert.NotContains(t, body, "max_tokens")
}

func TestBuildOllamaRequest_NeverForwardsTools(t *testing.T) {
	opts := chat.RequestOptions{Temperature: 0.4, MaxTokens: 128, Timeout: config.DefaultTimeout}
	opts.Tools = []chat.ToolSpec{{Name: "search"}}

	built, err := BuildRequest(ollamaAgent(), []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, opts)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(built.Body, &body))
	assert.NotContains(t, body, "tools")

	caps, ok := CapabilitiesFor(Ollama)
	require.True(t, ok)
	assert.False(t, caps.Tools)
}

func TestBuildOllamaRequest_EndpointOverride(t *testing.T) {
	agent := ollamaAgent()
	agent.Endpoint = "http://remote:11434/"

	built, err := BuildRequest(agent, []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, testOptions())
	require.NoError(t, err)
	assert.Equal(t, "http://remote:11434/api/chat", built.URL)
}

func TestParseOllamaResponse(t *testing.T) {
	body := []byte(`{
		"model": "llama3.2",
		"message": {"role": "assistant", "content": "Hi there"},
		"done": true,
		"done_reason": "stop",
		"prompt_eval_count": 20,
		"eval_count": 7
	}`)

	resp, err := ParseResponse(Ollama, http.StatusOK, nil, body)
	require.NoError(t, err)

	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, chat.FinishStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 20, resp.Usage.PromptTokens)
	assert.Equal(t, 7, resp.Usage.CompletionTokens)
	assert.Equal(t, 27, resp.Usage.TotalTokens)
}

// A 200 with an error body still maps to a classified error.
func TestParseOllamaResponse_ErrorBody(t *testing.T) {
	body := []byte(`{"error": "model not found"}`)

	_, err := ParseResponse(Ollama, http.StatusOK, nil, body)
	require.Error(t, err)

	var be *bridgeerr.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bridgeerr.CodeAPIError, be.Code)
	assert.Contains(t, be.Message, "model not found")
}

func TestMapOllamaDoneReason(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		done   bool
		want   chat.FinishReason
	}{
		{"explicit stop", "stop", true, chat.FinishStop},
		{"explicit length", "length", true, chat.FinishLength},
		{"done without reason", "", true, chat.FinishStop},
		{"not done without reason", "", false, chat.FinishError},
		{"unknown reason", "weird", true, chat.FinishError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapOllamaDoneReason(tt.reason, tt.done))
		})
	}
}

func TestParseOllamaStreamLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantDelta  string
		wantFinish chat.FinishReason
		wantDone   bool
		wantOK     bool
	}{
		{
			name:      "content line",
			line:      `{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			wantDelta: "Hel",
			wantOK:    true,
		},
		{
			name:       "terminal line may carry content",
			line:       `{"message":{"role":"assistant","content":"lo"},"done":true,"done_reason":"stop"}`,
			wantDelta:  "lo",
			wantFinish: chat.FinishStop,
			wantDone:   true,
			wantOK:     true,
		},
		{
			name:       "terminal line with length reason",
			line:       `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"length"}`,
			wantFinish: chat.FinishLength,
			wantDone:   true,
			wantOK:     true,
		},
		{
			name:   "blank line skipped",
			line:   "   ",
			wantOK: false,
		},
		{
			name:   "malformed line skipped",
			line:   `{"message":`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, finish, done, ok := ParseStreamLine(Ollama, tt.line)
			assert.Equal(t, tt.wantDelta, delta)
			assert.Equal(t, tt.wantFinish, finish)
			assert.Equal(t, tt.wantDone, done)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestBuildOllamaProbe(t *testing.T) {
	built, err := BuildProbe(ollamaAgent())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, built.Method)
	assert.Equal(t, defaultOllamaBase+"/api/tags", built.URL)
}
