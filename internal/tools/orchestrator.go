// Package tools sequences multi-round tool-calling conversations. The
// model asks to invoke tools, an external Executor runs them, results
// are folded back into the conversation, and exactly one follow-up
// completion is requested.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
	"github.com/codeweaver-ai/llm-bridge-go/internal/chat"
)

// SecurityPosture is passed through to the Executor so it can apply
// its own policy; the bridge never interprets it.
type SecurityPosture struct {
	Level          string
	AllowDangerous bool
}

// ExecutionContext identifies who is running tools and where.
type ExecutionContext struct {
	AgentID   string
	Workspace string
	Security  SecurityPosture
}

// ExecutionResult is the outcome of one tool call, keyed by the
// originating call so results can be matched back by ID.
type ExecutionResult struct {
	Call    chat.ToolCall
	Success bool
	Data    string
	Error   string
}

// Executor runs tool calls outside the bridge. It may return an error
// for policy violations (distinct from individual tool failures, which
// are reported per result).
type Executor interface {
	ExecuteToolCalls(ctx context.Context, calls []chat.ToolCall, execCtx ExecutionContext) ([]ExecutionResult, error)
}

// FollowUpFunc requests the single follow-up completion. The façade
// supplies a closure that re-sends with tools stripped, which bounds
// recursion: tool calls cannot chain within one bridge invocation.
type FollowUpFunc func(ctx context.Context, messages []chat.Message) (*chat.Response, error)

// Orchestrator drives one tool round trip.
type Orchestrator struct {
	executor Executor
	logger   *slog.Logger
}

func NewOrchestrator(executor Executor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{executor: executor, logger: logger}
}

// Run executes the tool calls in first, folds the results into the
// conversation, and issues exactly one follow-up request. The returned
// response carries the follow-up's content and finish reason, usage
// merged additively across both rounds, and the original tool calls in
// metadata for audit.
func (o *Orchestrator) Run(ctx context.Context, messages []chat.Message, first *chat.Response, execCtx ExecutionContext, followUp FollowUpFunc) (*chat.Response, error) {
	if o.executor == nil {
		return nil, bridgeerr.New(bridgeerr.CodeToolExecution, "",
			"model requested tool calls but no tool executor is configured")
	}

	results, err := o.executor.ExecuteToolCalls(ctx, first.ToolCalls, execCtx)
	if err != nil {
		// The executor itself refused (e.g. security policy). This
		// aborts the follow-up; per-tool failures do not land here.
		return nil, bridgeerr.Wrap(bridgeerr.CodeToolExecution, "",
			fmt.Sprintf("tool execution rejected: %v", err), err)
	}

	if o.logger != nil {
		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}
		o.logger.Info("executed tool calls",
			"agent", execCtx.AgentID,
			"calls", len(first.ToolCalls),
			"failed", failed,
		)
	}

	augmented := appendToolRound(messages, first, results)

	second, err := followUp(ctx, augmented)
	if err != nil {
		return nil, err
	}

	merged := &chat.Response{
		Content:      second.Content,
		FinishReason: second.FinishReason,
		Usage:        first.Usage.Add(second.Usage),
		Metadata:     map[string]any{"tool_calls": first.ToolCalls},
	}
	for k, v := range second.Metadata {
		merged.Metadata[k] = v
	}
	return merged, nil
}

// appendToolRound adds the assistant turn that requested the tools and
// one synthetic user message per result. The providers used here have
// no first-class tool role in the builder, so results travel as
// user-role text tagged with the originating call's id and name.
func appendToolRound(messages []chat.Message, first *chat.Response, results []ExecutionResult) []chat.Message {
	augmented := make([]chat.Message, 0, len(messages)+1+len(results))
	augmented = append(augmented, messages...)

	augmented = append(augmented, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   assistantToolSummary(first),
		Timestamp: time.Now(),
		Metadata:  map[string]any{"tool_calls": first.ToolCalls},
	})

	for _, r := range results {
		augmented = append(augmented, chat.Message{
			Role:      chat.RoleUser,
			Content:   formatResult(r),
			Timestamp: time.Now(),
			Metadata:  map[string]any{"tool_call_id": r.Call.ID},
		})
	}

	return augmented
}

func assistantToolSummary(first *chat.Response) string {
	if first.Content != "" {
		return first.Content
	}
	names := make([]string, 0, len(first.ToolCalls))
	for _, tc := range first.ToolCalls {
		names = append(names, tc.Name)
	}
	return fmt.Sprintf("[requested tools: %v]", names)
}

// formatResult renders one tool outcome for the model. Failures are
// surfaced to the model here rather than raised.
func formatResult(r ExecutionResult) string {
	if r.Success {
		return fmt.Sprintf("Tool %q (id %s) succeeded:\n%s", r.Call.Name, r.Call.ID, r.Data)
	}
	return fmt.Sprintf("Tool %q (id %s) failed: %s", r.Call.Name, r.Call.ID, r.Error)
}
