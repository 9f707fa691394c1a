// Package bridge is the single entry point to the multi-provider chat
// bridge: SendMessage, StreamMessage and ValidateConnection, wired per
// provider through the request builders, parsers, retry engine,
// streaming transport and tool-call orchestrator.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
	"github.com/codeweaver-ai/llm-bridge-go/internal/chat"
	"github.com/codeweaver-ai/llm-bridge-go/internal/config"
	"github.com/codeweaver-ai/llm-bridge-go/internal/providers"
	"github.com/codeweaver-ai/llm-bridge-go/internal/retry"
	"github.com/codeweaver-ai/llm-bridge-go/internal/stream"
	"github.com/codeweaver-ai/llm-bridge-go/internal/tools"
)

const probeTimeout = 15 * time.Second

// ContextInjector augments outgoing messages with workspace or
// personality context. It is best-effort: failures are swallowed and
// the original messages used unchanged.
type ContextInjector interface {
	AugmentWithContext(ctx context.Context, messages []chat.Message) ([]chat.Message, error)
}

// Bridge translates canonical chat calls into provider requests for
// one configured agent. Construction takes explicit collaborators; a
// Bridge holds no mutable per-call state and is safe for concurrent
// calls.
type Bridge struct {
	agent       config.Agent
	client      *http.Client
	transport   *stream.Transport
	executor    tools.Executor
	injector    ContextInjector
	logger      *slog.Logger
	execCtx     tools.ExecutionContext
	maxAttempts int
	baseDelay   time.Duration
	simulated   bool
}

type Option func(*Bridge)

// WithExecutor wires the external tool execution engine.
func WithExecutor(e tools.Executor) Option {
	return func(b *Bridge) { b.executor = e }
}

// WithInjector wires the best-effort system-context injector.
func WithInjector(i ContextInjector) Option {
	return func(b *Bridge) { b.injector = i }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) { b.client = c }
}

// WithRetryPolicy overrides the retry bounds.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(b *Bridge) {
		b.maxAttempts = maxAttempts
		b.baseDelay = baseDelay
	}
}

// WithExecutionContext sets the identity and security posture handed
// to the tool executor.
func WithExecutionContext(ec tools.ExecutionContext) Option {
	return func(b *Bridge) { b.execCtx = ec }
}

// WithSimulatedStreaming forces StreamMessage to use the non-streaming
// fallback, for environments that cannot hold a streaming connection.
func WithSimulatedStreaming(on bool) Option {
	return func(b *Bridge) { b.simulated = on }
}

func New(agent config.Agent, opts ...Option) (*Bridge, error) {
	if !providers.Known(agent.Provider) {
		return nil, bridgeerr.Newf(bridgeerr.CodeConfiguration, agent.Provider,
			"unknown provider %q", agent.Provider)
	}
	if agent.Provider == providers.Custom && agent.Endpoint == "" {
		return nil, bridgeerr.New(bridgeerr.CodeConfiguration, providers.Custom,
			"custom provider requires an endpoint")
	}

	b := &Bridge{
		agent:       agent,
		client:      http.DefaultClient,
		logger:      slog.Default(),
		maxAttempts: retry.DefaultMaxAttempts,
		baseDelay:   retry.DefaultBaseDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.transport = stream.NewTransport(b.client, b.logger)
	return b, nil
}

// SendMessage issues one completion, retrying transient failures, and
// drives the tool-call orchestrator when the model requests tools.
func (b *Bridge) SendMessage(ctx context.Context, messages []chat.Message, opts chat.RequestOptions) (*chat.Response, error) {
	opts = b.applyDefaults(opts)
	opts.Stream = false
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = b.applyCapabilities(opts)

	messages = b.augment(ctx, messages)
	requestID := uuid.NewString()
	start := time.Now()

	resp, err := retry.Do(ctx, b.logger, b.maxAttempts, b.baseDelay, func() (*chat.Response, error) {
		return b.sendOnce(ctx, messages, opts)
	})
	if err != nil {
		return nil, err
	}

	// Without an executor the caller owns tool handling and sees the
	// tool calls directly.
	if resp.FinishReason == chat.FinishToolCalls && len(resp.ToolCalls) > 0 && b.executor != nil {
		orch := tools.NewOrchestrator(b.executor, b.logger)
		resp, err = orch.Run(ctx, messages, resp, b.execCtx, func(ctx context.Context, augmented []chat.Message) (*chat.Response, error) {
			// Tools are omitted on the follow-up so calls cannot chain.
			followOpts := opts
			followOpts.Tools = nil
			return retry.Do(ctx, b.logger, b.maxAttempts, b.baseDelay, func() (*chat.Response, error) {
				return b.sendOnce(ctx, augmented, followOpts)
			})
		})
		if err != nil {
			return nil, err
		}
	}

	b.finalize(resp, messages, requestID)
	b.logger.Info("send complete",
		"provider", b.agent.Provider,
		"request_id", requestID,
		"latency_ms", time.Since(start).Milliseconds(),
		"finish_reason", string(resp.FinishReason),
	)
	return resp, nil
}

// StreamMessage issues a streaming completion, invoking cb for each
// content delta. The returned response's content is the concatenation
// of all emitted deltas.
func (b *Bridge) StreamMessage(ctx context.Context, messages []chat.Message, cb chat.StreamCallback, opts chat.RequestOptions) (*chat.Response, error) {
	opts = b.applyDefaults(opts)
	opts.Stream = true
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = b.applyCapabilities(opts)

	messages = b.augment(ctx, messages)
	requestID := uuid.NewString()

	caps, _ := providers.CapabilitiesFor(b.agent.Provider)
	if b.simulated || !caps.Streaming {
		return b.streamFallback(ctx, messages, cb, opts, requestID)
	}

	// The façade owns the single terminal callback. Attempts forward
	// deltas only, so a retried attempt cannot emit a completion signal
	// mid-call; cb("", true) fires exactly once after the last attempt.
	attemptCB := func(delta string, isComplete bool) {
		if isComplete {
			return
		}
		cb(delta, false)
	}

	var finish chat.FinishReason
	content, err := retry.Do(ctx, b.logger, b.maxAttempts, b.baseDelay, func() (string, error) {
		built, buildErr := providers.BuildRequest(b.agent, messages, opts)
		if buildErr != nil {
			return "", buildErr
		}

		streamCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		partial, reason, streamErr := b.transport.Stream(streamCtx, b.agent.Provider, built, attemptCB)
		if streamErr != nil && partial != "" {
			// A stream that already delivered deltas is never retried;
			// callers keep the partial output they saw.
			var be *bridgeerr.BridgeError
			if errors.As(streamErr, &be) && be.Retryable {
				terminal := *be
				terminal.Retryable = false
				streamErr = &terminal
			}
		}
		if streamErr == nil {
			finish = reason
		}
		return partial, streamErr
	})
	cb("", true)
	if err != nil {
		return nil, err
	}

	if finish == "" {
		finish = chat.FinishStop
	}
	resp := &chat.Response{Content: content, FinishReason: finish}
	b.finalize(resp, messages, requestID)
	return resp, nil
}

// streamFallback issues one ordinary request and synthesizes the
// streaming cadence from the complete response.
func (b *Bridge) streamFallback(ctx context.Context, messages []chat.Message, cb chat.StreamCallback, opts chat.RequestOptions, requestID string) (*chat.Response, error) {
	single := opts
	single.Stream = false

	resp, err := retry.Do(ctx, b.logger, b.maxAttempts, b.baseDelay, func() (*chat.Response, error) {
		return b.sendOnce(ctx, messages, single)
	})
	if err != nil {
		return nil, err
	}

	if err := b.transport.Simulate(ctx, resp.Content, cb); err != nil {
		return nil, err
	}

	b.finalize(resp, messages, requestID)
	return resp, nil
}

// ValidateConnection issues a minimal provider-specific probe. Success
// or an expected 4xx means the endpoint is reachable and credentials
// are usable.
func (b *Bridge) ValidateConnection(ctx context.Context) (bool, string) {
	built, err := providers.BuildProbe(b.agent)
	if err != nil {
		return false, err.Error()
	}

	status, header, body, err := b.do(ctx, built, probeTimeout)
	if err != nil {
		return false, err.Error()
	}

	switch {
	case status >= 200 && status < 300:
		return true, ""
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity:
		// The endpoint answered and accepted our credentials; it only
		// disliked the probe's shape.
		return true, ""
	default:
		be := bridgeerr.Classify(b.agent.Provider, status, header, body)
		reason := be.Message
		if be.SuggestedFix != "" {
			reason += "; " + be.SuggestedFix
		}
		return false, reason
	}
}

// sendOnce performs one build→request→parse cycle with no retries.
func (b *Bridge) sendOnce(ctx context.Context, messages []chat.Message, opts chat.RequestOptions) (*chat.Response, error) {
	built, err := providers.BuildRequest(b.agent, messages, opts)
	if err != nil {
		return nil, err
	}

	status, header, body, err := b.do(ctx, built, opts.Timeout)
	if err != nil {
		return nil, err
	}

	return providers.ParseResponse(b.agent.Provider, status, header, body)
}

func (b *Bridge) do(ctx context.Context, built *providers.BuiltRequest, timeout time.Duration) (int, http.Header, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(built.Body) > 0 {
		bodyReader = bytes.NewReader(built.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, built.Method, built.URL, bodyReader)
	if err != nil {
		return 0, nil, nil, bridgeerr.Wrap(bridgeerr.CodeInvalidRequest, b.agent.Provider,
			"create request", err)
	}
	req.Header = built.Header.Clone()

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, nil, bridgeerr.FromTransport(b.agent.Provider, err)
	}
	defer resp.Body.Close()

	reader, err := stream.Decompress(resp)
	if err != nil {
		return 0, nil, nil, bridgeerr.Wrap(bridgeerr.CodeNetworkError, b.agent.Provider,
			"create decompression reader", err)
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return 0, nil, nil, bridgeerr.FromTransport(b.agent.Provider, err)
	}

	return resp.StatusCode, resp.Header, body, nil
}

// augment runs the context injector, swallowing failures.
func (b *Bridge) augment(ctx context.Context, messages []chat.Message) []chat.Message {
	if b.injector == nil {
		return messages
	}
	augmented, err := b.injector.AugmentWithContext(ctx, messages)
	if err != nil {
		b.logger.Warn("context injection failed, continuing without",
			"provider", b.agent.Provider, "error", err)
		return messages
	}
	return augmented
}

func (b *Bridge) applyDefaults(opts chat.RequestOptions) chat.RequestOptions {
	if opts.Temperature == 0 {
		if b.agent.Temperature != 0 {
			opts.Temperature = b.agent.Temperature
		} else {
			opts.Temperature = config.DefaultTemperature
		}
	}
	if opts.MaxTokens == 0 {
		if b.agent.MaxTokens > 0 {
			opts.MaxTokens = b.agent.MaxTokens
		} else {
			opts.MaxTokens = config.DefaultMaxTokens
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = b.agent.Timeout()
	}
	return opts
}

// applyCapabilities strips tools for providers that cannot accept them.
func (b *Bridge) applyCapabilities(opts chat.RequestOptions) chat.RequestOptions {
	caps, _ := providers.CapabilitiesFor(b.agent.Provider)
	if len(opts.Tools) > 0 && !caps.Tools {
		b.logger.Warn("provider does not support tool calling, dropping tools",
			"provider", b.agent.Provider, "tools", len(opts.Tools))
		opts.Tools = nil
	}
	return opts
}

// finalize fills estimated usage when the provider reported none and
// stamps response metadata.
func (b *Bridge) finalize(resp *chat.Response, messages []chat.Message, requestID string) {
	if resp.Usage == nil {
		resp.Usage = estimateUsage(messages, resp.Content)
	} else if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}

	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	resp.Metadata["request_id"] = requestID
	resp.Metadata["provider"] = b.agent.Provider
}

// estimateUsage approximates token counts with the cl100k_base
// encoding for providers that omit usage (and for streamed responses).
func estimateUsage(messages []chat.Message, content string) *chat.Usage {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}

	prompt := 0
	for _, m := range messages {
		prompt += len(tke.Encode(m.Content, nil, nil))
	}
	completion := len(tke.Encode(content, nil, nil))

	return &chat.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
