// Package stream manages the HTTP connection lifecycle for streamed
// completions: line buffering across chunk boundaries, decompression,
// resource-pressure limits, cancellation, and a fallback that
// simulates streaming by re-chunking a complete response.
package stream

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridgeerr"
	"github.com/codeweaver-ai/llm-bridge-go/internal/chat"
	"github.com/codeweaver-ai/llm-bridge-go/internal/providers"
)

// Stream resource limits. Exceeding either fails the stream with
// stream_limit_exceeded; this is a safety valve, not flow control.
// Byte/chunk counters were chosen over heap sampling: they are
// deterministic and portable.
const (
	defaultMaxBytes  = 64 << 20 // 64 MiB
	defaultMaxChunks = 1 << 20
	readBufferSize   = 4096

	// simulated streaming cadence
	defaultSimDelay         = 30 * time.Millisecond
	defaultSimWordsPerChunk = 3
)

type phase int

const (
	phaseIdle phase = iota
	phaseConnecting
	phaseStreaming
	phaseCompleted
	phaseFailed
	phaseCancelled
)

// callState is owned exclusively by the transport for the lifetime of
// one streaming call and is never shared across calls.
type callState struct {
	phase          phase
	buffer         []byte
	bytesReceived  int64
	chunksReceived int
	startTime      time.Time
	finalSent      bool
	finish         chat.FinishReason
}

// Transport drives streaming HTTP calls. It holds no per-call state;
// each Stream invocation gets its own callState.
type Transport struct {
	client    *http.Client
	logger    *slog.Logger
	maxBytes  int64
	maxChunks int
	simDelay  time.Duration
}

func NewTransport(client *http.Client, logger *slog.Logger) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{
		client:    client,
		logger:    logger,
		maxBytes:  defaultMaxBytes,
		maxChunks: defaultMaxChunks,
		simDelay:  defaultSimDelay,
	}
}

// SetLimits overrides the resource-pressure thresholds (used in tests
// and by embedders with tighter budgets).
func (t *Transport) SetLimits(maxBytes int64, maxChunks int) {
	if maxBytes > 0 {
		t.maxBytes = maxBytes
	}
	if maxChunks > 0 {
		t.maxChunks = maxChunks
	}
}

// Stream issues the built request and pumps content deltas into cb as
// frames arrive. It returns the concatenation of all emitted deltas
// and the last finish reason a frame carried ("" when none did); on
// failure the partial content accumulated so far is still returned
// alongside the error. The final callback (empty delta, isComplete
// true) fires exactly once on every terminal path so callers never
// hang.
func (t *Transport) Stream(ctx context.Context, provider string, built *providers.BuiltRequest, cb chat.StreamCallback) (string, chat.FinishReason, error) {
	state := &callState{phase: phaseConnecting, startTime: time.Now()}

	req, err := http.NewRequestWithContext(ctx, built.Method, built.URL, bytes.NewReader(built.Body))
	if err != nil {
		state.phase = phaseFailed
		return "", "", bridgeerr.Wrap(bridgeerr.CodeInvalidRequest, provider, "create stream request", err)
	}
	req.Header = built.Header.Clone()

	resp, err := t.client.Do(req)
	if err != nil {
		state.phase = phaseFailed
		return "", "", bridgeerr.FromTransport(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		state.phase = phaseFailed
		return "", "", bridgeerr.Classify(provider, resp.StatusCode, resp.Header, body)
	}

	bodyReader, err := decompressReader(resp)
	if err != nil {
		state.phase = phaseFailed
		return "", "", bridgeerr.Wrap(bridgeerr.CodeNetworkError, provider, "create decompression reader", err)
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	state.phase = phaseStreaming
	var content strings.Builder
	buf := make([]byte, readBufferSize)

	finish := func(p phase) {
		state.phase = p
		if !state.finalSent {
			state.finalSent = true
			cb("", true)
		}
	}

	for {
		n, readErr := bodyReader.Read(buf)
		if n > 0 {
			state.bytesReceived += int64(n)
			state.chunksReceived++

			if state.bytesReceived > t.maxBytes || state.chunksReceived > t.maxChunks {
				finish(phaseFailed)
				return content.String(), "", bridgeerr.Newf(bridgeerr.CodeStreamLimit, provider,
					"stream exceeded limits after %d bytes / %d chunks",
					state.bytesReceived, state.chunksReceived)
			}

			state.buffer = append(state.buffer, buf[:n]...)
			done := t.drainLines(provider, state, &content, cb)
			if done {
				t.logStreamEnd(provider, state)
				finish(phaseCompleted)
				return content.String(), state.finish, nil
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Flush the trailing line the terminator never arrived for.
				t.consumeLine(provider, string(state.buffer), state, &content, cb)
				state.buffer = nil
				t.logStreamEnd(provider, state)
				finish(phaseCompleted)
				return content.String(), state.finish, nil
			}
			if ctx.Err() != nil {
				finish(phaseCancelled)
				return content.String(), "", bridgeerr.FromTransport(provider, ctx.Err())
			}
			finish(phaseFailed)
			return content.String(), "", bridgeerr.FromTransport(provider, readErr)
		}
	}
}

// drainLines splits buffered bytes into complete lines, retaining the
// trailing incomplete line for the next read. Returns true once the
// provider's terminal frame was seen.
func (t *Transport) drainLines(provider string, state *callState, content *strings.Builder, cb chat.StreamCallback) bool {
	for {
		idx := bytes.IndexByte(state.buffer, '\n')
		if idx < 0 {
			return false
		}
		line := string(state.buffer[:idx])
		state.buffer = state.buffer[idx+1:]

		if t.consumeLine(provider, line, state, content, cb) {
			return true
		}
	}
}

func (t *Transport) consumeLine(provider, line string, state *callState, content *strings.Builder, cb chat.StreamCallback) bool {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return false
	}

	delta, finish, done, ok := providers.ParseStreamLine(provider, line)
	if !ok {
		// Malformed or ignorable frame: skip, never abort the stream.
		return false
	}
	if finish != "" {
		state.finish = finish
	}
	if delta != "" {
		content.WriteString(delta)
		cb(delta, false)
	}
	return done
}

func (t *Transport) logStreamEnd(provider string, state *callState) {
	if t.logger == nil {
		return
	}
	t.logger.Debug("stream complete",
		"provider", provider,
		"bytes", state.bytesReceived,
		"chunks", state.chunksReceived,
		"elapsed_ms", time.Since(state.startTime).Milliseconds(),
	)
}

// Simulate delivers an already-complete response through the streaming
// callback interface, chunked on word boundaries with a fixed delay.
// Used where a live streaming connection cannot be held open. The
// concatenated deltas are byte-for-byte the original content.
func (t *Transport) Simulate(ctx context.Context, content string, cb chat.StreamCallback) error {
	for _, chunk := range chunkWords(content, defaultSimWordsPerChunk) {
		select {
		case <-ctx.Done():
			cb("", true)
			return bridgeerr.FromTransport("", ctx.Err())
		case <-time.After(t.simDelay):
		}
		cb(chunk, false)
	}
	cb("", true)
	return nil
}

// chunkWords splits s after every n words, preserving all bytes so the
// chunks concatenate back to s exactly.
func chunkWords(s string, n int) []string {
	if s == "" {
		return nil
	}

	var chunks []string
	words := 0
	start := 0
	inWord := false

	for i := 0; i < len(s); i++ {
		isSpace := s[i] == ' ' || s[i] == '\n' || s[i] == '\t'
		if inWord && isSpace {
			inWord = false
			words++
			if words == n {
				chunks = append(chunks, s[start:i+1])
				start = i + 1
				words = 0
			}
		} else if !inWord && !isSpace {
			inWord = true
		}
	}
	if start < len(s) {
		chunks = append(chunks, s[start:])
	}
	return chunks
}

// decompressReader unwraps gzip and brotli response bodies.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// Decompress exposes body decompression for the single-shot path.
func Decompress(resp *http.Response) (io.Reader, error) {
	return decompressReader(resp)
}
