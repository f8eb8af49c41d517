package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/httpkit"
)

// ModelSelection maps a task class to a preferred model name plus a
// fallback order.
type ModelSelection struct {
	Preferred map[TaskClass]string
	Fallback  []string // tried in order when the preferred model is unavailable
}

// HTTPClient talks to a local Ollama-compatible chat endpoint. It
// enforces the 5s connect / 120s total timeouts and translates
// transport failures into the closed error taxonomy. Built on top of
// internal/httpkit's shared transport construction.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	selection  ModelSelection
	available  func(model string) bool // nil means "assume available"
}

// NewHTTPClient creates a client against baseURL (default
// http://localhost:11434 when empty, Ollama's own default).
func NewHTTPClient(baseURL string, selection ModelSelection, logger *slog.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := httpkit.NewTransport()
	t.DialContext = (&net.Dialer{Timeout: ConnectTimeout}).DialContext
	t.ResponseHeaderTimeout = RequestTimeout

	return &HTTPClient{
		baseURL: baseURL,
		logger:  logger.With("component", "inference"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(RequestTimeout),
			httpkit.WithTransport(t),
			httpkit.WithRetry(2, 200*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		selection: selection,
	}
}

// SetAvailability installs a predicate used to decide whether a model
// name is currently loaded/servable. When nil (the default) every
// model is assumed available and no fallback is attempted.
func (c *HTTPClient) SetAvailability(fn func(model string) bool) {
	c.available = fn
}

// resolveModel picks the preferred model for a task class and falls
// through the published fallback order when it's unavailable, logging
// the fallback.
func (c *HTTPClient) resolveModel(class TaskClass) string {
	preferred := c.selection.Preferred[class]
	if preferred == "" {
		preferred = c.selection.Preferred[ClassGeneral]
	}
	if preferred != "" && (c.available == nil || c.available(preferred)) {
		return preferred
	}
	for _, m := range c.selection.Fallback {
		if c.available == nil || c.available(m) {
			if m != preferred {
				c.logger.Warn("inference model unavailable, falling back",
					"class", class, "preferred", preferred, "fallback", m)
			}
			return m
		}
	}
	return preferred
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

type chatWireResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

func toWireOptions(o Options) ollamaOptions {
	return ollamaOptions{
		Temperature:   o.Temperature,
		TopP:          o.TopP,
		TopK:          o.TopK,
		RepeatPenalty: o.RepeatPenalty,
		NumPredict:    o.NumPredict,
		NumCtx:        o.NumCtx,
	}
}

// Chat implements Client.Chat as a single non-streaming call.
func (c *HTTPClient) Chat(ctx context.Context, class TaskClass, messages []Message, opts Options) (*Response, error) {
	model := c.resolveModel(class)
	start := time.Now()

	body := chatRequest{Model: model, Messages: messages, Stream: false, Options: toWireOptions(opts)}
	resp, err := c.do(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire chatWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, forgeerr.InferenceBackend("decode response", err)
	}

	return &Response{
		Model:        wire.Model,
		Message:      wire.Message,
		InputTokens:  wire.PromptEvalCount,
		OutputTokens: wire.EvalCount,
		Duration:     time.Since(start),
	}, nil
}

// ChatStream implements Client.ChatStream, decoding newline-delimited
// JSON chunks exactly as the Ollama chat API emits them.
func (c *HTTPClient) ChatStream(ctx context.Context, class TaskClass, messages []Message, opts Options, ch chan<- StreamChunk) error {
	defer close(ch)

	model := c.resolveModel(class)
	start := time.Now()

	body := chatRequest{Model: model, Messages: messages, Stream: true, Options: toWireOptions(opts)}
	resp, err := c.do(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var content bytes.Buffer
	var inTokens, outTokens int
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wire chatWireResponse
		if err := json.Unmarshal(line, &wire); err != nil {
			return forgeerr.InferenceBackend("decode stream chunk", err)
		}
		content.WriteString(wire.Message.Content)
		if wire.PromptEvalCount > 0 {
			inTokens = wire.PromptEvalCount
		}
		if wire.EvalCount > 0 {
			outTokens = wire.EvalCount
		}

		select {
		case ch <- StreamChunk{Delta: wire.Message.Content, Done: wire.Done}:
		case <-ctx.Done():
			return forgeerr.Cancelled("stream cancelled")
		}

		if wire.Done {
			final := &Response{
				Model:        wire.Model,
				Message:      Message{Role: "assistant", Content: content.String()},
				InputTokens:  inTokens,
				OutputTokens: outTokens,
				Duration:     time.Since(start),
			}
			select {
			case ch <- StreamChunk{Done: true, Final: final}:
			case <-ctx.Done():
			}
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return classifyErr(err)
	}
	return nil
}

// do issues the HTTP POST and classifies any failure into the closed
// error taxonomy (InferenceTimeout / InferenceUnreachable /
// InferenceBackend).
func (c *HTTPClient) do(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, forgeerr.InferenceBackend("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, forgeerr.InferenceBackend("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyErr(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, forgeerr.InferenceBackend(fmt.Sprintf("status %d: %s", resp.StatusCode, msg), nil)
	}
	return resp, nil
}

// Ping checks backend reachability for the /health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return forgeerr.InferenceUnreachable("build ping request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyErr(err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return forgeerr.InferenceBackend(fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return nil
}

// classifyErr maps a raw net/http error to the closed taxonomy: a
// context deadline means InferenceTimeout, anything else reaching the
// transport layer means InferenceUnreachable.
func classifyErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return forgeerr.InferenceTimeout("request exceeded timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return forgeerr.InferenceTimeout("request exceeded timeout", err)
	}
	if errors.Is(err, io.EOF) {
		return forgeerr.InferenceUnreachable("connection closed unexpectedly", err)
	}
	return forgeerr.InferenceUnreachable("backend unreachable", err)
}
