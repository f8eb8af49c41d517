// Package inference provides the narrow client interface the engine
// speaks to the local model-serving endpoint through: a single
// provider-neutral client, since the engine only ever talks to one
// local backend and has no multi-provider routing need.
package inference

import (
	"context"
	"time"
)

// Message is a single chat message sent to or received from the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries the generation parameters the client accepts.
type Options struct {
	Temperature    float64
	TopP           float64
	TopK           int
	RepeatPenalty  float64
	NumPredict     int
	NumCtx         int
}

// Response is the unified result of a (possibly streamed) chat call.
type Response struct {
	Model        string
	Message      Message
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// StreamChunk is a single increment of a streaming response.
type StreamChunk struct {
	Delta string
	Done  bool
	Final *Response // set only on the final chunk
}

// TaskClass selects which model a request prefers, via a small mapping
// from task class to preferred model name.
type TaskClass string

const (
	ClassCode         TaskClass = "code"
	ClassConversation TaskClass = "conversation"
	ClassAnalysis     TaskClass = "analysis"
	ClassGeneral      TaskClass = "general"
)

// Client is the contract every inference backend implementation and
// every test fake must satisfy.
type Client interface {
	// Chat sends a complete chat request and returns the full response.
	Chat(ctx context.Context, class TaskClass, messages []Message, opts Options) (*Response, error)

	// ChatStream sends a chat request and streams the response through ch,
	// which is closed when the stream ends (successfully or with error).
	// Any error is returned directly; ch will have already been closed.
	ChatStream(ctx context.Context, class TaskClass, messages []Message, opts Options, ch chan<- StreamChunk) error
}

// ConnectTimeout and RequestTimeout bound every request: a 5s
// connection timeout and a 120s total request timeout.
const (
	ConnectTimeout = 5 * time.Second
	RequestTimeout = 120 * time.Second
)
