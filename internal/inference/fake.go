package inference

import (
	"context"
	"time"
)

// FakeClient is an in-memory Client for tests: it returns canned
// responses/errors without touching the network.
type FakeClient struct {
	// Responses is consumed in order by successive Chat/ChatStream calls.
	// When exhausted, the last entry repeats.
	Responses []*Response
	Err       error
	Calls     []FakeCall
	// Delay, when set, makes each Chat call wait for Delay, or until ctx
	// is done if that comes first (it then returns ctx.Err()), letting
	// tests exercise caller-side timeout/cancellation. ChatStream does
	// not wait.
	Delay time.Duration
}

// FakeCall records one invocation for assertions.
type FakeCall struct {
	Class    TaskClass
	Messages []Message
}

func (f *FakeClient) next() *Response {
	if len(f.Responses) == 0 {
		return &Response{Message: Message{Role: "assistant", Content: "ok"}}
	}
	// The current call is already recorded in f.Calls.
	if i := len(f.Calls) - 1; i < len(f.Responses) {
		return f.Responses[i]
	}
	return f.Responses[len(f.Responses)-1]
}

func (f *FakeClient) Chat(ctx context.Context, class TaskClass, messages []Message, opts Options) (*Response, error) {
	f.Calls = append(f.Calls, FakeCall{Class: class, Messages: messages})
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.next(), nil
}

func (f *FakeClient) ChatStream(ctx context.Context, class TaskClass, messages []Message, opts Options, ch chan<- StreamChunk) error {
	defer close(ch)
	f.Calls = append(f.Calls, FakeCall{Class: class, Messages: messages})
	if f.Err != nil {
		return f.Err
	}
	resp := f.next()
	select {
	case ch <- StreamChunk{Delta: resp.Message.Content, Done: true, Final: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
