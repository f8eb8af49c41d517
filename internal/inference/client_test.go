package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
)

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatWireResponse{
			Model:   "qwen3:4b",
			Message: Message{Role: "assistant", Content: "hello"},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, ModelSelection{Preferred: map[TaskClass]string{ClassGeneral: "qwen3:4b"}}, nil)
	resp, err := c.Chat(context.Background(), ClassGeneral, []Message{{Role: "user", Content: "hi"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "hello" {
		t.Errorf("content = %q, want hello", resp.Message.Content)
	}
}

func TestChatBackendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, ModelSelection{}, nil)
	_, err := c.Chat(context.Background(), ClassGeneral, nil, Options{})
	fe, ok := forgeerr.As(err)
	if !ok || fe.Code() != forgeerr.CodeInferenceBackend {
		t.Fatalf("err = %v, want InferenceBackend", err)
	}
}

func TestChatUnreachable(t *testing.T) {
	// Port 1 should refuse immediately on any platform running tests.
	c := NewHTTPClient("http://127.0.0.1:1", ModelSelection{}, nil)
	_, err := c.Chat(context.Background(), ClassGeneral, nil, Options{})
	fe, ok := forgeerr.As(err)
	if !ok || fe.Code() != forgeerr.CodeInferenceUnreach {
		t.Fatalf("err = %v, want InferenceUnreachable", err)
	}
}

func TestChatTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewHTTPClient(srv.URL, ModelSelection{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Chat(ctx, ClassGeneral, nil, Options{})
	elapsed := time.Since(start)

	fe, ok := forgeerr.As(err)
	if !ok || fe.Code() != forgeerr.CodeInferenceTimeout {
		t.Fatalf("err = %v, want InferenceTimeout", err)
	}
	if elapsed > time.Second {
		t.Errorf("timeout took %v, want well under 1s for a 50ms deadline", elapsed)
	}
}

func TestResolveModelFallback(t *testing.T) {
	c := NewHTTPClient("http://unused", ModelSelection{
		Preferred: map[TaskClass]string{ClassCode: "big-model"},
		Fallback:  []string{"small-model"},
	}, nil)
	c.SetAvailability(func(model string) bool { return model == "small-model" })

	got := c.resolveModel(ClassCode)
	if got != "small-model" {
		t.Errorf("resolveModel = %q, want small-model", got)
	}
}
