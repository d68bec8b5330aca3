package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
}

func TestStreamChatDeliversFragmentsInOrder(t *testing.T) {
	t.Parallel()

	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, delta := range []string{"The ", "answer ", "is ", "$4$."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	results, err := c.StreamChat(context.Background(), &ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "what is 2+2?"},
		},
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	var sb strings.Builder
	for res := range results {
		if res.Err != nil {
			t.Fatalf("unexpected stream error: %v", res.Err)
		}
		sb.WriteString(res.Fragment.Content)
	}

	if got, want := sb.String(), "The answer is $4$."; got != want {
		t.Fatalf("concatenated stream = %q, want %q", got, want)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
}

func TestStreamChatUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "bad-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	results, err := c.StreamChat(context.Background(), &ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	res, ok := <-results
	if !ok {
		t.Fatalf("expected an error result before close")
	}
	if res.Err == nil {
		t.Fatalf("expected error result, got fragment %#v", res.Fragment)
	}
	if !strings.Contains(res.Err.Error(), "401") {
		t.Fatalf("expected status in error, got: %v", res.Err)
	}

	if _, ok := <-results; ok {
		t.Fatalf("expected channel closed after terminal error")
	}
}

func TestStreamChatValidation(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{BaseURL: "http://localhost:0", APIKey: "k"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.StreamChat(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
	if _, err := c.StreamChat(context.Background(), &ChatRequest{Model: "m"}); err == nil {
		t.Fatalf("expected error for empty messages")
	}
	if _, err := c.StreamChat(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "x"}},
	}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func TestStreamChatCancelledByCaller(t *testing.T) {
	t.Parallel()

	requestDone := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(requestDone)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"partial\"}}]}\n\n")
		flusher.Flush()

		// Hold the stream open until the client goes away.
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	results, err := c.StreamChat(ctx, &ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	res := <-results
	if res.Err != nil {
		t.Fatalf("unexpected error before cancel: %v", res.Err)
	}
	if res.Fragment.Content != "partial" {
		t.Fatalf("unexpected fragment: %#v", res.Fragment)
	}

	cancel()

	// The consumer channel must close promptly after cancellation.
	select {
	case _, ok := <-results:
		if ok {
			// Drain anything in flight; channel must still close.
			for range results {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("results channel did not close after cancel")
	}

	// The upstream request must be torn down too.
	select {
	case <-requestDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("upstream request not cancelled")
	}
}
