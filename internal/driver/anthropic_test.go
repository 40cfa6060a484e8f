package driver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicDriverQueryStreamsAssistantThenResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"message_start\",\"usage\":{\"input_tokens\":5}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hello\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":2}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	d := NewAnthropicDriver("test-key", WithAnthropicBaseURL(server.URL))

	var messages []Message
	for msg, err := range d.Query(context.Background(), "hi", RunOptions{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		messages = append(messages, msg)
	}

	if len(messages) != 3 {
		t.Fatalf("expected init, assistant, result; got %d messages", len(messages))
	}
	if messages[0].Type != MessageSystem || messages[0].Subtype != SystemSubtypeInit {
		t.Errorf("expected first message to be system/init, got %+v", messages[0])
	}
	if messages[0].SessionID == "" {
		t.Error("expected a synthesized session id")
	}
	if messages[1].Type != MessageAssistant || messages[1].Content[0].Text != "hello" {
		t.Errorf("expected assistant text 'hello', got %+v", messages[1])
	}
	if messages[2].Type != MessageResult {
		t.Errorf("expected terminal result message, got %+v", messages[2])
	}
}

func TestAnthropicDriverQueryEchoesResumeSessionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	d := NewAnthropicDriver("test-key", WithAnthropicBaseURL(server.URL))

	var first Message
	for msg, err := range d.Query(context.Background(), "hi", RunOptions{Resume: "s42"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		first = msg
		break
	}
	if first.SessionID != "s42" {
		t.Errorf("expected resumed session id 's42', got %q", first.SessionID)
	}
}
