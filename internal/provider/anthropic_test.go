package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/tutord/internal/chat"
)

func TestAnthropicStream_TextDeltas(t *testing.T) {
	sseData := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseData)
	}))
	defer srv.Close()

	c := NewAnthropicWithBaseURL("test-key", srv.URL)
	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	tokens, streamErr := drain(t, st)
	if streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens, want 3", len(tokens))
	}
	if tokens[0].Content != "Hel" || tokens[1].Content != "lo" {
		t.Errorf("content tokens = %q, %q", tokens[0].Content, tokens[1].Content)
	}
	if !tokens[2].Done {
		t.Error("last token should be terminal")
	}
}

func TestAnthropicStream_ErrorEvent(t *testing.T) {
	sseData := "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"overloaded\"}}\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseData)
	}))
	defer srv.Close()

	c := NewAnthropicWithBaseURL("test-key", srv.URL)
	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	_, streamErr := drain(t, st)
	if streamErr == nil {
		t.Fatal("expected stream error")
	}
	if !strings.Contains(streamErr.Error(), "overloaded") {
		t.Errorf("error = %q, want it to contain %q", streamErr.Error(), "overloaded")
	}
}

func TestAnthropicStream_SystemPromptExtracted(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := NewAnthropicWithBaseURL("test-key", srv.URL)
	st, err := c.Stream(context.Background(), Request{Messages: []chat.Message{
		chat.System("You are a tutor"),
		chat.User("explain entropy"),
	}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	drain(t, st)

	if got.System != "You are a tutor" {
		t.Errorf("system = %q, want %q", got.System, "You are a tutor")
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != chat.RoleUser {
		t.Errorf("messages = %+v, want the single user message", got.Messages)
	}
	if got.MaxTokens == 0 {
		t.Error("max_tokens must be set")
	}
}

func TestAnthropicStream_AuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAnthropicWithBaseURL("bad-key", srv.URL)
	_, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestAnthropicStream_EndsWithoutStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n\n")
	}))
	defer srv.Close()

	c := NewAnthropicWithBaseURL("test-key", srv.URL)
	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	tokens, streamErr := drain(t, st)
	if streamErr == nil {
		t.Fatal("expected stream error when body ends before message_stop")
	}
	for _, tok := range tokens {
		if tok.Done {
			t.Error("failed stream must not carry a terminal token")
		}
	}
}
