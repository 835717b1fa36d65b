package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/tutord/internal/chat"
)

func userMessages(text string) []chat.Message {
	return []chat.Message{chat.User(text)}
}

// drain collects every token from the stream and returns them with the
// stream error.
func drain(t *testing.T, st *Stream) ([]chat.Token, error) {
	t.Helper()
	var tokens []chat.Token
	for tok := range st.Tokens() {
		tokens = append(tokens, tok)
	}
	return tokens, st.Err()
}

func TestOpenAIStream_Tokens(t *testing.T) {
	sseData := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseData)
	}))
	defer srv.Close()

	c := NewOpenAIWithBaseURL("test-key", srv.URL)
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
	if tokens[0].Content != "Hello" || tokens[1].Content != " world" {
		t.Errorf("content tokens = %q, %q", tokens[0].Content, tokens[1].Content)
	}
	if !tokens[2].Done {
		t.Error("last token should be terminal")
	}
	if tokens[0].Done || tokens[1].Done {
		t.Error("content tokens must not be terminal")
	}
}

func TestOpenAIStream_AuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIWithBaseURL("bad-key", srv.URL)
	_, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestOpenAIStream_RateLimitRetry(t *testing.T) {
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIWithBaseURL("test-key", srv.URL)
	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drain(t, st); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestOpenAIStream_RateLimitExhausted(t *testing.T) {
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIWithBaseURL("test-key", srv.URL)
	_, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "rate limited")
	}
	if got := attempt.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestOpenAIStream_MalformedEventSkipped(t *testing.T) {
	sseData := "data: {\"choices\":[{\"delta\":{\"content\":\"one\"}}]}\n\n" +
		"data: {this is not json}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"two\"}}]}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseData)
	}))
	defer srv.Close()

	c := NewOpenAIWithBaseURL("test-key", srv.URL)
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
	if tokens[0].Content != "one" || tokens[1].Content != "two" {
		t.Errorf("content tokens = %q, %q", tokens[0].Content, tokens[1].Content)
	}
}

func TestOpenAIStream_EndsWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIWithBaseURL("test-key", srv.URL)
	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	tokens, streamErr := drain(t, st)
	if streamErr == nil {
		t.Fatal("expected stream error when body ends before completion")
	}
	for _, tok := range tokens {
		if tok.Done {
			t.Error("failed stream must not carry a terminal token")
		}
	}
}

func TestOpenAIStream_FinishReasonWithoutDoneMarker(t *testing.T) {
	// Some compatible gateways close the body right after finish_reason.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"done\"},\"finish_reason\":\"stop\"}]}\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIWithBaseURL("test-key", srv.URL)
	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	tokens, streamErr := drain(t, st)
	if streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	if len(tokens) != 2 || !tokens[1].Done {
		t.Fatalf("tokens = %+v, want content then terminal", tokens)
	}
}

func TestOpenAIStream_ModelOverride(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		gotModel = req.Model
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIWithBaseURL("test-key", srv.URL)
	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi"), Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	drain(t, st)

	if gotModel != "gpt-4o" {
		t.Errorf("model = %q, want %q", gotModel, "gpt-4o")
	}
}
