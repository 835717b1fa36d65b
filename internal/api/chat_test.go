package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/kalambet/tutord/internal/provider"
	"github.com/kalambet/tutord/internal/routing"
)

func TestChatCompletions_NonStreaming(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	body := `{"messages":[{"role":"user","content":"explain entropy"}],"stream":false}`
	rr := doRequest(t, h, http.MethodPost, "/v1/chat/completions", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Routed-Provider"); got != provider.NameOpenAI {
		t.Errorf("X-Routed-Provider = %q", got)
	}
	if got := rr.Header().Get("X-Routed-Category"); got != "concept_explanation" {
		t.Errorf("X-Routed-Category = %q", got)
	}

	var resp chatCompletion
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q", resp.Object)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(resp.Choices))
	}
	if resp.Choices[0].Message == nil || resp.Choices[0].Message.Content != "Hello there" {
		t.Errorf("message = %+v", resp.Choices[0].Message)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	body := `{"messages":[{"role":"user","content":"explain entropy"}],"stream":true}`
	rr := doRequest(t, h, http.MethodPost, "/v1/chat/completions", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	got := rr.Body.String()
	for _, want := range []string{`"Hello"`, `"role":"assistant"`, `"finish_reason":"stop"`, "data: [DONE]"} {
		if !strings.Contains(got, want) {
			t.Errorf("stream missing %q:\n%s", want, got)
		}
	}
}

func TestChatCompletions_InvalidBody(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))
	rr := doRequest(t, h, http.MethodPost, "/v1/chat/completions", "{invalid")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestChatCompletions_MissingMessages(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))
	rr := doRequest(t, h, http.MethodPost, "/v1/chat/completions", `{"messages":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestChatCompletions_NoProvider(t *testing.T) {
	deps := newTestDeps(t)
	deps.Router = routing.NewRouter(routing.NewTable(), routing.TierFlagship, nil, nil)
	h := NewAppHandler(deps)

	body := `{"messages":[{"role":"user","content":"explain entropy"}]}`
	rr := doRequest(t, h, http.MethodPost, "/v1/chat/completions", body)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestChatCompletions_StreamErrorMidway(t *testing.T) {
	deps := newTestDeps(t)
	deps.Router = routing.NewRouter(routing.NewTable(), routing.TierFlagship, nil, nil)
	deps.Router.Register(&fakeProvider{
		name:    provider.NameOpenAI,
		tokens:  []string{"partial"},
		failErr: errors.New("connection reset"),
	})
	h := NewAppHandler(deps)

	body := `{"messages":[{"role":"user","content":"explain entropy"}],"stream":true}`
	rr := doRequest(t, h, http.MethodPost, "/v1/chat/completions", body)

	got := rr.Body.String()
	if !strings.Contains(got, `"partial"`) {
		t.Errorf("stream missing partial token:\n%s", got)
	}
	if !strings.Contains(got, `"server_error"`) {
		t.Errorf("stream missing error payload:\n%s", got)
	}
	if strings.Contains(got, "data: [DONE]") {
		t.Errorf("failed stream must not end with [DONE]:\n%s", got)
	}
}

func TestChatCompletions_UpstreamOpenError(t *testing.T) {
	deps := newTestDeps(t)
	deps.Router = routing.NewRouter(routing.NewTable(), routing.TierFlagship, nil, nil)
	deps.Router.Register(&fakeProvider{
		name:    provider.NameOpenAI,
		openErr: errors.New("dial tcp: connection refused"),
	})
	h := NewAppHandler(deps)

	body := `{"messages":[{"role":"user","content":"explain entropy"}]}`
	rr := doRequest(t, h, http.MethodPost, "/v1/chat/completions", body)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}
