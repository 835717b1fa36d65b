package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kalambet/tutord/internal/chat"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	openAIModel   = "gpt-4o-mini"
)

// OpenAI streams chat completions from the OpenAI API or any endpoint
// speaking the same dialect.
type OpenAI struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter

	current *inflight
}

// NewOpenAI creates the client with the given API key and default
// model.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: openAIBaseURL,
		model:   openAIModel,
		httpClient: &http.Client{
			Timeout: 0,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		current: newInflight(),
	}
}

// NewOpenAIWithBaseURL points the client at a custom base URL (for
// testing and OpenAI-compatible gateways).
func NewOpenAIWithBaseURL(apiKey, baseURL string) *OpenAI {
	c := NewOpenAI(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// SetModel overrides the default model.
func (c *OpenAI) SetModel(model string) { c.model = model }

func (c *OpenAI) Name() string { return NameOpenAI }

func (c *OpenAI) Local() bool { return false }

// Stop cancels the in-flight generation, if any.
func (c *OpenAI) Stop() { c.current.stop() }

// openAIChatRequest is the JSON body for POST /chat/completions.
type openAIChatRequest struct {
	Model       string         `json:"model"`
	Messages    []chat.Message `json:"messages"`
	Stream      bool           `json:"stream"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
}

// openAIChunk is one SSE data payload from a streaming completion.
type openAIChunk struct {
	Choices []openAIChoice `json:"choices"`
}

type openAIChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIDelta struct {
	Content string `json:"content"`
}

// Stream starts a streaming chat completion. Rate limited requests are
// retried with exponential backoff; all other errors surface
// immediately.
func (c *OpenAI) Stream(ctx context.Context, req Request) (*Stream, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := c.current.begin(ctx, streamingTimeout)
	rc, err := c.open(reqCtx, body)
	if err != nil {
		cancel()
		return nil, err
	}

	st := NewStream()
	// Cancel the request context when the reader closes the body.
	go readOpenAIStream(reqCtx, &bodyWithCancel{rc: rc, cancel: cancel}, st, NameOpenAI)
	return st, nil
}

func (c *OpenAI) open(ctx context.Context, body []byte) (io.ReadCloser, error) {
	return openWithRetry(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.do(ctx, body)
	})
}

func (c *OpenAI) do(ctx context.Context, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf("chat completions: %w", ErrAuthFailed)
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, &rateLimitError{status: resp.StatusCode}
	default:
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.Body, nil
}

// readOpenAIStream pumps SSE events into the stream until [DONE], a
// finish_reason, or the body ends. Every provider speaking the OpenAI
// dialect shares it; name tags log lines with the caller.
func readOpenAIStream(ctx context.Context, rc io.ReadCloser, st *Stream, name string) {
	defer rc.Close()

	finished := false
	sse := newSSEReader(rc)
	for {
		ev, err := sse.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			st.Fail(fmt.Errorf("reading stream: %w", err))
			return
		}

		if ev.data == "[DONE]" {
			st.Emit(ctx, chat.Token{Done: true})
			st.Close()
			return
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(ev.data), &chunk); err != nil {
			slog.Warn("skipping malformed stream event", "provider", name, "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if !st.Emit(ctx, chat.Token{Content: choice.Delta.Content}) {
				st.Fail(ctx.Err())
				return
			}
		}
		if choice.FinishReason != "" {
			finished = true
		}
	}

	// Body ended without [DONE]. A seen finish_reason still counts as
	// a complete generation.
	if finished {
		st.Emit(ctx, chat.Token{Done: true})
		st.Close()
		return
	}
	st.Fail(fmt.Errorf("stream ended before completion"))
}
