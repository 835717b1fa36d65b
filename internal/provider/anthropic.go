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
	anthropicBaseURL   = "https://api.anthropic.com/v1"
	anthropicModel     = "claude-sonnet-4-5"
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 1024
)

// Anthropic streams completions from the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter

	current *inflight
}

// NewAnthropic creates the client with the given API key and default
// model.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: anthropicBaseURL,
		model:   anthropicModel,
		httpClient: &http.Client{
			Timeout: 0,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		current: newInflight(),
	}
}

// NewAnthropicWithBaseURL points the client at a custom base URL (for
// testing).
func NewAnthropicWithBaseURL(apiKey, baseURL string) *Anthropic {
	c := NewAnthropic(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// SetModel overrides the default model.
func (c *Anthropic) SetModel(model string) { c.model = model }

func (c *Anthropic) Name() string { return NameAnthropic }

func (c *Anthropic) Local() bool { return false }

// Stop cancels the in-flight generation, if any.
func (c *Anthropic) Stop() { c.current.stop() }

// anthropicRequest is the JSON body for POST /messages. The system
// prompt travels in its own field, not in messages.
type anthropicRequest struct {
	Model       string         `json:"model"`
	System      string         `json:"system,omitempty"`
	Messages    []chat.Message `json:"messages"`
	MaxTokens   int            `json:"max_tokens"`
	Stream      bool           `json:"stream"`
	Temperature float64        `json:"temperature,omitempty"`
}

// anthropicEvent is the union of the streaming event payloads we care
// about.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream starts a streaming message. Rate limited requests are retried
// with exponential backoff; other errors surface immediately.
func (c *Anthropic) Stream(ctx context.Context, req Request) (*Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	wire := anthropicRequest{
		Model:       model,
		System:      chat.SystemText(req.Messages),
		MaxTokens:   maxTokens,
		Stream:      true,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		if m.Role == chat.RoleSystem {
			continue
		}
		wire.Messages = append(wire.Messages, m)
	}

	body, err := json.Marshal(wire)
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
	go readAnthropicStream(reqCtx, &bodyWithCancel{rc: rc, cancel: cancel}, st)
	return st, nil
}

func (c *Anthropic) open(ctx context.Context, body []byte) (io.ReadCloser, error) {
	return openWithRetry(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.do(ctx, body)
	})
}

func (c *Anthropic) do(ctx context.Context, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf("messages: %w", ErrAuthFailed)
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

// readAnthropicStream pumps events into the stream until message_stop,
// an error event, or the body ends.
func readAnthropicStream(ctx context.Context, rc io.ReadCloser, st *Stream) {
	defer rc.Close()

	sse := newSSEReader(rc)
	for {
		ev, err := sse.next()
		if err == io.EOF {
			st.Fail(fmt.Errorf("stream ended before completion"))
			return
		}
		if err != nil {
			st.Fail(fmt.Errorf("reading stream: %w", err))
			return
		}

		var payload anthropicEvent
		if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
			slog.Warn("skipping malformed stream event", "provider", NameAnthropic, "error", err)
			continue
		}

		kind := payload.Type
		if kind == "" {
			kind = ev.name
		}
		switch kind {
		case "content_block_delta":
			if payload.Delta.Type != "text_delta" || payload.Delta.Text == "" {
				continue
			}
			if !st.Emit(ctx, chat.Token{Content: payload.Delta.Text}) {
				st.Fail(ctx.Err())
				return
			}
		case "message_stop":
			st.Emit(ctx, chat.Token{Done: true})
			st.Close()
			return
		case "error":
			st.Fail(fmt.Errorf("%s: %s", payload.Error.Type, payload.Error.Message))
			return
		}
	}
}
