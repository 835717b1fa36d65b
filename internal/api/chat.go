package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/provider"
	"github.com/kalambet/tutord/internal/routing"
)

// ChatRequest is the OpenAI-compatible request body. Model is advisory:
// routing picks the provider, and a non-empty model only overrides the
// chosen provider's default.
type ChatRequest struct {
	Model       string         `json:"model"`
	Messages    []chat.Message `json:"messages"`
	Stream      bool           `json:"stream"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
}

type chatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Message      *chat.Message `json:"message,omitempty"`
	Delta        *chatDelta    `json:"delta,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// chatDelta is a streamed fragment. The role rides only on the first
// chunk, matching the OpenAI stream shape.
type chatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func handleChatCompletions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		d := deps.Router.Preview(req.Messages)
		w.Header().Set("X-Routed-Provider", d.Provider)
		w.Header().Set("X-Routed-Category", d.Category.String())

		st, err := deps.Router.Send(r.Context(), provider.Request{
			Messages:    req.Messages,
			Model:       req.Model,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			routeError(w, err)
			return
		}

		label := req.Model
		if label == "" {
			label = d.Provider
		}
		id := "chatcmpl-" + uuid.New().String()
		if req.Stream {
			streamCompletion(w, st, id, label)
		} else {
			collectCompletion(w, st, id, label)
		}
	}
}

// routeError maps a Send failure onto the wire. No provider is a 503:
// the caller can retry once connectivity or a local model appears.
func routeError(w http.ResponseWriter, err error) {
	if errors.Is(err, routing.ErrNoProvider) {
		httpError(w, http.StatusServiceUnavailable, "api_error", "no provider available for this request")
		return
	}
	if errors.Is(err, provider.ErrAuthFailed) {
		httpError(w, http.StatusBadGateway, "api_error", "provider rejected credentials")
		return
	}
	httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
}

func streamCompletion(w http.ResponseWriter, st *provider.Stream, id, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	created := time.Now().Unix()
	first := true
	sawDone := false
	for tok := range st.Tokens() {
		if tok.Done {
			sawDone = true
			break
		}
		delta := &chatDelta{Content: tok.Content}
		if first {
			delta.Role = chat.RoleAssistant
			first = false
		}
		writeChunk(w, flusher, chatCompletion{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chatChoice{{Delta: delta}},
		})
	}

	if !sawDone {
		if err := st.Err(); err != nil {
			slog.Warn("stream ended with error", "error", err)
			payload, _ := json.Marshal(map[string]any{
				"error": map[string]any{
					"message": err.Error(),
					"type":    "server_error",
				},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			return
		}
	}

	writeChunk(w, flusher, chatCompletion{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []chatChoice{{Delta: &chatDelta{}, FinishReason: "stop"}},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, c chatCompletion) {
	b, err := json.Marshal(c)
	if err != nil {
		slog.Warn("marshalling stream chunk", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

func collectCompletion(w http.ResponseWriter, st *provider.Stream, id, model string) {
	text, err := provider.Collect(st)
	if err != nil {
		routeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, chatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      &chat.Message{Role: chat.RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
	})
}
