package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	edgeBaseURL = "http://127.0.0.1:11434"
	edgeModel   = "llama3.1:8b"
)

// Edge streams completions from a self-hosted Ollama instance, either
// on the device itself or on a box the household runs. When the base
// URL points at a loopback address the provider counts as local and
// stays eligible offline.
type Edge struct {
	baseURL    string
	model      string
	httpClient *http.Client
	local      bool

	current *inflight
}

// NewEdge creates the client. Empty arguments fall back to the default
// local Ollama address and model.
func NewEdge(baseURL, model string) *Edge {
	if baseURL == "" {
		baseURL = edgeBaseURL
	}
	if model == "" {
		model = edgeModel
	}
	return &Edge{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// No client-level timeout: pulls and generation run long, and
		// each call bounds itself through its context.
		httpClient: &http.Client{},
		local:      isLoopback(baseURL),
		current:    newInflight(),
	}
}

func isLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Edge) Name() string { return NameEdge }

func (c *Edge) Local() bool { return c.local }

// Stop cancels the in-flight generation, if any.
func (c *Edge) Stop() { c.current.stop() }

// do sends one request to the server and verifies the status code.
// A non-nil payload is encoded as the JSON body. The caller owns the
// response body on success.
func (c *Edge) do(ctx context.Context, method, endpoint string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", endpoint, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

// Healthy reports whether the server responds to GET /api/tags.
func (c *Edge) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// edgeTagsResponse mirrors the JSON returned by GET /api/tags.
type edgeTagsResponse struct {
	Models []edgeModelEntry `json:"models"`
}

type edgeModelEntry struct {
	Name string `json:"name"`
}

// ListModels returns the names of the models the server has available.
func (c *Edge) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	var tags edgeTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// pullRequest asks the edge server to stream a model download.
type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullProgress is one status line of a streaming pull. Total and
// Completed are byte counts, present once the transfer starts.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Pull downloads a model onto the edge server, blocking until the
// transfer finishes. Each progress line goes to onProgress, which may
// be nil.
func (c *Edge) Pull(ctx context.Context, name string, onProgress func(PullProgress)) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/pull", pullRequest{Name: name, Stream: true})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", name, err)
	}
	defer resp.Body.Close()

	// Progress arrives as one JSON object per line. Lines are small,
	// but give the scanner headroom for verbose statuses.
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading pull progress: %w", err)
	}
	return nil
}

// Stream starts a streaming chat completion over the server's
// OpenAI-compatible endpoint, with the request body and SSE reader
// shared with the OpenAI client.
func (c *Edge) Stream(ctx context.Context, req Request) (*Stream, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	reqCtx, cancel := c.current.begin(ctx, streamingTimeout)
	resp, err := c.do(reqCtx, http.MethodPost, "/v1/chat/completions", openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chat request: %w", err)
	}

	st := NewStream()
	go readOpenAIStream(reqCtx, &bodyWithCancel{rc: resp.Body, cancel: cancel}, st, NameEdge)
	return st, nil
}
