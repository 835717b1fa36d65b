// Package engine runs a llama.cpp server as a child process and adapts
// it to the native engine contract the on-device provider expects.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/tutord/internal/provider"
)

const (
	defaultBinary = "llama-server"

	// Model load can take minutes on a slow disk; the health poll
	// keeps startup from hanging forever on a wedged process.
	loadTimeout   = 2 * time.Minute
	readyPoll     = 250 * time.Millisecond
	healthTimeout = 2 * time.Second
)

// Server owns one llama-server process and speaks its completion API.
// Load replaces the running process when the model changes; Close
// tears it down.
type Server struct {
	binPath string

	mu        sync.Mutex
	proc      *proc
	baseURL   string
	modelPath string
	cfg       provider.EngineConfig
	loaded    bool
	cancel    context.CancelFunc

	httpClient *http.Client
}

// NewServer creates an engine that launches the given llama-server
// binary. Empty means the binary is resolved from PATH.
func NewServer(binPath string) *Server {
	if binPath == "" {
		binPath = defaultBinary
	}
	return &Server{
		binPath: binPath,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// Load starts a server process for the model at path and waits until
// it answers health checks. Loading the already-loaded model is a
// no-op; a different model replaces the running process.
func (s *Server) Load(path string, cfg provider.EngineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && s.modelPath == path {
		return nil
	}
	s.stopProcessLocked()

	port, err := freePort()
	if err != nil {
		return fmt.Errorf("reserving engine port: %w", err)
	}

	args := []string{
		"-m", path,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"-c", strconv.Itoa(cfg.ContextSize),
	}
	if cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(cfg.Threads))
	}
	if cfg.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(cfg.GPULayers))
	}

	p, err := startProc(s.binPath, args)
	if err != nil {
		return fmt.Errorf("starting %s: %w", s.binPath, err)
	}

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := s.waitReady(baseURL, p); err != nil {
		p.kill()
		return err
	}

	s.proc = p
	s.baseURL = baseURL
	s.modelPath = path
	s.cfg = cfg
	s.loaded = true
	return nil
}

// Loaded reports whether a model is ready to serve.
func (s *Server) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// completionRequest is the JSON body for POST /completion.
type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	Stream      bool     `json:"stream"`
	CachePrompt bool     `json:"cache_prompt"`
	Stop        []string `json:"stop,omitempty"`
}

// completionChunk is one streamed line of the completion response.
type completionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Generate streams one completion, invoking emit for each produced
// fragment, and blocks until the run ends. A run aborted through Stop
// returns nil, keeping whatever output was already emitted.
func (s *Server) Generate(prompt string, maxTokens int, temperature float64, emit func(text string)) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return errors.New("no model loaded")
	}
	baseURL := s.baseURL
	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxTokens
	}
	if temperature <= 0 {
		temperature = s.cfg.Temperature
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		NPredict:    maxTokens,
		Temperature: temperature,
		Stream:      true,
		CachePrompt: true,
		// Prompts are rendered in ChatML, so the end-of-turn marker
		// terminates generation.
		Stop: []string{"<|im_end|>"},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Content != "" {
			emit(chunk.Content)
		}
		if chunk.Stop {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("reading completion stream: %w", err)
	}
	return nil
}

// Stop aborts the in-flight generation, if any. Safe from any
// goroutine.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops any generation and shuts the server process down.
func (s *Server) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopProcessLocked()
	return nil
}

func (s *Server) stopProcessLocked() {
	if s.proc != nil {
		s.proc.kill()
		s.proc = nil
	}
	s.loaded = false
	s.baseURL = ""
	s.modelPath = ""
}

func (s *Server) waitReady(baseURL string, p *proc) error {
	deadline := time.After(loadTimeout)
	tick := time.NewTicker(readyPoll)
	defer tick.Stop()
	for {
		select {
		case <-p.done:
			if p.err != nil {
				return fmt.Errorf("engine process exited during startup: %w", p.err)
			}
			return errors.New("engine process exited during startup")
		case <-deadline:
			return fmt.Errorf("model did not become ready within %s", loadTimeout)
		case <-tick.C:
			if s.healthy(baseURL) {
				return nil
			}
		}
	}
}

// healthy probes /health, which llama-server answers with 503 while
// the model is still loading.
func (s *Server) healthy(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// proc tracks a child process until it exits. done closes after err is
// set, so readers wait on done and then read err.
type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func startProc(bin string, args []string) (*proc, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &proc{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *proc) kill() {
	select {
	case <-p.done:
		return
	default:
	}
	p.cmd.Process.Kill()
	<-p.done
}
