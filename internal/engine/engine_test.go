package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/tutord/internal/provider"
)

// newTestEngine points a loaded engine at a fake completion server.
func newTestEngine(srv *httptest.Server, cfg provider.EngineConfig) *Server {
	s := NewServer("")
	s.baseURL = srv.URL
	s.cfg = cfg
	s.loaded = true
	s.httpClient = srv.Client()
	return s
}

func writeChunks(t *testing.T, w http.ResponseWriter, chunks []completionChunk) {
	t.Helper()
	fl, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("response writer does not support flushing")
	}
	for _, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		fl.Flush()
	}
}

func TestGenerate_StreamsFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(t, w, []completionChunk{
			{Content: "The mitochondria "},
			{Content: "is the powerhouse."},
			{Stop: true},
		})
	}))
	defer srv.Close()

	eng := newTestEngine(srv, provider.EngineConfig{})

	var got strings.Builder
	err := eng.Generate("prompt", 64, 0.5, func(text string) {
		got.WriteString(text)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "The mitochondria is the powerhouse." {
		t.Errorf("output = %q", got.String())
	}
}

func TestGenerate_NotLoaded(t *testing.T) {
	eng := NewServer("")
	err := eng.Generate("prompt", 64, 0.5, func(string) {})
	if err == nil {
		t.Fatal("expected error when no model is loaded")
	}
}

func TestGenerate_RequestCarriesConfigDefaults(t *testing.T) {
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		writeChunks(t, w, []completionChunk{{Stop: true}})
	}))
	defer srv.Close()

	eng := newTestEngine(srv, provider.EngineConfig{MaxTokens: 256, Temperature: 0.3})

	// Zero request values fall back to the load-time config.
	if err := eng.Generate("prompt", 0, 0, func(string) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotReq.NPredict != 256 {
		t.Errorf("n_predict = %d, want 256", gotReq.NPredict)
	}
	if gotReq.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", gotReq.Temperature)
	}
	if !gotReq.Stream {
		t.Error("stream = false, want true")
	}
	found := false
	for _, s := range gotReq.Stop {
		if s == "<|im_end|>" {
			found = true
		}
	}
	if !found {
		t.Errorf("stop sequences = %v, want ChatML end marker", gotReq.Stop)
	}
}

func TestGenerate_StopAbortsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(t, w, []completionChunk{{Content: "partial"}})
		<-r.Context().Done()
	}))
	defer srv.Close()

	eng := newTestEngine(srv, provider.EngineConfig{})

	// Stop fires only after the first fragment has come through, so the
	// partial output is provably kept.
	emitted := make(chan struct{})
	var once sync.Once
	var got strings.Builder
	done := make(chan error, 1)
	go func() {
		done <- eng.Generate("prompt", 64, 0.5, func(text string) {
			got.WriteString(text)
			once.Do(func() { close(emitted) })
		})
	}()
	go func() {
		<-emitted
		eng.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stopped run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Generate did not return after Stop")
	}
	if got.String() != "partial" {
		t.Errorf("output = %q, want the partial fragment kept", got.String())
	}
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	eng := newTestEngine(srv, provider.EngineConfig{})
	err := eng.Generate("prompt", 64, 0.5, func(string) {})
	if err == nil {
		t.Fatal("expected error for server failure")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want it to carry the status", err)
	}
}

func TestGenerate_SkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		writeChunks(t, w, []completionChunk{
			{Content: "ok"},
			{Stop: true},
		})
	}))
	defer srv.Close()

	eng := newTestEngine(srv, provider.EngineConfig{})

	var got strings.Builder
	if err := eng.Generate("prompt", 64, 0.5, func(text string) {
		got.WriteString(text)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "ok" {
		t.Errorf("output = %q, want %q", got.String(), "ok")
	}
}

func TestLoad_MissingBinary(t *testing.T) {
	eng := NewServer("tutord-test-no-such-binary")
	err := eng.Load("/nonexistent/model.gguf", provider.EngineConfig{ContextSize: 2048})
	if err == nil {
		t.Fatal("expected error for missing engine binary")
	}
	if eng.Loaded() {
		t.Error("Loaded() = true after failed load")
	}
}

func TestClose_Idle(t *testing.T) {
	eng := NewServer("")
	if err := eng.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
