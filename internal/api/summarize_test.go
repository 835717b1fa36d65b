package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSummarize_Content(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	body := `{"content":"Cells contain mitochondria and ribosomes.","title":"Bio"}`
	rr := doRequest(t, h, http.MethodPost, "/v1/summarize", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp summarizeResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Title != "Bio" {
		t.Errorf("title = %q", resp.Title)
	}
	if resp.Kind != "text" {
		t.Errorf("kind = %q", resp.Kind)
	}
	if resp.Summary != "Hello there" {
		t.Errorf("summary = %q", resp.Summary)
	}
}

func TestSummarize_MissingSource(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))
	rr := doRequest(t, h, http.MethodPost, "/v1/summarize", `{"title":"Bio"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSummarize_URL(t *testing.T) {
	page := `<html><head><title>Cell Biology</title></head><body><p>Cells contain mitochondria.</p></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	deps := newTestDeps(t)
	deps.HTTPClient = srv.Client()
	h := NewAppHandler(deps)

	rr := doRequest(t, h, http.MethodPost, "/v1/summarize", `{"url":"`+srv.URL+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp summarizeResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Title != "Cell Biology" {
		t.Errorf("title = %q", resp.Title)
	}
	if resp.Kind != "html" {
		t.Errorf("kind = %q", resp.Kind)
	}
}

func TestSummarize_URLFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	deps := newTestDeps(t)
	deps.HTTPClient = srv.Client()
	h := NewAppHandler(deps)

	rr := doRequest(t, h, http.MethodPost, "/v1/summarize", `{"url":"`+srv.URL+`"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestSummarize_Base64File(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	encoded := base64.StdEncoding.EncodeToString([]byte("Newton's second law: F = ma"))
	body := fmt.Sprintf(`{"type":"file","title":"notes.txt","content":%q}`, encoded)
	rr := doRequest(t, h, http.MethodPost, "/v1/summarize", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp summarizeResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Kind != "text" {
		t.Errorf("kind = %q", resp.Kind)
	}
}

func TestSummarize_InvalidBase64(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))
	rr := doRequest(t, h, http.MethodPost, "/v1/summarize", `{"type":"file","content":"%%%not base64%%%"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSummarize_Stream(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	body := `{"content":"Cells contain mitochondria.","stream":true}`
	rr := doRequest(t, h, http.MethodPost, "/v1/summarize", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "data: [DONE]") {
		t.Errorf("stream missing [DONE]:\n%s", rr.Body.String())
	}
}
