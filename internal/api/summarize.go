package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/ingest"
	"github.com/kalambet/tutord/internal/provider"
)

const maxSummarizeBodySize = 10 << 20 // 10MB

// SummarizeRequest carries study material inline, as a base64 file, or
// by URL. Exactly one of Content or URL must be set; Type "file" marks
// Content as base64.
type SummarizeRequest struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
	Focus   string `json:"focus"`
	Stream  bool   `json:"stream"`
}

type summarizeResponse struct {
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

func handleSummarize(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSummarizeBodySize)
		defer r.Body.Close()

		var req SummarizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}

		var (
			material ingest.Material
			err      error
		)
		switch {
		case req.URL != "":
			ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			defer cancel()
			material, err = ingest.Fetch(ctx, deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "fetching material: %v", err)
				return
			}

		case req.Type == "file":
			decoded, decErr := base64.StdEncoding.DecodeString(req.Content)
			if decErr != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			material, err = ingest.FromBytes(req.Title, decoded)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "extracting material: %v", err)
				return
			}

		default:
			material, err = ingest.FromBytes(req.Title, []byte(req.Content))
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "extracting material: %v", err)
				return
			}
		}
		if req.Title != "" {
			material.Title = req.Title
		}

		msgs := ingest.SummaryConversation(material, req.Focus)
		st, err := deps.Router.Send(r.Context(), provider.Request{Messages: msgs})
		if err != nil {
			routeError(w, err)
			return
		}

		if req.Stream {
			streamCompletion(w, st, "chatcmpl-"+uuid.New().String(), "summarize")
			return
		}

		text, err := provider.Collect(st)
		if err != nil {
			routeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, summarizeResponse{
			Title:   material.Title,
			Kind:    string(material.Kind),
			Summary: text,
		})
	}
}
