// Package api is the daemon's HTTP surface: an OpenAI-compatible chat
// endpoint backed by the router, model lifecycle endpoints backed by the
// download manager, and the MCP server.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tutord/internal/models"
	"github.com/kalambet/tutord/internal/profile"
	"github.com/kalambet/tutord/internal/routing"
	"github.com/kalambet/tutord/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Router     *routing.Router
	Manager    *models.Manager
	Store      *storage.Store
	Profile    *profile.Manager
	Token      string
	HTTPClient *http.Client // used by summarize URL fetches; nil means http.DefaultClient
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/health", handleHealth)
	r.Post("/v1/chat/completions", handleChatCompletions(deps))
	r.Get("/v1/models", handleListModels(deps))
	r.Get("/v1/models/{id}", handleModelStatus(deps))
	r.Post("/v1/models/{id}/download", handleDownloadModel(deps))
	r.Delete("/v1/models/{id}", handleDeleteModel(deps))
	r.Get("/v1/route", handleRoutePreview(deps))
	r.Get("/v1/decisions", handleRecentDecisions(deps))
	r.Post("/v1/summarize", handleSummarize(deps))
	r.Get("/v1/profile", handleShowProfile(deps))
	r.Patch("/v1/profile", handleUpdateProfile(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// errEnvelope is the OpenAI-style error body every endpoint returns.
type errEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	var env errEnvelope
	env.Error.Message = fmt.Sprintf(format, args...)
	env.Error.Type = errType
	respondJSON(w, code, env)
}

// respondJSON writes v as the response body with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseIntParam reads a non-negative integer query parameter, clamping
// to maxVal when maxVal is positive. Missing or malformed values fall
// back to defaultVal.
func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 {
		return min(v, maxVal)
	}
	return v
}
