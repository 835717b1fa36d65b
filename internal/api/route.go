package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/storage"
)

// RouteView explains one routing decision in display terms.
type RouteView struct {
	Category       string   `json:"category"`
	DeviceTier     string   `json:"device_tier"`
	Network        string   `json:"network"`
	CostPreference string   `json:"cost_preference"`
	Candidates     []string `json:"candidates"`
	Provider       string   `json:"provider,omitempty"`
}

// handleRoutePreview explains how a query would route without doing any
// provider I/O.
func handleRoutePreview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}

		msgs := []chat.Message{chat.User(q)}
		if system := r.URL.Query().Get("system"); system != "" {
			msgs = append([]chat.Message{chat.System(system)}, msgs...)
		}

		d := deps.Router.Preview(msgs)
		candidates := d.Candidates
		if candidates == nil {
			candidates = []string{}
		}

		respondJSON(w, http.StatusOK, RouteView{
			Category:       d.Category.String(),
			DeviceTier:     d.Tier.String(),
			Network:        d.Network.String(),
			CostPreference: d.Preference.String(),
			Candidates:     candidates,
			Provider:       d.Provider,
		})
	}
}

type decisionRow struct {
	ID             string          `json:"id"`
	CreatedAt      string          `json:"created_at"`
	Category       string          `json:"category"`
	DeviceTier     string          `json:"device_tier"`
	Network        string          `json:"network"`
	CostPreference string          `json:"cost_preference"`
	Candidates     json.RawMessage `json:"candidates"`
	Provider       string          `json:"provider"`
	TTFTMillis     int64           `json:"ttft_ms"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
}

func handleRecentDecisions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)

		decisions, err := deps.Store.RecentDecisions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list decisions: %v", err)
			return
		}

		respondJSON(w, http.StatusOK, decisionRows(decisions))
	}
}

func decisionRows(decisions []storage.RoutingDecision) []decisionRow {
	rows := make([]decisionRow, len(decisions))
	for i, d := range decisions {
		if d.Candidates == "" {
			d.Candidates = "[]"
		}
		rows[i] = decisionRow{
			ID:             d.ID,
			CreatedAt:      d.CreatedAt.UTC().Format(time.RFC3339),
			Category:       d.Category,
			DeviceTier:     d.DeviceTier,
			Network:        d.Network,
			CostPreference: d.CostPreference,
			Candidates:     json.RawMessage(d.Candidates),
			Provider:       d.Provider,
			TTFTMillis:     d.TTFTMillis,
			Status:         d.Status,
			Error:          d.Error,
		}
	}
	return rows
}
