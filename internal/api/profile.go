package api

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
)

// handleShowProfile returns the learner profile as one nested document.
func handleShowProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.Current()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading profile: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, p)
	}
}

// handleUpdateProfile sets dot-notation profile keys, e.g.
// {"routing.cost_preference": "cost"}. List fields take JSON arrays.
// Keys apply in sorted order; the first invalid one aborts the rest.
func handleUpdateProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for _, key := range slices.Sorted(maps.Keys(fields)) {
			if err := deps.Profile.SetField(key, fields[key]); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "setting %s: %v", key, err)
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}
