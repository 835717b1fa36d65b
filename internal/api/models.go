package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tutord/internal/models"
)

type modelList struct {
	Object string               `json:"object"`
	Data   []models.ModelStatus `json:"data"`
}

func handleListModels(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, modelList{
			Object: "list",
			Data:   deps.Manager.List(),
		})
	}
}

func handleModelStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		spec, ok := deps.Manager.Catalog().Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown model %q", id)
			return
		}

		respondJSON(w, http.StatusOK, models.ModelStatus{
			Spec:       spec,
			State:      deps.Manager.State(id),
			Downloaded: deps.Manager.Downloaded(id),
		})
	}
}

// handleDownloadModel enqueues a download job. The worker drives the
// transfer; progress is visible through the status endpoint.
func handleDownloadModel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := deps.Manager.Catalog().Get(id); !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown model %q", id)
			return
		}
		if deps.Manager.Downloaded(id) {
			respondJSON(w, http.StatusOK, map[string]string{
				"model":  id,
				"status": "complete",
			})
			return
		}

		job := models.NewDownloadJob(id)
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue download: %v", err)
			return
		}

		respondJSON(w, http.StatusAccepted, map[string]string{
			"model":  id,
			"job_id": job.ID,
			"status": "queued",
		})
	}
}

func handleDeleteModel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := deps.Manager.Catalog().Get(id); !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown model %q", id)
			return
		}

		existed, err := deps.Manager.Delete(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete model: %v", err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"model":   id,
			"deleted": existed,
		})
	}
}
