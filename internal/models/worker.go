package models

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/storage"
)

// JobTypeDownload is the queue type for model transfer jobs.
const JobTypeDownload = "model_download"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

type downloadPayload struct {
	Model string `json:"model"`
}

// NewDownloadJob builds a queue entry that transfers one model.
func NewDownloadJob(model string) storage.Job {
	payload, _ := json.Marshal(downloadPayload{Model: model})
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeDownload,
		PayloadJSON: string(payload),
	}
}

// Worker processes model_download jobs from the SQLite job queue. One
// worker runs per daemon, so transfers happen one at a time in queue
// order.
type Worker struct {
	store   JobStore
	manager *Manager
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker over the given queue and manager. A
// pollInterval of zero or less falls back to 500ms.
func NewWorker(store JobStore, manager *Manager, pollInterval time.Duration) *Worker {
	w := &Worker{store: store, manager: manager, poll: pollInterval, logger: slog.Default()}
	if w.poll <= 0 {
		w.poll = 500 * time.Millisecond
	}
	return w
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for ctx.Err() == nil {
		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("job poll failed", "error", err)
		}
		if done {
			// Drain the queue before going back to sleep.
			continue
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes a single download job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeDownload})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, w.settle(ctx, job, w.processJob(ctx, job))
}

// settle records the outcome of one processed job.
func (w *Worker) settle(ctx context.Context, job *storage.Job, procErr error) error {
	switch {
	case procErr == nil:
		if err := w.store.CompleteJob(job.ID); err != nil {
			return fmt.Errorf("completing job %s: %w", job.ID, err)
		}
	case ctx.Err() != nil:
		// Shutdown mid-transfer. The job stays running and is requeued
		// at next startup, resuming from the partial file.
	default:
		w.logger.Warn("download job failed", "job_id", job.ID, "error", procErr)
		if err := w.store.FailJob(job.ID, procErr.Error()); err != nil {
			w.logger.Error("recording job failure", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload downloadPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	st, err := w.manager.Download(ctx, payload.Model)
	if err != nil {
		if st.Phase == PhaseCancelled && ctx.Err() == nil {
			// Cancelled through the API. The request was honored, so
			// the job completes rather than retries.
			return nil
		}
		return fmt.Errorf("downloading %s: %w", payload.Model, err)
	}
	return nil
}
