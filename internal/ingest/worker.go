package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendaro/tendaro/internal/storage"
)

// JobTypeReindex is the queue type for post-import index rebuilds.
const JobTypeReindex = "tenant_reindex"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// IndexRefresher rebuilds a tenant's in-memory index after an import.
type IndexRefresher interface {
	Invalidate(tenantKey string)
	Warm(tenantKey string) error
}

// Worker processes tenant_reindex jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	index  IndexRefresher
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, index IndexRefresher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		index:  index,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single reindex job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeReindex})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type reindexPayload struct {
	TenantKey string `json:"tenant_key"`
	Version   int64  `json:"version"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload reindexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.TenantKey == "" {
		return fmt.Errorf("payload missing tenant_key")
	}

	w.index.Invalidate(payload.TenantKey)
	if err := w.index.Warm(payload.TenantKey); err != nil {
		return fmt.Errorf("rebuilding index for %s: %w", payload.TenantKey, err)
	}

	w.logger.Info("tenant reindexed", "tenant", payload.TenantKey, "version", payload.Version)
	return nil
}
