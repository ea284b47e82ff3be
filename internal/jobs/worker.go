package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/agentflow/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(j storage.Job) error
	EnqueueJobOnce(j storage.Job) (string, bool, error)
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	RequeueRunningJobs() (int, error)
}

// Handler processes one claimed job. A returned error fails the attempt and
// the job is retried with backoff until its attempts run out.
type Handler func(ctx context.Context, job *storage.Job) error

// Worker processes jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	handlers map[string]Handler
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with no handlers.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		handlers: make(map[string]Handler),
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Handle registers h for jobType. Register all handlers before Run.
func (w *Worker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

func (w *Worker) types() []string {
	types := make([]string, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Run polls for jobs until ctx is cancelled. Jobs left running by a previous
// process are put back in the queue first.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs(); err != nil {
		w.logger.Error("requeueing interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}

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

// RunOnce claims and processes a single job of any registered type.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	types := w.types()
	if len(types) == 0 {
		return false, nil
	}
	job, err := w.store.ClaimNextJob(types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	if err := w.handlers[job.Type](ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("job completed", "job_id", job.ID, "type", job.Type, "duration", time.Since(start))
	return true, nil
}

// Enqueue adds a job of jobType with payload marshalled as JSON and returns its id.
func Enqueue(store JobStore, jobType string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(storage.Job{ID: id, Type: jobType, PayloadJSON: string(b)}); err != nil {
		return "", fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	return id, nil
}

// EnqueueOnce is Enqueue for jobs that must not pile up: when a job of
// jobType is already pending or running its id is returned with queued false.
func EnqueueOnce(store JobStore, jobType string, payload any) (id string, queued bool, err error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshaling payload: %w", err)
	}
	id, queued, err = store.EnqueueJobOnce(storage.Job{ID: uuid.New().String(), Type: jobType, PayloadJSON: string(b)})
	if err != nil {
		return "", false, fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	return id, queued, nil
}
