// Package queue is the durable priority Job Queue (spec.md §4.2). Jobs are
// persisted through internal/store and dispatched to a bounded pool of
// worker goroutines. The established parallel-dispatch idiom
// (internal/engine/engine.go RunOnceWithLogs: a sync.WaitGroup fanning out
// one goroutine per independent concern, with a shared failedSet guarding
// concurrent map access) is generalized here from a fixed per-cycle fan-out
// into a long-running pool bounded by MAX_PARALLEL_AGENTS, using
// golang.org/x/sync/semaphore to cap concurrency — the same intent as the
// prior WaitGroup+mutex pair, expressed with the ecosystem's own primitive
// for a bound that isn't a fixed batch.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/scrub"
	"github.com/devos-ai/orchestrator/internal/store"
)

func newJobID() string { return uuid.NewString() }

// Dispatcher executes one job and reports its result. The Job Queue depends
// only on this interface, not on any concrete executor package, breaking
// the circular dependency named in spec.md §9 (executors enqueue follow-up
// jobs; the queue dispatches jobs to executors).
type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job) (result map[string]any, err error)
}

// backoffBase is the initial retry delay (spec.md §4.2: "exponential
// backoff, base 1s").
const backoffBase = time.Second

// Queue is the durable, priority-ordered Job Queue.
type Queue struct {
	jobs       *store.JobRepository
	dispatcher Dispatcher
	logger     *slog.Logger
	sem        *semaphore.Weighted
	pollEvery  time.Duration
}

// New builds a Queue bounded to maxParallel concurrent workers.
func New(jobs *store.JobRepository, dispatcher Dispatcher, logger *slog.Logger, maxParallel int64) *Queue {
	return &Queue{
		jobs:       jobs,
		dispatcher: dispatcher,
		logger:     logger,
		sem:        semaphore.NewWeighted(maxParallel),
		pollEvery:  time.Second,
	}
}

// Enqueue persists a new pending job and returns it.
func (q *Queue) Enqueue(workspaceID, projectID string, jobType domain.JobType, payload map[string]any, priority int) (*domain.Job, error) {
	now := time.Now()
	job := &domain.Job{
		ID:          newJobID(),
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		JobType:     jobType,
		Payload:     payload,
		Status:      domain.JobPending,
		Priority:    priority,
		MaxAttempts: domain.DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if priority == 0 {
		job.Priority = domain.DefaultPriority
	}
	if err := q.jobs.Insert(job); err != nil {
		return nil, fmt.Errorf("enqueuing job: %w", err)
	}
	return job, nil
}

// GetJob returns a job scoped to a workspace (spec.md §6 getJob(id,
// workspaceId) contract).
func (q *Queue) GetJob(id, workspaceID string) (*domain.Job, error) {
	return q.jobs.GetByID(id, workspaceID)
}

// GetStats returns the aggregate job counters for a workspace.
func (q *Queue) GetStats(workspaceID string) (domain.JobStats, error) {
	return q.jobs.Stats(workspaceID)
}

// CancelJob transitions a pending or processing job to failed, provided it
// is still cancellable (spec.md §4.2: cancellation is a no-op on a
// terminal job).
func (q *Queue) CancelJob(id, workspaceID string) error {
	job, err := q.jobs.GetByID(id, workspaceID)
	if err != nil {
		return err
	}
	if !job.CanCancel() {
		return fmt.Errorf("job %s is not cancellable in status %s", id, job.Status)
	}
	job.Status = domain.JobFailed
	job.ErrorMessage = "Cancelled by user"
	now := time.Now()
	job.CompletedAt = &now
	job.UpdatedAt = now
	return q.jobs.Update(job)
}

// Run starts the worker pool, polling for pending jobs until ctx is
// cancelled. Each dequeued job acquires one unit of the semaphore before
// its own goroutine starts, bounding total in-flight dispatches to
// maxParallel.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.dispatchPending(ctx)
		}
	}
}

func (q *Queue) dispatchPending(ctx context.Context) {
	pending, err := q.jobs.ListByStatus(domain.JobPending, 50)
	if err != nil {
		q.logger.Error("listing pending jobs", "error", err)
		return
	}
	retrying, err := q.jobs.ListByStatus(domain.JobRetrying, 50)
	if err != nil {
		q.logger.Error("listing retrying jobs", "error", err)
		return
	}
	pending = append(pending, retrying...)

	for _, job := range pending {
		if job.Status == domain.JobRetrying && time.Since(job.UpdatedAt) < backoffBase*time.Duration(1<<uint(job.Attempts-1)) {
			continue // still inside its backoff window
		}
		if !q.sem.TryAcquire(1) {
			return // pool is fully busy; remaining jobs wait for the next poll
		}
		go func(j *domain.Job) {
			defer q.sem.Release(1)
			q.process(ctx, j)
		}(job)
	}
}

func (q *Queue) process(ctx context.Context, job *domain.Job) {
	job.Status = domain.JobProcessing
	job.Attempts++
	now := time.Now()
	job.StartedAt = &now
	job.UpdatedAt = now
	if err := q.jobs.Update(job); err != nil {
		q.logger.Error("marking job processing", "job_id", job.ID, "error", err)
		return
	}

	result, err := q.dispatcher.Dispatch(ctx, job)

	completedAt := time.Now()
	job.UpdatedAt = completedAt
	if err != nil {
		job.ErrorMessage = scrub.String(err.Error())
		if job.ExhaustedRetries() {
			job.Status = domain.JobFailed
			job.CompletedAt = &completedAt
		} else {
			job.Status = domain.JobRetrying
			delay := backoffBase * time.Duration(1<<uint(job.Attempts-1))
			q.logger.Warn("job failed, will retry", "job_id", job.ID, "attempt", job.Attempts, "delay", delay, "error", err)
			time.AfterFunc(delay, func() { _ = q.requeue(job.ID, job.WorkspaceID) })
		}
	} else {
		job.Status = domain.JobCompleted
		job.Result = result
		job.CompletedAt = &completedAt
	}

	if err := q.jobs.Update(job); err != nil {
		q.logger.Error("persisting job result", "job_id", job.ID, "error", err)
	}
}

// requeue flips a retrying job back to pending so the next poll picks it up.
func (q *Queue) requeue(id, workspaceID string) error {
	job, err := q.jobs.GetByID(id, workspaceID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobRetrying {
		return nil
	}
	job.Status = domain.JobPending
	job.UpdatedAt = time.Now()
	return q.jobs.Update(job)
}

// PurgeRetained deletes jobs past their retention window (spec.md §4.2:
// completed 7d, failed 30d).
func (q *Queue) PurgeRetained() error {
	return q.jobs.PurgeRetained(time.Now(), 7*24*time.Hour, 30*24*time.Hour)
}
