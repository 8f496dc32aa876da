// Package domain holds the plain records persisted and passed between the
// orchestrator's components: jobs, pipeline contexts, handoffs and the
// per-agent result variants. None of these types own behavior beyond small
// helpers — the owning component (queue, pipeline, handoff) enforces
// invariants on them.
package domain

import "time"

// JobType enumerates the kinds of work the Job Queue dispatches.
type JobType string

const (
	JobSpawnAgent     JobType = "spawn-agent"
	JobExecuteTask    JobType = "execute-task"
	JobRecoverContext JobType = "recover-context"
	JobTerminateAgent JobType = "terminate-agent"
	JobChat           JobType = "chat"
)

// JobStatus is the lifecycle state of a Job row.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
)

// DefaultMaxAttempts is the default retry budget for a Job (spec.md §4.4).
const DefaultMaxAttempts = 3

// DefaultPriority is the priority assigned when the caller does not specify
// one. Lower numbers run first; 1 is highest priority.
const DefaultPriority = 50

// Job is a durable queue record for one agent invocation or control action.
type Job struct {
	ID              string
	WorkspaceID     string
	ProjectID       string
	JobType         JobType
	Payload         map[string]any
	Status          JobStatus
	ExternalQueueID string
	Priority        int
	Attempts        int
	MaxAttempts     int
	Result          map[string]any
	ErrorMessage    string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the Job has reached a state from which it can
// no longer transition (completed or failed).
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// CanCancel reports whether the Job may still be cancelled (spec.md §4.4).
func (j *Job) CanCancel() bool {
	return j.Status == JobPending || j.Status == JobProcessing
}

// ExhaustedRetries reports whether the Job has used its full retry budget.
func (j *Job) ExhaustedRetries() bool {
	return j.Attempts >= j.MaxAttempts
}

// JobStats summarizes the current queue state (spec.md §4.4 getStats).
type JobStats struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
}
