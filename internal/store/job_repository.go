package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
)

// ErrNotFound is returned by repository lookups when no matching row exists,
// mirrored on the reference domain.SessionNotFoundError idiom but kept
// as a single sentinel since this store has no per-entity not-found type.
var ErrNotFound = errors.New("store: not found")

// JobRepository persists domain.Job rows (spec.md §4.2 Job Queue durability).
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling json: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// Insert creates a new job row. The caller is expected to have populated
// j.ID (spec.md jobs are created with a generated uuid up front so the id
// can be returned to the caller before the row is durable).
func (r *JobRepository) Insert(j *domain.Job) error {
	payload, err := marshalJSON(j.Payload)
	if err != nil {
		return err
	}
	result, err := marshalJSON(j.Result)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO jobs (id, workspace_id, project_id, job_type, payload, status, external_queue_id,
			priority, attempts, max_attempts, result, error_message, started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.WorkspaceID, j.ProjectID, string(j.JobType), payload, string(j.Status), nullString(j.ExternalQueueID),
		j.Priority, j.Attempts, j.MaxAttempts, result, nullString(j.ErrorMessage),
		nullTime(j.StartedAt), nullTime(j.CompletedAt), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// Update persists the mutable fields of an existing job row.
func (r *JobRepository) Update(j *domain.Job) error {
	payload, err := marshalJSON(j.Payload)
	if err != nil {
		return err
	}
	result, err := marshalJSON(j.Result)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`UPDATE jobs SET status = ?, external_queue_id = ?, priority = ?, attempts = ?, max_attempts = ?,
			payload = ?, result = ?, error_message = ?, started_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(j.Status), nullString(j.ExternalQueueID), j.Priority, j.Attempts, j.MaxAttempts,
		payload, result, nullString(j.ErrorMessage), nullTime(j.StartedAt), nullTime(j.CompletedAt), j.UpdatedAt,
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

const jobColumns = `id, workspace_id, project_id, job_type, payload, status, external_queue_id,
	priority, attempts, max_attempts, result, error_message, started_at, completed_at, created_at, updated_at`

func scanJob(scanner interface{ Scan(...any) error }) (*domain.Job, error) {
	var (
		j                               domain.Job
		jobType, status                 string
		payload, result                 string
		externalQueueID, errorMessage   sql.NullString
		startedAt, completedAt          sql.NullTime
	)
	err := scanner.Scan(
		&j.ID, &j.WorkspaceID, &j.ProjectID, &jobType, &payload, &status, &externalQueueID,
		&j.Priority, &j.Attempts, &j.MaxAttempts, &result, &errorMessage,
		&startedAt, &completedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.JobType = domain.JobType(jobType)
	j.Status = domain.JobStatus(status)
	j.ExternalQueueID = externalQueueID.String
	j.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if err := unmarshalJSON(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("unmarshaling job payload: %w", err)
	}
	if err := unmarshalJSON(result, &j.Result); err != nil {
		return nil, fmt.Errorf("unmarshaling job result: %w", err)
	}
	return &j, nil
}

// GetByID returns a job scoped to a workspace, per spec.md §6's
// workspace-isolation requirement for the control-plane API.
func (r *JobRepository) GetByID(id, workspaceID string) (*domain.Job, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND workspace_id = ?`, id, workspaceID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching job: %w", err)
	}
	return job, nil
}

// ListByStatus returns jobs in the given status ordered by priority, then
// creation order, matching the dequeue ordering in spec.md §4.2: "priority
// is an integer (1 = highest, <= 100)", so the lowest numeric value runs
// first.
func (r *JobRepository) ListByStatus(status domain.JobStatus, limit int) ([]*domain.Job, error) {
	rows, err := r.db.Query(
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY priority ASC, created_at ASC LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListFilter narrows List to a workspace's jobs by optional status and
// jobType, with pagination (spec.md §6 GET .../jobs?status=&jobType=&limit=&offset=).
type ListFilter struct {
	Status  domain.JobStatus
	JobType domain.JobType
	Limit   int
	Offset  int
}

// List returns a page of jobs scoped to workspaceID plus the total count
// matching the filter (ignoring Limit/Offset), for the control-plane
// listing endpoint.
func (r *JobRepository) List(workspaceID string, f ListFilter) ([]*domain.Job, int, error) {
	where := `WHERE workspace_id = ?`
	args := []any{workspaceID}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.JobType != "" {
		where += ` AND job_type = ?`
		args = append(args, string(f.JobType))
	}

	var total int
	countRow := r.db.QueryRow(`SELECT COUNT(*) FROM jobs `+where, args...)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(
		`SELECT `+jobColumns+` FROM jobs `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(append([]any{}, args...), limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// Stats computes the aggregate counts backing the getStats operation
// (spec.md §4.2).
func (r *JobRepository) Stats(workspaceID string) (domain.JobStats, error) {
	var stats domain.JobStats
	row := r.db.QueryRow(
		`SELECT
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status IN ('processing', 'retrying') THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END)
		 FROM jobs WHERE workspace_id = ?`,
		workspaceID,
	)
	var waiting, active, completed, failed sql.NullInt64
	if err := row.Scan(&waiting, &active, &completed, &failed); err != nil {
		return stats, fmt.Errorf("computing job stats: %w", err)
	}
	stats.Waiting = int(waiting.Int64)
	stats.Active = int(active.Int64)
	stats.Completed = int(completed.Int64)
	stats.Failed = int(failed.Int64)
	return stats, nil
}

// PurgeRetained deletes completed jobs older than completedRetention and
// failed jobs older than failedRetention (spec.md §4.2 retention policy:
// completed 7d, failed 30d).
func (r *JobRepository) PurgeRetained(now time.Time, completedRetention, failedRetention time.Duration) error {
	_, err := r.db.Exec(`DELETE FROM jobs WHERE status = 'completed' AND completed_at < ?`, now.Add(-completedRetention))
	if err != nil {
		return fmt.Errorf("purging completed jobs: %w", err)
	}
	_, err = r.db.Exec(`DELETE FROM jobs WHERE status = 'failed' AND completed_at < ?`, now.Add(-failedRetention))
	if err != nil {
		return fmt.Errorf("purging failed jobs: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
