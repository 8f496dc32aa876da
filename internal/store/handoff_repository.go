package store

import (
	"database/sql"
	"fmt"

	"github.com/devos-ai/orchestrator/internal/domain"
)

// HandoffRepository persists HandoffHistory rows (spec.md §3, §4.7 Handoff
// Coordinator).
type HandoffRepository struct {
	db *DB
}

func NewHandoffRepository(db *DB) *HandoffRepository {
	return &HandoffRepository{db: db}
}

// Insert records a handoff decision (validated, rejected, or executed).
func (r *HandoffRepository) Insert(h *domain.HandoffHistory) (int64, error) {
	snapshot, err := marshalJSON(h.ContextSnapshot)
	if err != nil {
		return 0, err
	}
	result, err := r.db.Exec(
		`INSERT INTO handoff_history (project_id, story_id, from_agent_type, to_agent_type, status,
			context_snapshot, rejection_reason, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ProjectID, h.StoryID, string(h.FromAgentType), string(h.ToAgentType), string(h.Status),
		snapshot, h.RejectionReason, h.CreatedAt, nullTime(h.CompletedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting handoff history: %w", err)
	}
	return result.LastInsertId()
}

// MarkCompleted sets a handoff's status and completion time once executed.
func (r *HandoffRepository) MarkCompleted(id int64, status domain.HandoffStatus, completedAt sql.NullTime) error {
	_, err := r.db.Exec(`UPDATE handoff_history SET status = ?, completed_at = ? WHERE id = ?`, string(status), completedAt, id)
	if err != nil {
		return fmt.Errorf("marking handoff completed: %w", err)
	}
	return nil
}

const handoffColumns = `id, project_id, story_id, from_agent_type, to_agent_type, status,
	context_snapshot, rejection_reason, created_at, completed_at`

func scanHandoff(scanner interface{ Scan(...any) error }) (*domain.HandoffHistory, error) {
	var (
		h                          domain.HandoffHistory
		fromAgentType, toAgentType string
		status                    string
		snapshot                  string
		completedAt               sql.NullTime
	)
	err := scanner.Scan(
		&h.ID, &h.ProjectID, &h.StoryID, &fromAgentType, &toAgentType, &status,
		&snapshot, &h.RejectionReason, &h.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	h.FromAgentType = domain.AgentType(fromAgentType)
	h.ToAgentType = domain.AgentType(toAgentType)
	h.Status = domain.HandoffStatus(status)
	if completedAt.Valid {
		h.CompletedAt = &completedAt.Time
	}
	if err := unmarshalJSON(snapshot, &h.ContextSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshaling handoff context snapshot: %w", err)
	}
	return &h, nil
}

// ListByProject returns a project's handoff history ordered oldest-first.
func (r *HandoffRepository) ListByProject(projectID string) ([]*domain.HandoffHistory, error) {
	rows, err := r.db.Query(`SELECT `+handoffColumns+` FROM handoff_history WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing handoff history: %w", err)
	}
	defer rows.Close()

	var out []*domain.HandoffHistory
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning handoff row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListByStory returns the handoff history for a single story, ordered
// oldest-first. The Coordination Rules Engine does not call it.
func (r *HandoffRepository) ListByStory(projectID, storyID string) ([]*domain.HandoffHistory, error) {
	rows, err := r.db.Query(
		`SELECT `+handoffColumns+` FROM handoff_history WHERE project_id = ? AND story_id = ? ORDER BY created_at ASC`,
		projectID, storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing handoff history for story: %w", err)
	}
	defer rows.Close()

	var out []*domain.HandoffHistory
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning handoff row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
