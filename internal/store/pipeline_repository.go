package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/devos-ai/orchestrator/internal/domain"
)

// PipelineRepository persists the single authoritative PipelineContext row
// per project, plus its immutable transition history (spec.md §3, §4.5).
type PipelineRepository struct {
	db *DB
}

func NewPipelineRepository(db *DB) *PipelineRepository {
	return &PipelineRepository{db: db}
}

const pipelineColumns = `project_id, workspace_id, workflow_id, current_state, previous_state,
	state_entered_at, active_agent_id, active_agent_type, current_story_id, retry_count, max_retries,
	metadata, created_at, updated_at`

func scanPipelineContext(scanner interface{ Scan(...any) error }) (*domain.PipelineContext, error) {
	var (
		p                          domain.PipelineContext
		currentState, previousState string
		activeAgentType            string
		metadata                   string
	)
	err := scanner.Scan(
		&p.ProjectID, &p.WorkspaceID, &p.WorkflowID, &currentState, &previousState,
		&p.StateEnteredAt, &p.ActiveAgentID, &activeAgentType, &p.CurrentStoryID, &p.RetryCount, &p.MaxRetries,
		&metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CurrentState = domain.PipelineState(currentState)
	p.PreviousState = domain.PipelineState(previousState)
	p.ActiveAgentType = domain.AgentType(activeAgentType)
	if err := unmarshalJSON(metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling pipeline metadata: %w", err)
	}
	return &p, nil
}

// Create inserts the single context row for a project (spec.md §3 invariant:
// "exactly one context row per projectId").
func (r *PipelineRepository) Create(p *domain.PipelineContext) error {
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO pipeline_contexts (project_id, workspace_id, workflow_id, current_state, previous_state,
			state_entered_at, active_agent_id, active_agent_type, current_story_id, retry_count, max_retries,
			metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectID, p.WorkspaceID, p.WorkflowID, string(p.CurrentState), string(p.PreviousState),
		p.StateEnteredAt, p.ActiveAgentID, string(p.ActiveAgentType), p.CurrentStoryID, p.RetryCount, p.MaxRetries,
		metadata, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating pipeline context: %w", err)
	}
	return nil
}

// GetByProjectID returns the context row for a project.
func (r *PipelineRepository) GetByProjectID(projectID string) (*domain.PipelineContext, error) {
	row := r.db.QueryRow(`SELECT `+pipelineColumns+` FROM pipeline_contexts WHERE project_id = ?`, projectID)
	p, err := scanPipelineContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching pipeline context: %w", err)
	}
	return p, nil
}

// ListNonTerminal returns every context not in a terminal state, used by
// the recover() startup scan (SPEC_FULL.md §10 resolution for in-flight
// pipelines at process restart).
func (r *PipelineRepository) ListNonTerminal() ([]*domain.PipelineContext, error) {
	rows, err := r.db.Query(`SELECT ` + pipelineColumns + ` FROM pipeline_contexts WHERE current_state NOT IN ('completed', 'failed')`)
	if err != nil {
		return nil, fmt.Errorf("listing non-terminal pipeline contexts: %w", err)
	}
	defer rows.Close()

	var contexts []*domain.PipelineContext
	for rows.Next() {
		p, err := scanPipelineContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pipeline context row: %w", err)
		}
		contexts = append(contexts, p)
	}
	return contexts, rows.Err()
}

// Transition persists a state transition: updates the context row and
// appends one immutable history row in the same transaction, so the two
// never diverge.
func (r *PipelineRepository) Transition(p *domain.PipelineContext, h *domain.PipelineStateHistory) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transition transaction: %w", err)
	}
	defer tx.Rollback()

	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`UPDATE pipeline_contexts SET current_state = ?, previous_state = ?, state_entered_at = ?,
			active_agent_id = ?, active_agent_type = ?, current_story_id = ?, retry_count = ?,
			metadata = ?, updated_at = ?
		 WHERE project_id = ?`,
		string(p.CurrentState), string(p.PreviousState), p.StateEnteredAt,
		p.ActiveAgentID, string(p.ActiveAgentType), p.CurrentStoryID, p.RetryCount,
		metadata, p.UpdatedAt, p.ProjectID,
	)
	if err != nil {
		return fmt.Errorf("updating pipeline context: %w", err)
	}

	historyMetadata, err := marshalJSON(h.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO pipeline_state_history (project_id, from_state, to_state, transition_at, trigger, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		h.ProjectID, string(h.FromState), string(h.ToState), h.TransitionAt, h.Trigger, historyMetadata,
	)
	if err != nil {
		return fmt.Errorf("inserting pipeline history: %w", err)
	}

	return tx.Commit()
}

// History returns the full ordered transition history for a project.
func (r *PipelineRepository) History(projectID string) ([]*domain.PipelineStateHistory, error) {
	return r.HistoryPage(projectID, 0, 0)
}

// HistoryPage returns a page of a project's transition history, oldest
// first. limit <= 0 returns every row (spec.md §6 GET .../history?limit=&offset=).
func (r *PipelineRepository) HistoryPage(projectID string, limit, offset int) ([]*domain.PipelineStateHistory, error) {
	query := `SELECT id, project_id, from_state, to_state, transition_at, trigger, metadata
		 FROM pipeline_state_history WHERE project_id = ? ORDER BY transition_at ASC`
	args := []any{projectID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pipeline history: %w", err)
	}
	defer rows.Close()

	var history []*domain.PipelineStateHistory
	for rows.Next() {
		var h domain.PipelineStateHistory
		var fromState, toState, metadata string
		if err := rows.Scan(&h.ID, &h.ProjectID, &fromState, &toState, &h.TransitionAt, &h.Trigger, &metadata); err != nil {
			return nil, fmt.Errorf("scanning pipeline history row: %w", err)
		}
		h.FromState = domain.PipelineState(fromState)
		h.ToState = domain.PipelineState(toState)
		if err := unmarshalJSON(metadata, &h.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling history metadata: %w", err)
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}
