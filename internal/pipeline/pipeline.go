// Package pipeline is the Pipeline State Machine (spec.md §4.5): it
// enforces the closed transition table declared in internal/domain and
// durably records every transition plus the context row it applies to. The
// startup recovery scan is grounded directly on the prior
// internal/engine/state.go ResetActiveStatuses: "any active status found
// at startup is stale, from a previous run that was interrupted" is the
// exact rule applied here to non-terminal pipeline contexts found at
// process start.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/events"
	"github.com/devos-ai/orchestrator/internal/store"
)

// IllegalTransitionError is returned when a requested transition is not in
// the closed table (spec.md §4.5).
type IllegalTransitionError struct {
	From, To domain.PipelineState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal pipeline transition: %s -> %s", e.From, e.To)
}

// Machine wraps the durable pipeline store with transition enforcement.
type Machine struct {
	repo   *store.PipelineRepository
	bus    *events.Bus
	logger *slog.Logger
}

// New builds a Machine.
func New(repo *store.PipelineRepository, bus *events.Bus, logger *slog.Logger) *Machine {
	return &Machine{repo: repo, bus: bus, logger: logger}
}

// Create seeds the single context row for a new project (spec.md §3:
// "exactly one context row per projectId").
func (m *Machine) Create(projectID, workspaceID, workflowID, gitRepoURL, baseBranch string, maxRetries int) (*domain.PipelineContext, error) {
	now := time.Now()
	ctx := &domain.PipelineContext{
		ProjectID:      projectID,
		WorkspaceID:    workspaceID,
		WorkflowID:     workflowID,
		CurrentState:   domain.StateIdle,
		PreviousState:  domain.StateIdle,
		StateEnteredAt: now,
		MaxRetries:     maxRetries,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ctx.MaxRetries == 0 {
		ctx.MaxRetries = domain.DefaultMaxRetries
	}
	if err := m.repo.Create(ctx); err != nil {
		return nil, fmt.Errorf("creating pipeline context: %w", err)
	}
	return ctx, nil
}

// Get returns a project's pipeline context.
func (m *Machine) Get(projectID string) (*domain.PipelineContext, error) {
	return m.repo.GetByProjectID(projectID)
}

// Transition moves a project's pipeline to toState, validated against the
// closed transition table (spec.md §4.5). trigger is a short label (e.g.
// "dev-complete", "qa-needs-changes") recorded in the history row for
// audit.
func (m *Machine) Transition(projectID string, toState domain.PipelineState, trigger string, metadata map[string]any) (*domain.PipelineContext, error) {
	ctx, err := m.repo.GetByProjectID(projectID)
	if err != nil {
		return nil, fmt.Errorf("loading pipeline context: %w", err)
	}

	if !domain.IsLegalTransition(ctx.CurrentState, toState) {
		return nil, &IllegalTransitionError{From: ctx.CurrentState, To: toState}
	}

	now := time.Now()
	history := &domain.PipelineStateHistory{
		ProjectID:    projectID,
		FromState:    ctx.CurrentState,
		ToState:      toState,
		TransitionAt: now,
		Trigger:      trigger,
		Metadata:     metadata,
	}

	ctx.PreviousState = ctx.CurrentState
	ctx.CurrentState = toState
	ctx.StateEnteredAt = now
	ctx.UpdatedAt = now
	if toState == domain.StateImplementing && ctx.PreviousState == domain.StateInQA {
		ctx.RetryCount++
	}
	if toState == domain.StatePlanning || toState == domain.StateReadyForDev {
		ctx.ActiveAgentID = ""
		ctx.ActiveAgentType = ""
	}

	if err := m.repo.Transition(ctx, history); err != nil {
		return nil, fmt.Errorf("persisting pipeline transition: %w", err)
	}

	m.logger.Info("pipeline transitioned", "project_id", projectID, "from", history.FromState, "to", toState, "trigger", trigger)
	m.bus.Publish(events.TopicPipelineChanged, ctx)
	return ctx, nil
}

// AssignAgent records which agent session currently owns the project's
// pipeline, enforcing the single-agent-per-story serialization rule
// (spec.md §5).
func (m *Machine) AssignAgent(projectID, agentID string, agentType domain.AgentType) error {
	ctx, err := m.repo.GetByProjectID(projectID)
	if err != nil {
		return err
	}
	if ctx.IsBusy() && ctx.ActiveAgentID != agentID {
		return fmt.Errorf("project %s already has an active agent %s", projectID, ctx.ActiveAgentID)
	}
	ctx.ActiveAgentID = agentID
	ctx.ActiveAgentType = agentType
	ctx.UpdatedAt = time.Now()
	return m.repo.Transition(ctx, &domain.PipelineStateHistory{
		ProjectID:    projectID,
		FromState:    ctx.CurrentState,
		ToState:      ctx.CurrentState,
		TransitionAt: ctx.UpdatedAt,
		Trigger:      "agent-assigned:" + string(agentType),
		Metadata:     map[string]any{"agent_id": agentID},
	})
}

// History returns the audit trail for a project.
func (m *Machine) History(projectID string) ([]*domain.PipelineStateHistory, error) {
	return m.repo.History(projectID)
}

// HistoryPage returns a paginated slice of a project's audit trail
// (spec.md §6 GET .../history?limit=&offset=).
func (m *Machine) HistoryPage(projectID string, limit, offset int) ([]*domain.PipelineStateHistory, error) {
	return m.repo.HistoryPage(projectID, limit, offset)
}

// Recover scans every non-terminal pipeline context at process startup.
// Grounded on ResetActiveStatuses: any context whose ActiveAgentID refers
// to a CLI session that no longer exists in the ephemeral store is stale
// from an interrupted process, and is cleared so the pipeline can be
// reconciled by a fresh handoff rather than waiting forever on a session
// that will never report completion.
func (m *Machine) Recover(isSessionAlive func(sessionID string) bool) ([]*domain.PipelineContext, error) {
	contexts, err := m.repo.ListNonTerminal()
	if err != nil {
		return nil, fmt.Errorf("listing non-terminal pipeline contexts: %w", err)
	}

	var recovered []*domain.PipelineContext
	for _, ctx := range contexts {
		if ctx.ActiveAgentID == "" || isSessionAlive(ctx.ActiveAgentID) {
			recovered = append(recovered, ctx)
			continue
		}
		m.logger.Warn("clearing stale active agent on recovery", "project_id", ctx.ProjectID, "agent_id", ctx.ActiveAgentID)
		ctx.ActiveAgentID = ""
		ctx.ActiveAgentType = ""
		ctx.UpdatedAt = time.Now()
		if err := m.repo.Transition(ctx, &domain.PipelineStateHistory{
			ProjectID:    ctx.ProjectID,
			FromState:    ctx.CurrentState,
			ToState:      ctx.CurrentState,
			TransitionAt: ctx.UpdatedAt,
			Trigger:      "recovery-stale-agent-cleared",
		}); err != nil {
			return nil, fmt.Errorf("clearing stale agent for project %s: %w", ctx.ProjectID, err)
		}
		recovered = append(recovered, ctx)
	}
	return recovered, nil
}
