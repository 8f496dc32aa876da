package domain

import "time"

// PipelineState is one node of the declarative transition table in
// spec.md §4.5.
type PipelineState string

const (
	StateIdle           PipelineState = "idle"
	StatePlanning        PipelineState = "planning"
	StateReadyForDev     PipelineState = "ready-for-dev"
	StateImplementing    PipelineState = "implementing"
	StateInQA            PipelineState = "in-qa"
	StateReadyForDeploy  PipelineState = "ready-for-deploy"
	StateDeploying       PipelineState = "deploying"
	StateCompleted       PipelineState = "completed"
	StateFailed          PipelineState = "failed"
)

// AgentType enumerates the roles in the BMAD pipeline (Planner → Dev → QA →
// DevOps) plus the orchestrator's own internal identity used for
// system-triggered transitions.
type AgentType string

const (
	AgentPlanner      AgentType = "planner"
	AgentDev          AgentType = "dev"
	AgentQA           AgentType = "qa"
	AgentDevOps       AgentType = "devops"
	AgentOrchestrator AgentType = "orchestrator"
)

// PipelineContext is the single authoritative state row per project
// (spec.md §3 invariant: exactly one context row per projectId).
type PipelineContext struct {
	ProjectID      string
	WorkspaceID    string
	WorkflowID     string
	CurrentState   PipelineState
	PreviousState  PipelineState
	StateEnteredAt time.Time
	ActiveAgentID  string
	ActiveAgentType AgentType
	CurrentStoryID string
	RetryCount     int
	MaxRetries     int
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DefaultMaxRetries is the default QA rework budget (spec.md §4.5).
const DefaultMaxRetries = 3

// IsTerminal reports whether the pipeline has reached a final state.
func (p *PipelineContext) IsTerminal() bool {
	return p.CurrentState == StateCompleted || p.CurrentState == StateFailed
}

// IsBusy reports whether an agent is currently active for this project,
// enforcing the single-agent-per-story serialization rule (spec.md §5).
func (p *PipelineContext) IsBusy() bool {
	return p.ActiveAgentID != ""
}

// PipelineStateHistory is one immutable audit row (spec.md §3).
type PipelineStateHistory struct {
	ID           int64
	ProjectID    string
	FromState    PipelineState
	ToState      PipelineState
	TransitionAt time.Time
	Trigger      string
	Metadata     map[string]any
}

// transitionTable enumerates every legal (from, to) pair from spec.md §4.5.
// "any" transitions to failed are expanded per concrete from-state at
// lookup time rather than stored literally, so the table stays a closed set
// keyed on a concrete from-state.
var transitionTable = map[PipelineState]map[PipelineState]bool{
	StateIdle: {
		StatePlanning: true,
	},
	StatePlanning: {
		StateReadyForDev: true,
	},
	StateReadyForDev: {
		StateImplementing: true,
	},
	StateImplementing: {
		StateInQA: true,
	},
	StateInQA: {
		StateReadyForDeploy: true,
		StateImplementing:   true,
	},
	StateReadyForDeploy: {
		StateDeploying: true,
	},
	StateDeploying: {
		StateCompleted: true,
	},
}

// IsLegalTransition reports whether (from, to) appears in the declarative
// transition table of spec.md §4.5. Every state may transition to `failed`
// ("any → failed" on fatal error), except a state may not transition to
// itself via this rule, and terminal states never transition anywhere.
func IsLegalTransition(from, to PipelineState) bool {
	if from == StateCompleted || from == StateFailed {
		return false
	}
	if to == StateFailed {
		return true
	}
	if allowed, ok := transitionTable[from]; ok {
		return allowed[to]
	}
	return false
}
