package domain

import "time"

// HandoffStatus tracks a handoff through the Coordination Rules Engine.
type HandoffStatus string

const (
	HandoffPending   HandoffStatus = "pending"
	HandoffValidated HandoffStatus = "validated"
	HandoffRejected  HandoffStatus = "rejected"
	HandoffExecuted  HandoffStatus = "executed"
)

// HandoffHistory records one validated (or rejected) transition from one
// agent's result to the next agent's job (spec.md §3).
type HandoffHistory struct {
	ID               int64
	FromAgentType    AgentType
	ToAgentType      AgentType
	StoryID          string
	ProjectID        string
	Status           HandoffStatus
	ContextSnapshot  map[string]any
	CreatedAt        time.Time
	CompletedAt      *time.Time
	RejectionReason  string
}

// Story is the durable read model backing the Story-dependency rule and
// the Planner's sprint-status manifest (SPEC_FULL.md §4 supplement).
type Story struct {
	ID                 string
	EpicID             string
	Title              string
	AcceptanceCriteria []string
	DependsOn          []string
	State              string
}

// StoryIDPattern is the required shape for generated story ids: `<epic>-<n>`.
const StoryIDPattern = `^\d+-\d+$`
