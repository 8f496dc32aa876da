package domain

import "time"

// SessionStatus is the lifecycle state of one CLI session (spec.md §3).
type SessionStatus string

const (
	SessionSpawning  SessionStatus = "spawning"
	SessionRunning   SessionStatus = "running"
	SessionStalled   SessionStatus = "stalled"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionTerminated SessionStatus = "terminated"
)

// CLISession is the ephemeral record of one external agent CLI invocation.
// It lives in the short-TTL store for its lifetime (spec.md §3) and is
// exclusively owned by the Process Supervisor.
type CLISession struct {
	SessionID       string
	WorkspaceID     string
	ProjectID       string
	AgentID         string
	AgentType       AgentType
	Status          SessionStatus
	PID             int
	StartedAt       time.Time
	LastActivityAt  time.Time
	ExitCode        *int
	OutputLineCount int
}

// IsActive reports whether the session is still being supervised.
func (s *CLISession) IsActive() bool {
	return s.Status == SessionSpawning || s.Status == SessionRunning || s.Status == SessionStalled
}

// SpawnParams carries everything the Process Supervisor needs to launch a
// CLI child process inside a prepared workspace (spec.md §4.1).
type SpawnParams struct {
	WorkspaceID     string
	ProjectID       string
	AgentID         string
	AgentType       AgentType
	Task            string
	StoryID         string
	GitRepoURL      string
	BaseBranch      string
	PipelineContext map[string]any
	Env             map[string]string
}

// CompletionEvent is what the Process Supervisor emits when a session ends,
// either `session:completed` or `session:failed` (spec.md §4.1).
type CompletionEvent struct {
	SessionID       string
	Success         bool
	ExitCode        int
	OutputLineCount int
	Error           string
	Reason          string
}
