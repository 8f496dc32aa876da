// Package executor holds the four Agent Executors (Dev, QA, Planner,
// DevOps) and the shared bounded-workflow template they compose (spec.md
// §4.6). The template itself — emit a started event, prepare, spawn under
// the Process Supervisor, await completion, extract artifacts, perform
// post-CLI actions, assemble a typed result and never propagate an error
// to the caller — mirrors the established `processConcern`
// (internal/engine/engine.go): a single linear function per unit of work
// that writes a status record at each step and converts every failure into
// a terminal status write rather than a panic or bubbled error.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devos-ai/orchestrator/internal/deploy"
	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/ephemeral"
	"github.com/devos-ai/orchestrator/internal/events"
	"github.com/devos-ai/orchestrator/internal/gitgw"
	"github.com/devos-ai/orchestrator/internal/handoff"
	"github.com/devos-ai/orchestrator/internal/store"
	"github.com/devos-ai/orchestrator/internal/supervisor"
)

// Clock abstracts time.Now for duration measurement, letting tests control
// elapsed time instead of sleeping.
type Clock func() time.Time

// Deps are the primitives every executor composes, gathered in one struct
// so Dispatch can route a Job to the right executor without each one
// re-declaring the same six constructor parameters.
type Deps struct {
	Supervisor    *supervisor.Supervisor
	Stories       *store.StoryRepository
	Output        *ephemeral.Store
	Bus           *events.Bus
	Logger        *slog.Logger
	WorkspaceRoot string
	GitToken      string
	Now           Clock
	Deploy        *deploy.Registry

	// DeployMonitorInterval and DeployHardTimeout bound the monitoring loop
	// in RunDevOps (spec.md §4.6.4: default poll 10s, hard timeout 10min).
	DeployMonitorInterval time.Duration
	DeployHardTimeout     time.Duration
	SmokeTestTimeout      time.Duration
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) outputStore() *ephemeral.Store { return d.Output }

// emitProgress publishes a step:started / step:completed / step:failed
// label on TopicAgentProgress, per the template's step 1 (spec.md §4.6).
func (d Deps) emitProgress(job *domain.Job, step string, percent int, status string) {
	d.Bus.Publish(events.TopicAgentProgress, map[string]any{
		"job_id":    job.ID,
		"step":      step,
		"percent":   percent,
		"status":    status,
		"agent_type": job.Payload["agentType"],
	})
}

// Dispatcher implements queue.Dispatcher, routing a Job to the executor
// matching its JobType and publishing the result to the Handoff
// Coordinator (spec.md §4.7: "called when an executor publishes a
// result").
type Dispatcher struct {
	deps    Deps
	handoff *handoff.Coordinator
}

// NewDispatcher builds a queue.Dispatcher for the four executors. coord
// may be nil for tests that only want to exercise a single executor in
// isolation without a durable handoff chain, or because the Handoff
// Coordinator itself needs a *queue.Queue built from this Dispatcher —
// in which case the composition root calls SetHandoff once both exist.
func NewDispatcher(deps Deps, coord *handoff.Coordinator) *Dispatcher {
	return &Dispatcher{deps: deps, handoff: coord}
}

// SetHandoff attaches the Handoff Coordinator after construction, for the
// queue.Queue -> executor.Dispatcher -> handoff.Coordinator -> queue.Queue
// construction cycle: the composition root builds the queue against this
// Dispatcher first, then the Coordinator against that queue, then calls
// SetHandoff to close the loop.
func (d *Dispatcher) SetHandoff(coord *handoff.Coordinator) {
	d.handoff = coord
}

// Dispatch runs the executor for job.JobType, flattens its typed result
// into a map for durable storage on the Job row, and publishes the
// completion to the Handoff Coordinator (spec.md §4.7).
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.Job) (map[string]any, error) {
	agentType, _ := job.Payload["agentType"].(string)

	var result map[string]any
	var success bool
	var errMsg string
	switch domain.AgentType(agentType) {
	case domain.AgentDev:
		r := RunDev(ctx, d.deps, job)
		result, success, errMsg = resultToMap(r), r.Success, r.Error
	case domain.AgentQA:
		r := RunQA(ctx, d.deps, job)
		result, success, errMsg = resultToMap(r), r.Success, r.Error
	case domain.AgentPlanner:
		r := RunPlanner(ctx, d.deps, job)
		result, success, errMsg = resultToMap(r), r.Success, r.Error
	case domain.AgentDevOps:
		r := RunDevOps(ctx, d.deps, job)
		result, success, errMsg = resultToMap(r), r.Success, r.Error
	default:
		return nil, fmt.Errorf("no executor registered for agent type %q", agentType)
	}

	if d.handoff != nil {
		storyID, _ := job.Payload["storyId"].(string)
		gitRepoURL, _ := job.Payload["gitRepoUrl"].(string)
		baseBranch, _ := job.Payload["baseBranch"].(string)
		if err := d.handoff.Handle(ctx, handoff.CompletionContext{
			ProjectID: job.ProjectID, WorkspaceID: job.WorkspaceID, StoryID: storyID,
			GitRepoURL: gitRepoURL, BaseBranch: baseBranch,
			FromAgentType: domain.AgentType(agentType), Result: result, Success: success, ErrorMessage: errMsg,
		}); err != nil {
			d.deps.Logger.Error("handoff failed", "job_id", job.ID, "error", err)
		}
	}

	return result, nil
}

func resultToMap(v any) map[string]any {
	switch r := v.(type) {
	case *domain.DevAgentResult:
		return map[string]any{
			"success": r.Success, "error": r.Error, "branch": r.Branch, "commitHash": r.CommitHash,
			"prUrl": r.PRUrl, "prNumber": r.PRNumber, "testResults": r.TestResults,
			"filesCreated": r.FilesCreated, "filesModified": r.FilesModified, "sessionId": r.SessionID, "durationMs": r.DurationMs,
		}
	case *domain.QAResult:
		return map[string]any{
			"success": r.Success, "error": r.Error, "verdict": r.Verdict, "report": r.Report,
			"additionalTestsWritten": r.AdditionalTestsWritten, "changeRequests": r.ChangeRequests,
			"sessionId": r.SessionID, "durationMs": r.DurationMs,
		}
	case *domain.PlannerResult:
		return map[string]any{
			"success": r.Success, "error": r.Error, "documentsGenerated": r.DocumentsGenerated,
			"storiesCreated": r.StoriesCreated, "commitHash": r.CommitHash, "sessionId": r.SessionID, "durationMs": r.DurationMs,
		}
	case *domain.DevOpsResult:
		return map[string]any{
			"success": r.Success, "error": r.Error, "mergeCommitHash": r.MergeCommitHash, "deploymentUrl": r.DeploymentURL,
			"deploymentId": r.DeploymentID, "platform": r.Platform, "smokeTestResults": r.SmokeTestResults,
			"rollbackPerformed": r.RollbackPerformed, "incidentReport": r.IncidentReport, "sessionId": r.SessionID, "durationMs": r.DurationMs,
		}
	default:
		return map[string]any{}
	}
}

// awaitSession blocks until a TopicSessionCompleted or TopicSessionFailed
// event for sessionID arrives, per the template's step 4 ("await completion
// or failure event"). It subscribes freshly per call rather than sharing a
// long-lived subscription, since an executor only ever awaits one session
// at a time.
func awaitSession(ctx context.Context, bus *events.Bus, sessionID string) (*domain.CompletionEvent, error) {
	completed := bus.Subscribe(events.TopicSessionCompleted)
	failed := bus.Subscribe(events.TopicSessionFailed)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case evt := <-completed:
			if ce, ok := evt.Payload.(*domain.CompletionEvent); ok && ce.SessionID == sessionID {
				return ce, nil
			}
		case evt := <-failed:
			if ce, ok := evt.Payload.(*domain.CompletionEvent); ok && ce.SessionID == sessionID {
				return ce, nil
			}
		}
	}
}

// NoCommitsProducedError is returned by the Dev Executor when the CLI
// session completes without producing at least one new commit (spec.md
// §4.6.1).
type NoCommitsProducedError struct{ Branch string }

func (e *NoCommitsProducedError) Error() string {
	return fmt.Sprintf("no commits produced on branch %s", e.Branch)
}

// buildContextPrompt renders the handoff context map into a plain-text
// prompt piped to the CLI's stdin, the same role as the prior
// assembleContext (internal/engine/engine.go).
func buildContextPrompt(task string, context map[string]any) string {
	prompt := task + "\n\n"
	for k, v := range context {
		prompt += fmt.Sprintf("%s: %v\n", k, v)
	}
	return prompt
}

// repoFor opens a Repo handle for an already-prepared workspace directory.
func repoFor(workspaceDir string) *gitgw.Repo {
	return gitgw.NewRepo(workspaceDir, nil)
}
