// Package handoff implements the Handoff Coordinator (spec.md §4.7): the
// Coordination Rules Engine that validates a completing executor's result,
// projects it into the next agent's input context, and enqueues the next
// Job — or rejects the handoff and fails the pipeline. Grounded on the
// established handoff step inside `processConcern`
// (internal/engine/engine.go), which likewise gates "does the result
// satisfy what the next stage needs" before mutating shared state,
// generalized here into an explicit, declarative rule set per spec.md
// §4.7.1.
package handoff

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/events"
	"github.com/devos-ai/orchestrator/internal/pipeline"
	"github.com/devos-ai/orchestrator/internal/queue"
	"github.com/devos-ai/orchestrator/internal/store"
)

// nullNow returns the current time as a valid sql.NullTime, the shape
// HandoffRepository.MarkCompleted expects for its completedAt column.
func nullNow() sql.NullTime {
	return sql.NullTime{Time: time.Now(), Valid: true}
}

// RejectedError is returned when the Coordination Rules Engine refuses a
// handoff; the pipeline is transitioned to failed with this as the reason.
type RejectedError struct{ Reason string }

func (e *RejectedError) Error() string { return e.Reason }

// Coordinator wires the Pipeline State Machine, Job Queue, Story and
// Handoff repositories together behind the rules in spec.md §4.7.1.
type Coordinator struct {
	pipeline *pipeline.Machine
	queue    *queue.Queue
	stories  *store.StoryRepository
	handoffs *store.HandoffRepository
	bus      *events.Bus
	logger   *slog.Logger

	// sem bounds the whole system's concurrent agent handoffs
	// (maxParallelAgents, spec.md §5) — a handoff in excess of the bound
	// blocks in Acquire until a slot frees or ctx is cancelled.
	sem *semaphore.Weighted
}

// New builds a Coordinator bounded by maxParallelAgents concurrent
// in-flight handoffs system-wide.
func New(p *pipeline.Machine, q *queue.Queue, stories *store.StoryRepository, handoffs *store.HandoffRepository, bus *events.Bus, logger *slog.Logger, maxParallelAgents int64) *Coordinator {
	return &Coordinator{
		pipeline: p, queue: q, stories: stories, handoffs: handoffs, bus: bus, logger: logger,
		sem: semaphore.NewWeighted(maxParallelAgents),
	}
}

// CompletionContext is what the executor publishes on result: the
// completing agent, the story it worked on, and its raw result map
// (already flattened by executor.resultToMap).
type CompletionContext struct {
	ProjectID     string
	WorkspaceID   string
	StoryID       string
	GitRepoURL    string
	BaseBranch    string
	FromAgentType domain.AgentType
	Result        map[string]any
	Success       bool
	ErrorMessage  string
}

// Handle runs the full handoff sequence for one completed agent result:
// validate, project context, acquire the parallelism slot, persist, and
// enqueue the next job (or, for a terminal route, close the pipeline out).
// A rejected or invalid handoff transitions the pipeline to failed and
// returns nil; an error is returned only when persisting the handoff,
// transitioning the pipeline, or enqueuing the next job fails.
func (c *Coordinator) Handle(ctx context.Context, cc CompletionContext) error {
	route, err := c.validate(cc)
	if err != nil {
		return c.reject(cc, err.(*RejectedError).Reason)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return c.reject(cc, fmt.Sprintf("could not acquire a parallelism slot: %v", err))
	}
	defer c.sem.Release(1)

	handoffID, err := c.handoffs.Insert(&domain.HandoffHistory{
		FromAgentType:   cc.FromAgentType,
		ToAgentType:     route.toAgent,
		StoryID:         cc.StoryID,
		ProjectID:       cc.ProjectID,
		Status:          domain.HandoffPending,
		ContextSnapshot: route.context,
	})
	if err != nil {
		return fmt.Errorf("persisting handoff: %w", err)
	}

	// viaState carries a handoff through an intermediate state the
	// transition table requires before toState is reachable (spec.md
	// §4.5's declarative table has no direct planning -> implementing
	// edge; ready-for-dev sits between them).
	if route.viaState != "" {
		if _, err := c.pipeline.Transition(cc.ProjectID, route.viaState, string(cc.FromAgentType), nil); err != nil {
			_ = c.handoffs.MarkCompleted(handoffID, domain.HandoffRejected, nullNow())
			return fmt.Errorf("transitioning pipeline via %s: %w", route.viaState, err)
		}
	}

	if _, err := c.pipeline.Transition(cc.ProjectID, route.toState, string(cc.FromAgentType), route.context); err != nil {
		_ = c.handoffs.MarkCompleted(handoffID, domain.HandoffRejected, nullNow())
		return fmt.Errorf("transitioning pipeline: %w", err)
	}

	if route.terminal {
		if err := c.handoffs.MarkCompleted(handoffID, domain.HandoffExecuted, nullNow()); err != nil {
			c.logger.Warn("failed to mark handoff executed", "handoff_id", handoffID, "error", err)
		}
		c.bus.Publish(events.TopicJobCompleted, map[string]any{
			"project_id": cc.ProjectID, "to_agent": route.toAgent, "terminal": true,
		})
		return nil
	}

	job, err := c.queue.Enqueue(cc.WorkspaceID, cc.ProjectID, domain.JobSpawnAgent, route.context, domain.DefaultPriority)
	if err != nil {
		return fmt.Errorf("enqueuing next job: %w", err)
	}

	if err := c.handoffs.MarkCompleted(handoffID, domain.HandoffExecuted, nullNow()); err != nil {
		c.logger.Warn("failed to mark handoff executed", "handoff_id", handoffID, "error", err)
	}

	c.bus.Publish(events.TopicJobCompleted, map[string]any{
		"project_id": cc.ProjectID, "next_job_id": job.ID, "to_agent": route.toAgent,
	})
	return nil
}

// route is the projected next step a validated handoff computes. viaState
// is set only when an intermediate transition is needed to keep every hop
// legal against domain.IsLegalTransition; terminal marks a route that
// closes the pipeline out rather than enqueuing a next job.
type route struct {
	toAgent  domain.AgentType
	toState  domain.PipelineState
	viaState domain.PipelineState
	terminal bool
	context  map[string]any
}

// validate applies the Coordination Rules Engine (spec.md §4.7.1): required
// fields present, verdict compatible, retry budget not exhausted, story
// dependency satisfied — then computes the next agent and its context.
func (c *Coordinator) validate(cc CompletionContext) (*route, error) {
	if !cc.Success {
		return nil, &RejectedError{Reason: fmt.Sprintf("%s result was not successful: %s", cc.FromAgentType, cc.ErrorMessage)}
	}

	pctx, err := c.pipeline.Get(cc.ProjectID)
	if err != nil {
		return nil, &RejectedError{Reason: fmt.Sprintf("no pipeline context for project %s: %v", cc.ProjectID, err)}
	}

	switch cc.FromAgentType {
	case domain.AgentPlanner:
		return c.routeFromPlanner(cc)
	case domain.AgentDev:
		return c.routeFromDev(cc)
	case domain.AgentQA:
		return c.routeFromQA(cc, pctx)
	case domain.AgentDevOps:
		return c.routeFromDevOps(cc)
	default:
		return nil, &RejectedError{Reason: fmt.Sprintf("unknown completing agent type %q", cc.FromAgentType)}
	}
}

// routeFromDevOps closes the pipeline out: DevOps is the last BMAD agent
// (spec.md §2), so a successful deployment marks the pipeline completed
// rather than enqueuing another job.
func (c *Coordinator) routeFromDevOps(cc CompletionContext) (*route, error) {
	return &route{
		toAgent:  domain.AgentDevOps,
		viaState: domain.StateDeploying,
		toState:  domain.StateCompleted,
		terminal: true,
		context:  map[string]any{"deploymentUrl": cc.Result["deploymentUrl"], "deploymentId": cc.Result["deploymentId"]},
	}, nil
}

// routeFromPlanner projects the first ready-for-dev story into Dev's input
// context (spec.md §4.7 step 2).
func (c *Coordinator) routeFromPlanner(cc CompletionContext) (*route, error) {
	storyIDs, _ := cc.Result["storiesCreated"].([]string)
	if len(storyIDs) == 0 {
		return nil, &RejectedError{Reason: "planner result missing storiesCreated"}
	}
	storyID := storyIDs[0]
	story, err := c.stories.GetByID(storyID)
	if err != nil {
		return nil, &RejectedError{Reason: fmt.Sprintf("story %s not found after planning: %v", storyID, err)}
	}
	satisfied, err := c.stories.DependenciesSatisfied(story)
	if err != nil {
		return nil, &RejectedError{Reason: fmt.Sprintf("checking story dependencies: %v", err)}
	}
	if !satisfied {
		return nil, &RejectedError{Reason: fmt.Sprintf("story %s has unmet dependencies", storyID)}
	}
	return &route{
		toAgent:  domain.AgentDev,
		viaState: domain.StateReadyForDev,
		toState:  domain.StateImplementing,
		context: map[string]any{
			"agentType":          string(domain.AgentDev),
			"storyId":            story.ID,
			"acceptanceCriteria": story.AcceptanceCriteria,
			"commitHash":         cc.Result["commitHash"],
		},
	}, nil
}

// routeFromDev projects branch/PR/test-result fields into QA's context
// (spec.md §4.7 step 2: "Dev→QA extracts branch, PR url/number, test
// results, file lists"). The file lists are filtered through
// filterScratchFiles first so agent scratch-space paths (.devos/,
// .claude/, .git/) never leak into QA's changed-file view.
func (c *Coordinator) routeFromDev(cc CompletionContext) (*route, error) {
	branch, _ := cc.Result["branch"].(string)
	if branch == "" {
		return nil, &RejectedError{Reason: "dev result missing branch"}
	}
	return &route{
		toAgent: domain.AgentQA,
		toState: domain.StateInQA,
		context: map[string]any{
			"agentType":     string(domain.AgentQA),
			"storyId":       cc.StoryID,
			"branch":        branch,
			"prUrl":         cc.Result["prUrl"],
			"prNumber":      cc.Result["prNumber"],
			"testResults":   cc.Result["testResults"],
			"filesCreated":  filterScratchFiles(asStringSlice(cc.Result["filesCreated"])),
			"filesModified": filterScratchFiles(asStringSlice(cc.Result["filesModified"])),
		},
	}, nil
}

// routeFromQA applies the verdict-specific routing and retry-budget rule
// (spec.md §4.5, §4.7): PASS -> DevOps, FAIL/NEEDS_CHANGES -> Dev rework
// unless the retry budget is exhausted.
func (c *Coordinator) routeFromQA(cc CompletionContext, pctx *domain.PipelineContext) (*route, error) {
	verdict, _ := cc.Result["verdict"].(domain.Verdict)
	switch verdict {
	case domain.VerdictPass:
		return &route{
			toAgent: domain.AgentDevOps,
			toState: domain.StateReadyForDeploy,
			context: map[string]any{
				"agentType": string(domain.AgentDevOps),
				"storyId":   cc.StoryID,
				"prNumber":  cc.Result["prNumber"],
				"verdict":   verdict,
				"report":    cc.Result["report"],
			},
		}, nil
	case domain.VerdictFail, domain.VerdictNeedsChanges:
		if pctx.RetryCount >= pctx.MaxRetries {
			return nil, &RejectedError{Reason: fmt.Sprintf("retry budget exhausted (%d/%d) for story %s", pctx.RetryCount, pctx.MaxRetries, cc.StoryID)}
		}
		return &route{
			toAgent: domain.AgentDev,
			toState: domain.StateImplementing,
			context: map[string]any{
				"agentType":      string(domain.AgentDev),
				"storyId":        cc.StoryID,
				"changeRequests": cc.Result["changeRequests"],
				"report":         cc.Result["report"],
				"iteration":      pctx.RetryCount + 1,
			},
		}, nil
	default:
		return nil, &RejectedError{Reason: fmt.Sprintf("qa result has unrecognized verdict %q", verdict)}
	}
}

// reject persists the rejection and fails the pipeline (spec.md §4.7 step 5).
func (c *Coordinator) reject(cc CompletionContext, reason string) error {
	if _, err := c.handoffs.Insert(&domain.HandoffHistory{
		FromAgentType:   cc.FromAgentType,
		StoryID:         cc.StoryID,
		ProjectID:       cc.ProjectID,
		Status:          domain.HandoffRejected,
		RejectionReason: reason,
	}); err != nil {
		c.logger.Warn("failed to persist handoff rejection", "project_id", cc.ProjectID, "error", err)
	}
	if _, err := c.pipeline.Transition(cc.ProjectID, domain.StateFailed, string(cc.FromAgentType), map[string]any{"reason": reason}); err != nil {
		c.logger.Warn("failed to transition pipeline to failed", "project_id", cc.ProjectID, "error", err)
	}
	c.bus.Publish(events.TopicIncidentRaised, map[string]any{"project_id": cc.ProjectID, "reason": reason})
	return nil
}
