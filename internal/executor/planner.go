package executor

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/gitgw"
)

// storyIDPattern matches the required story id shape (spec.md §4.6.3).
var storyIDPattern = regexp.MustCompile(domain.StoryIDPattern)

// RunPlanner implements the Planner Executor (spec.md §4.6.3): spawn the
// CLI to produce planning documents, validate generated story ids, update
// the sprint-status manifest (idempotent on existing story ids), then
// stage/commit/push the result.
func RunPlanner(ctx context.Context, deps Deps, job *domain.Job) *domain.PlannerResult {
	started := deps.now()
	result := &domain.PlannerResult{}

	epicID, _ := job.Payload["epicId"].(string)
	gitRepoURL, _ := job.Payload["gitRepoUrl"].(string)
	baseBranch, _ := job.Payload["baseBranch"].(string)
	task, _ := job.Payload["task"].(string)
	if baseBranch == "" {
		baseBranch = "main"
	}

	deps.emitProgress(job, "spawning-cli", 10, "started")
	prompt := buildContextPrompt(task, map[string]any{"epicId": epicID})
	sessionID, err := deps.Supervisor.Spawn(ctx, deps.WorkspaceRoot, domain.SpawnParams{
		WorkspaceID: job.WorkspaceID,
		ProjectID:   job.ProjectID,
		AgentID:     job.ID,
		AgentType:   domain.AgentPlanner,
		Task:        task,
		GitRepoURL:  gitRepoURL,
		BaseBranch:  baseBranch,
	}, deps.GitToken, prompt)
	if err != nil {
		return failPlanner(result, started, fmt.Errorf("spawning planner session: %w", err))
	}
	result.SessionID = sessionID
	deps.emitProgress(job, "spawning-cli", 10, "completed")

	completion, err := awaitSession(ctx, deps.Bus, sessionID)
	if err != nil {
		return failPlanner(result, started, err)
	}
	if !completion.Success {
		return failPlanner(result, started, fmt.Errorf("planner CLI session failed: %s", completion.Error))
	}

	output := outputSnapshotText(deps, sessionID)
	storyIDs := storyIDPattern.FindAllString(output, -1)
	if len(storyIDs) == 0 {
		return failPlanner(result, started, fmt.Errorf("planner produced no valid story ids matching %s", domain.StoryIDPattern))
	}

	deps.emitProgress(job, "updating-manifest", 60, "started")
	created, err := updateSprintManifest(deps, epicID, storyIDs)
	if err != nil {
		return failPlanner(result, started, fmt.Errorf("updating sprint manifest: %w", err))
	}
	result.StoriesCreated = created
	deps.emitProgress(job, "updating-manifest", 60, "completed")

	workspaceDir := workspaceDirFor(deps, job)
	repo := repoFor(workspaceDir)
	deps.emitProgress(job, "committing-plan", 85, "started")
	if changed, err := repo.HasChanges(); err == nil && changed {
		if err := repo.StageAll(); err != nil {
			return failPlanner(result, started, fmt.Errorf("staging planning documents: %w", err))
		}
		if err := repo.Commit(fmt.Sprintf("plan: %s sprint stories", epicID)); err != nil {
			return failPlanner(result, started, fmt.Errorf("committing planning documents: %w", err))
		}
	}
	head, _ := repo.HeadCommit(baseBranch)
	result.CommitHash = head
	if err := repo.Push(gitRepoURL, deps.GitToken, baseBranch); err != nil {
		return failPlanner(result, started, fmt.Errorf("pushing planning documents: %w", err))
	}
	deps.emitProgress(job, "committing-plan", 85, "completed")

	result.Success = true
	result.DurationMs = deps.now().Sub(started).Milliseconds()
	return result
}

// updateSprintManifest creates any story id not already known under epicID,
// marking the first new story ready-for-dev and the rest backlog
// (idempotent: existing story ids are skipped, per spec.md §4.6.3).
func updateSprintManifest(deps Deps, epicID string, storyIDs []string) ([]string, error) {
	var created []string
	for _, id := range storyIDs {
		if _, err := deps.Stories.GetByID(id); err == nil {
			continue // already exists — idempotent skip
		}
		state := "backlog"
		if len(created) == 0 {
			state = string(domain.StateReadyForDev)
		}
		story := &domain.Story{ID: id, EpicID: epicID, Title: id, State: state}
		if err := deps.Stories.Upsert(story); err != nil {
			return created, err
		}
		created = append(created, id)
	}
	return created, nil
}

func failPlanner(result *domain.PlannerResult, started time.Time, err error) *domain.PlannerResult {
	result.Success = false
	result.Error = err.Error()
	result.DurationMs = time.Since(started).Milliseconds()
	return result
}

var _ = gitgw.ValidateBranchName
