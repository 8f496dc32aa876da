package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/gitgw"
)

// RunDev implements the Dev Executor (spec.md §4.6.1): create a feature
// branch, spawn the CLI to write code, require at least one new commit,
// extract test results, push with retry-once-on-rejection, and open (or
// reuse) a pull request.
func RunDev(ctx context.Context, deps Deps, job *domain.Job) *domain.DevAgentResult {
	started := deps.now()
	result := &domain.DevAgentResult{}

	storyID, _ := job.Payload["storyId"].(string)
	gitRepoURL, _ := job.Payload["gitRepoUrl"].(string)
	baseBranch, _ := job.Payload["baseBranch"].(string)
	task, _ := job.Payload["task"].(string)
	if baseBranch == "" {
		baseBranch = "main"
	}

	deps.emitProgress(job, "reading-story", 5, "started")
	story, err := deps.Stories.GetByID(storyID)
	if err != nil {
		return failDev(result, started, fmt.Errorf("reading story %s: %w", storyID, err))
	}
	deps.emitProgress(job, "reading-story", 5, "completed")

	deps.emitProgress(job, "creating-branch", 10, "started")
	branch, err := gitgw.DevBranchName(storyID)
	if err != nil {
		return failDev(result, started, err)
	}
	result.Branch = branch
	deps.emitProgress(job, "creating-branch", 10, "completed")

	deps.emitProgress(job, "spawning-cli", 15, "started")
	prompt := buildContextPrompt(task, map[string]any{
		"storyId":            story.ID,
		"title":              story.Title,
		"acceptanceCriteria": strings.Join(story.AcceptanceCriteria, "; "),
	})
	sessionID, err := deps.Supervisor.Spawn(ctx, deps.WorkspaceRoot, domain.SpawnParams{
		WorkspaceID: job.WorkspaceID,
		ProjectID:   job.ProjectID,
		AgentID:     job.ID,
		AgentType:   domain.AgentDev,
		Task:        task,
		StoryID:     storyID,
		GitRepoURL:  gitRepoURL,
		BaseBranch:  baseBranch,
	}, deps.GitToken, prompt)
	if err != nil {
		return failDev(result, started, fmt.Errorf("spawning dev session: %w", err))
	}
	result.SessionID = sessionID
	deps.emitProgress(job, "spawning-cli", 15, "completed")

	deps.emitProgress(job, "writing-code", 20, "started")
	completion, err := awaitSession(ctx, deps.Bus, sessionID)
	if err != nil {
		return failDev(result, started, err)
	}
	if !completion.Success {
		return failDev(result, started, fmt.Errorf("dev CLI session failed: %s", completion.Error))
	}
	deps.emitProgress(job, "writing-code", 60, "completed")

	workspaceDir := workspaceDirFor(deps, job)
	repo := repoFor(workspaceDir)

	deps.emitProgress(job, "running-tests", 65, "started")
	output := outputSnapshotText(deps, sessionID)
	testResults, matched := ParseTestResults(output)
	if !matched {
		testCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		cmd := exec.CommandContext(testCtx, "npm", "test", "--", "--ci", "--coverage")
		cmd.Dir = workspaceDir
		testOutput, _ := cmd.CombinedOutput()
		cancel()
		testResults, matched = ParseTestResults(string(testOutput))
		if !matched {
			testResults = domain.TestResults{}
		}
	}
	result.TestResults = testResults
	deps.emitProgress(job, "running-tests", 65, "completed")

	deps.emitProgress(job, "committing-code", 75, "started")
	head, err := repo.HeadCommit(branch)
	if err != nil {
		return failDev(result, started, fmt.Errorf("reading branch head: %w", err))
	}
	baseHead, err := repo.HeadCommit(baseBranch)
	if err == nil && head == baseHead {
		return failDev(result, started, &NoCommitsProducedError{Branch: branch})
	}
	result.CommitHash = head
	changedFiles, _ := repo.FilesChangedSince(baseBranch, branch)
	result.FilesModified = changedFiles
	deps.emitProgress(job, "committing-code", 75, "completed")

	deps.emitProgress(job, "pushing-branch", 85, "started")
	if err := repo.Push(gitRepoURL, deps.GitToken, branch); err != nil {
		return failDev(result, started, fmt.Errorf("pushing branch: %w", err))
	}
	deps.emitProgress(job, "pushing-branch", 85, "completed")

	deps.emitProgress(job, "creating-pr", 95, "started")
	owner, repoName := splitOwnerRepo(gitRepoURL)
	gh := gitgw.NewGitHub(ctx, deps.GitToken, owner, repoName)
	prTitle := fmt.Sprintf("[%s] %s", storyID, story.Title)
	prBody := fmt.Sprintf("Implements story %s.\n\nAcceptance criteria:\n- %s", storyID, strings.Join(story.AcceptanceCriteria, "\n- "))
	prURL, prNumber, err := gh.CreatePR(ctx, prTitle, branch, baseBranch, prBody)
	if err != nil {
		return failDev(result, started, fmt.Errorf("creating PR: %w", err))
	}
	result.PRUrl = prURL
	result.PRNumber = prNumber
	if err := gh.AddLabels(ctx, prNumber, []string{"devos", "automated"}); err != nil {
		deps.Logger.Warn("failed to apply PR labels", "pr_number", prNumber, "error", err)
	}
	deps.emitProgress(job, "creating-pr", 95, "completed")

	deps.emitProgress(job, "updating-status", 100, "completed")
	result.Success = true
	result.DurationMs = deps.now().Sub(started).Milliseconds()
	return result
}

func failDev(result *domain.DevAgentResult, started time.Time, err error) *domain.DevAgentResult {
	result.Success = false
	result.Error = err.Error()
	result.DurationMs = time.Since(started).Milliseconds()
	return result
}

func workspaceDirFor(deps Deps, job *domain.Job) string {
	return deps.WorkspaceRoot + "/" + job.WorkspaceID + "/" + job.ProjectID
}

func outputSnapshotText(deps Deps, sessionID string) string {
	store := deps.outputStore()
	if store == nil {
		return ""
	}
	snap, err := store.GetOutput(sessionID)
	if err != nil {
		return ""
	}
	return strings.Join(snap.Lines, "\n")
}

// splitOwnerRepo extracts "owner", "repo" from a GitHub HTTPS URL of the
// form https://github.com/<owner>/<repo>(.git).
func splitOwnerRepo(repoURL string) (owner, repo string) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	trimmed = strings.TrimPrefix(trimmed, "http://github.com/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
