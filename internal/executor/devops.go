package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devos-ai/orchestrator/internal/deploy"
	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/gitgw"
	"github.com/devos-ai/orchestrator/internal/incident"
)

const (
	defaultDeployMonitorInterval = 10 * time.Second
	defaultDeployHardTimeout     = 10 * time.Minute
	defaultSmokeTestTimeout      = 5 * time.Minute
)

// RunDevOps implements the DevOps Executor (spec.md §4.6.4): merge the PR,
// detect a deployment platform, trigger and monitor a deployment, run smoke
// tests, and roll back with an IncidentReport on any deployment-side
// failure. Precondition: the preceding QA verdict must be PASS — the
// Handoff Coordinator never routes a DevOps job otherwise, but the guard is
// re-checked here too since a job can also reach the queue directly through
// POST /workspaces/{workspaceId}/agent-queue/jobs, bypassing the
// coordinator.
func RunDevOps(ctx context.Context, deps Deps, job *domain.Job) *domain.DevOpsResult {
	started := deps.now()
	result := &domain.DevOpsResult{}

	verdict := verdictFromPayload(job.Payload["verdict"])
	if verdict != domain.VerdictPass {
		return failDevOps(result, started, fmt.Errorf("Deployment skipped: QA verdict is %s", verdict))
	}

	storyID, _ := job.Payload["storyId"].(string)
	prNumberFloat, _ := job.Payload["prNumber"].(float64)
	prNumber := int(prNumberFloat)
	gitRepoURL, _ := job.Payload["gitRepoUrl"].(string)
	requestedPlatform, _ := job.Payload["platform"].(string)
	deploymentURLOverride, _ := job.Payload["deploymentUrlHint"].(string)
	task, _ := job.Payload["task"].(string)

	deps.emitProgress(job, "merging-pr", 10, "started")
	owner, repoName := splitOwnerRepo(gitRepoURL)
	gh := gitgw.NewGitHub(ctx, deps.GitToken, owner, repoName)
	mergeSHA, err := gh.MergePR(ctx, prNumber, gitgw.MergeSquash)
	if err != nil {
		return failDevOps(result, started, fmt.Errorf("merging PR #%d: %w", prNumber, err))
	}
	result.MergeCommitHash = mergeSHA
	deps.emitProgress(job, "merging-pr", 10, "completed")

	deps.emitProgress(job, "detecting-platform", 20, "started")
	if deps.Deploy == nil {
		return failDevOps(result, started, &deploy.NoDeploymentPlatformError{})
	}
	platform, err := deps.Deploy.Detect(ctx, job.ProjectID, requestedPlatform)
	if err != nil {
		return failDevOps(result, started, err)
	}
	result.Platform = platform.Name()
	deps.emitProgress(job, "detecting-platform", 20, "completed")

	deps.emitProgress(job, "running-migrations", 30, "started")
	// Migrations run as part of the platform's own build/deploy step for
	// both Railway and Vercel; nothing additional to invoke here.
	deps.emitProgress(job, "running-migrations", 30, "completed")

	deps.emitProgress(job, "triggering-deployment", 40, "started")
	deployment, err := platform.Trigger(ctx, job.ProjectID, "")
	if err != nil {
		return failDevOps(result, started, fmt.Errorf("triggering %s deployment: %w", platform.Name(), err))
	}
	result.DeploymentID = deployment.ID
	result.DeploymentURL = deployment.URL
	if result.DeploymentURL == "" {
		result.DeploymentURL = deploymentURLOverride
	}
	deps.emitProgress(job, "triggering-deployment", 40, "completed")

	deps.emitProgress(job, "monitoring-deployment", 60, "started")
	status, buildLogs, failureType := monitorDeployment(ctx, deps, platform, deployment.ID)
	deps.emitProgress(job, "monitoring-deployment", 60, "completed")

	if status != deploy.StatusSuccess {
		return rollbackAndReport(ctx, deps, job, platform, deployment.ID, storyID, failureType, buildLogs, result, started)
	}

	deps.emitProgress(job, "running-smoke-tests", 80, "started")
	smokeResults, err := runSmokeTests(ctx, deps, job, task, result.DeploymentURL)
	if err != nil {
		return failDevOps(result, started, fmt.Errorf("running smoke tests: %w", err))
	}
	result.SmokeTestResults = smokeResults
	deps.emitProgress(job, "running-smoke-tests", 80, "completed")

	if !smokeResults.Passed() {
		return rollbackAndReport(ctx, deps, job, platform, deployment.ID, storyID, domain.FailureSmokeTestsFailed, buildLogs, result, started)
	}

	deps.emitProgress(job, "updating-status", 100, "completed")
	result.Success = true
	result.DurationMs = deps.now().Sub(started).Milliseconds()
	return result
}

// monitorDeployment polls platform.Monitor at deps.DeployMonitorInterval
// until a terminal status or deps.DeployHardTimeout elapses, per spec.md
// §4.6.4 ("monitoring polls at a configurable interval... until terminal
// status or a hard timeout, classified as timeout").
func monitorDeployment(ctx context.Context, deps Deps, platform deploy.Adapter, deploymentID string) (deploy.Status, string, domain.IncidentFailureType) {
	interval := deps.DeployMonitorInterval
	if interval <= 0 {
		interval = defaultDeployMonitorInterval
	}
	hardTimeout := deps.DeployHardTimeout
	if hardTimeout <= 0 {
		hardTimeout = defaultDeployHardTimeout
	}

	deadline := deps.now().Add(hardTimeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, buildLogs, err := platform.Monitor(ctx, deploymentID)
		if err == nil {
			switch status {
			case deploy.StatusSuccess:
				return status, buildLogs, ""
			case deploy.StatusFailed:
				return status, buildLogs, domain.FailureDeploymentFailed
			}
		}
		if deps.now().After(deadline) {
			return deploy.StatusFailed, "", domain.FailureTimeout
		}
		select {
		case <-ctx.Done():
			return deploy.StatusFailed, "", domain.FailureTimeout
		case <-ticker.C:
		}
	}
}

// smokeTestPayload mirrors the fenced JSON block the CLI session emits,
// per spec.md §4.6.4: {healthCheck, apiChecks[]}.
type smokeTestPayload struct {
	HealthCheck domain.SmokeTestCheck   `json:"healthCheck"`
	APIChecks   []domain.SmokeTestCheck `json:"apiChecks"`
}

// runSmokeTests spawns a CLI session scoped to the deployed URL with a
// 5-minute ceiling and parses its fenced JSON result block.
func runSmokeTests(ctx context.Context, deps Deps, job *domain.Job, task, deploymentURL string) (domain.SmokeTestResults, error) {
	timeout := deps.SmokeTestTimeout
	if timeout <= 0 {
		timeout = defaultSmokeTestTimeout
	}
	smokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gitRepoURL, _ := job.Payload["gitRepoUrl"].(string)
	baseBranch, _ := job.Payload["baseBranch"].(string)
	if baseBranch == "" {
		baseBranch = "main"
	}
	prompt := buildContextPrompt(task, map[string]any{"deploymentUrl": deploymentURL})
	sessionID, err := deps.Supervisor.Spawn(smokeCtx, deps.WorkspaceRoot, domain.SpawnParams{
		WorkspaceID: job.WorkspaceID,
		ProjectID:   job.ProjectID,
		AgentID:     job.ID,
		AgentType:   domain.AgentDevOps,
		Task:        task,
		GitRepoURL:  gitRepoURL,
		BaseBranch:  baseBranch,
	}, deps.GitToken, prompt)
	if err != nil {
		return domain.SmokeTestResults{}, fmt.Errorf("spawning smoke-test session: %w", err)
	}

	completion, err := awaitSession(smokeCtx, deps.Bus, sessionID)
	if err != nil {
		return domain.SmokeTestResults{}, err
	}
	if !completion.Success {
		return domain.SmokeTestResults{}, fmt.Errorf("smoke-test CLI session failed: %s", completion.Error)
	}

	output := outputSnapshotText(deps, sessionID)
	block := ExtractJSONBlock(output)
	if block == "" {
		return domain.SmokeTestResults{}, fmt.Errorf("no smoke-test result block found in session output")
	}
	var payload smokeTestPayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return domain.SmokeTestResults{}, fmt.Errorf("parsing smoke-test result block: %w", err)
	}
	return domain.SmokeTestResults{HealthCheck: payload.HealthCheck, APIChecks: payload.APIChecks}, nil
}

// rollbackAndReport invokes the platform rollback adapter and always
// produces an IncidentReport, per spec.md §4.6.4.
func rollbackAndReport(ctx context.Context, deps Deps, job *domain.Job, platform deploy.Adapter, deploymentID, storyID string, failureType domain.IncidentFailureType, buildLogs string, result *domain.DevOpsResult, started time.Time) *domain.DevOpsResult {
	deps.emitProgress(job, "handling-rollback", 90, "started")
	rollbackErr := platform.Rollback(ctx, deploymentID)
	result.RollbackPerformed = true
	rollbackSuccessful := rollbackErr == nil
	deps.emitProgress(job, "handling-rollback", 90, "completed")

	deps.emitProgress(job, "creating-incident-report", 95, "started")
	rootCause := buildLogs
	if rootCause == "" {
		rootCause = string(failureType)
	}
	result.IncidentReport = incident.Build(storyID, failureType, rootCause, result.RollbackPerformed, rollbackSuccessful)
	deps.emitProgress(job, "creating-incident-report", 95, "completed")

	return failDevOps(result, started, fmt.Errorf("deployment %s: %s", failureType, rootCause))
}

func failDevOps(result *domain.DevOpsResult, started time.Time, err error) *domain.DevOpsResult {
	result.Success = false
	result.Error = err.Error()
	result.DurationMs = time.Since(started).Milliseconds()
	return result
}

// verdictFromPayload reads the "verdict" field a job was enqueued with.
// The Handoff Coordinator puts a domain.Verdict value directly into the
// in-process payload map (internal/handoff/handoff.go's routeFromQA), while
// a payload round-tripped through the durable store arrives as a plain
// JSON string; both shapes are accepted.
func verdictFromPayload(v any) domain.Verdict {
	switch t := v.(type) {
	case domain.Verdict:
		return t
	case string:
		return domain.Verdict(t)
	default:
		return ""
	}
}
