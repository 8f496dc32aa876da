package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/gitgw"
)

// RunQA implements the QA Executor (spec.md §4.6.2): checkout the Dev
// branch, run tests/lint/security scans, validate acceptance criteria,
// derive a verdict, and submit a PR review — QA never merges the PR.
func RunQA(ctx context.Context, deps Deps, job *domain.Job) *domain.QAResult {
	started := deps.now()
	result := &domain.QAResult{}

	storyID, _ := job.Payload["storyId"].(string)
	branch, _ := job.Payload["branch"].(string)
	prNumberFloat, _ := job.Payload["prNumber"].(float64)
	prNumber := int(prNumberFloat)
	gitRepoURL, _ := job.Payload["gitRepoUrl"].(string)
	task, _ := job.Payload["task"].(string)

	story, err := deps.Stories.GetByID(storyID)
	if err != nil {
		return failQA(result, started, fmt.Errorf("reading story %s: %w", storyID, err))
	}

	diffSummary := renderQADiff(deps, job, branch)

	deps.emitProgress(job, "spawning-cli", 10, "started")
	prompt := buildContextPrompt(task, map[string]any{
		"storyId":            storyID,
		"branch":             branch,
		"acceptanceCriteria": strings.Join(story.AcceptanceCriteria, "; "),
		"diffSummary":        diffSummary,
	})
	sessionID, err := deps.Supervisor.Spawn(ctx, deps.WorkspaceRoot, domain.SpawnParams{
		WorkspaceID: job.WorkspaceID,
		ProjectID:   job.ProjectID,
		AgentID:     job.ID,
		AgentType:   domain.AgentQA,
		Task:        task,
		StoryID:     storyID,
		GitRepoURL:  gitRepoURL,
		BaseBranch:  branch,
	}, deps.GitToken, prompt)
	if err != nil {
		return failQA(result, started, fmt.Errorf("spawning qa session: %w", err))
	}
	result.SessionID = sessionID
	deps.emitProgress(job, "spawning-cli", 10, "completed")

	completion, err := awaitSession(ctx, deps.Bus, sessionID)
	if err != nil {
		return failQA(result, started, err)
	}
	if !completion.Success {
		return failQA(result, started, fmt.Errorf("qa CLI session failed: %s", completion.Error))
	}

	output := outputSnapshotText(deps, sessionID)
	testResults, _ := ParseTestResults(output)

	report := domain.QAReport{
		TestsPassed:          testResults.Failed == 0,
		CoveragePct:          testResults.CoveragePct,
		CoverageThresholdPct: 80,
	}
	if testResults.Failed > 0 {
		report.TestFailures = []string{fmt.Sprintf("%d test(s) failed", testResults.Failed)}
	}
	for _, criterion := range story.AcceptanceCriteria {
		met := strings.Contains(strings.ToLower(output), strings.ToLower(criterion))
		report.AcceptanceChecks = append(report.AcceptanceChecks, domain.AcceptanceCriterionCheck{
			Criterion: criterion,
			Met:       met,
		})
	}
	report.SecurityFindings = parseSecurityFindings(output)

	result.Verdict = deriveVerdict(report)
	result.Report = report

	event := "COMMENT"
	switch result.Verdict {
	case domain.VerdictPass:
		event = "APPROVE"
	case domain.VerdictFail:
		event = "REQUEST_CHANGES"
	case domain.VerdictNeedsChanges:
		event = "REQUEST_CHANGES"
		result.ChangeRequests = report.TestFailures
	}

	owner, repoName := splitOwnerRepo(gitRepoURL)
	gh := gitgw.NewGitHub(ctx, deps.GitToken, owner, repoName)
	if prNumber > 0 {
		if err := gh.SubmitReview(ctx, prNumber, event, qaReviewBody(report, result.Verdict)); err != nil {
			deps.Logger.Warn("failed to submit PR review", "pr_number", prNumber, "error", err)
		}
	}

	result.Success = true
	result.DurationMs = deps.now().Sub(started).Milliseconds()
	return result
}

func deriveVerdict(report domain.QAReport) domain.Verdict {
	hasCriticalSecurity := false
	for _, f := range report.SecurityFindings {
		if f.Severity == "high" || f.Severity == "critical" {
			hasCriticalSecurity = true
		}
	}
	allCriteriaMet := true
	for _, c := range report.AcceptanceChecks {
		if !c.Met {
			allCriteriaMet = false
		}
	}

	if len(report.TestFailures) > 0 || hasCriticalSecurity || !allCriteriaMet {
		return domain.VerdictFail
	}
	if report.CoveragePct < report.CoverageThresholdPct {
		return domain.VerdictNeedsChanges
	}
	if !report.TestsPassed {
		return domain.VerdictFail
	}
	return domain.VerdictPass
}

func parseSecurityFindings(output string) []domain.SecurityFinding {
	var findings []domain.SecurityFinding
	lower := strings.ToLower(output)
	if strings.Contains(lower, "critical vulnerability") {
		findings = append(findings, domain.SecurityFinding{Severity: "critical", Description: "critical vulnerability reported by scan"})
	}
	if strings.Contains(lower, "secret detected") || strings.Contains(lower, "hardcoded credential") {
		findings = append(findings, domain.SecurityFinding{Severity: "high", Description: "secret or hardcoded credential detected"})
	}
	return findings
}

func qaReviewBody(report domain.QAReport, verdict domain.Verdict) string {
	return fmt.Sprintf("QA verdict: %s\nCoverage: %.1f%%\nTest failures: %d\n", verdict, report.CoveragePct, len(report.TestFailures))
}

func failQA(result *domain.QAResult, started time.Time, err error) *domain.QAResult {
	result.Success = false
	result.Error = err.Error()
	result.DurationMs = time.Since(started).Milliseconds()
	return result
}

// renderQADiff builds a best-effort line-level diff summary of the
// branch's changed files against its base (gitgw.Repo.RenderedDiff,
// backed by sergi/go-diff) for QA's context assembly. The workspace
// directory is the one the Dev Executor already cloned and committed to,
// so this reads local git state rather than hitting GitHub again. A
// failure here is non-fatal — QA still runs without a diff summary.
func renderQADiff(deps Deps, job *domain.Job, branch string) string {
	baseBranch, _ := job.Payload["baseBranch"].(string)
	if baseBranch == "" {
		baseBranch = "main"
	}
	repo := repoFor(workspaceDirFor(deps, job))

	changedFiles, err := repo.FilesChangedSince(baseBranch, branch)
	if err != nil || len(changedFiles) == 0 {
		return ""
	}
	diff, err := repo.RenderedDiff(baseBranch, branch, changedFiles)
	if err != nil {
		deps.Logger.Warn("failed to render QA diff summary", "branch", branch, "error", err)
		return ""
	}
	return diff
}
