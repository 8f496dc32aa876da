package domain

// Verdict is QA's terminal classification of a story (spec.md §3, GLOSSARY).
type Verdict string

const (
	VerdictPass         Verdict = "PASS"
	VerdictFail         Verdict = "FAIL"
	VerdictNeedsChanges Verdict = "NEEDS_CHANGES"
)

// AgentResult is the common envelope every executor returns. Executors
// never propagate errors to callers (spec.md §4.6 step 8) — every failure
// becomes success=false with Error populated.
type AgentResult struct {
	Success    bool
	SessionID  string
	DurationMs int64
	Error      string
}

// TestResults is the parsed summary of a test run (spec.md §4.6.1).
type TestResults struct {
	Total      int
	Passed     int
	Failed     int
	CoveragePct float64
}

// DevAgentResult is the Dev Executor's AgentResult (spec.md §3).
type DevAgentResult struct {
	AgentResult
	Branch         string
	CommitHash     string
	PRUrl          string
	PRNumber       int
	TestResults    TestResults
	FilesCreated   []string
	FilesModified  []string
}

// AcceptanceCriterionCheck records whether one acceptance criterion was met.
type AcceptanceCriterionCheck struct {
	Criterion string
	Met       bool
	Detail    string
}

// QAReport is the structured artifact the QA Executor produces and submits
// as a PR review (spec.md §4.6.2).
type QAReport struct {
	TestsPassed         bool
	TestFailures        []string
	CoveragePct         float64
	CoverageThresholdPct float64
	LintIssues          []string
	SecurityFindings    []SecurityFinding
	AcceptanceChecks    []AcceptanceCriterionCheck
}

// SecurityFinding is one issue surfaced by the security/secret scan step.
type SecurityFinding struct {
	Severity    string // low, medium, high, critical
	Description string
}

// QAResult is the QA Executor's AgentResult (spec.md §3 + §4.6.2).
type QAResult struct {
	AgentResult
	Verdict                Verdict
	Report                 QAReport
	AdditionalTestsWritten []string
	ChangeRequests         []string
}

// PlannerResult is the Planner Executor's AgentResult (spec.md §3).
type PlannerResult struct {
	AgentResult
	DocumentsGenerated []string
	StoriesCreated     []string
	CommitHash         string
}

// SmokeTestCheck is one named check inside a smoke-test JSON block
// (spec.md §4.6.4).
type SmokeTestCheck struct {
	Name   string
	Passed bool
	Detail string
}

// SmokeTestResults is the parsed smoke-test JSON block.
type SmokeTestResults struct {
	HealthCheck SmokeTestCheck
	APIChecks   []SmokeTestCheck
}

// Passed reports the smoke-test pass rule: healthCheck passed AND all
// apiChecks passed (spec.md §4.6.4).
func (s SmokeTestResults) Passed() bool {
	if !s.HealthCheck.Passed {
		return false
	}
	for _, c := range s.APIChecks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// IncidentSeverity classifies a DevOps failure (spec.md §4.6.4).
type IncidentSeverity string

const (
	SeverityCritical IncidentSeverity = "critical"
	SeverityHigh     IncidentSeverity = "high"
	SeverityMedium   IncidentSeverity = "medium"
)

// IncidentFailureType enumerates why a deployment failed (spec.md §4.6.4).
type IncidentFailureType string

const (
	FailureDeploymentFailed IncidentFailureType = "deployment_failed"
	FailureSmokeTestsFailed IncidentFailureType = "smoke_tests_failed"
	FailureTimeout          IncidentFailureType = "timeout"
)

// IncidentReport is the structured post-mortem emitted on deployment-side
// failure (spec.md §3, §4.9).
type IncidentReport struct {
	StoryID           string
	Severity          IncidentSeverity
	FailureType       IncidentFailureType
	RootCause         string
	RollbackPerformed bool
	RollbackSuccessful bool
	Resolution        string
	Recommendations   []string
}

// DevOpsResult is the DevOps Executor's AgentResult (spec.md §3).
type DevOpsResult struct {
	AgentResult
	MergeCommitHash  string
	DeploymentURL    string
	DeploymentID     string
	Platform         string
	SmokeTestResults SmokeTestResults
	RollbackPerformed bool
	IncidentReport   *IncidentReport
}
