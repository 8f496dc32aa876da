// Package incident builds the structured post-mortem the DevOps Executor
// emits on deployment-side failure (spec.md §4.6.4, §4.9), as a small,
// table-driven classifier paired with a plain struct, the same shape as
// internal/domain.IsLegalTransition.
package incident

import "github.com/devos-ai/orchestrator/internal/domain"

// Severity derives the IncidentReport severity from the failure type and
// rollback outcome, per spec.md §4.6.4: "critical if rollback performed but
// failed, else high for deployment_failed/timeout, else medium."
func Severity(failureType domain.IncidentFailureType, rollbackPerformed, rollbackSuccessful bool) domain.IncidentSeverity {
	if rollbackPerformed && !rollbackSuccessful {
		return domain.SeverityCritical
	}
	switch failureType {
	case domain.FailureDeploymentFailed, domain.FailureTimeout:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

// Build assembles the IncidentReport for a failed deployment.
func Build(storyID string, failureType domain.IncidentFailureType, rootCause string, rollbackPerformed, rollbackSuccessful bool) *domain.IncidentReport {
	severity := Severity(failureType, rollbackPerformed, rollbackSuccessful)
	report := &domain.IncidentReport{
		StoryID:            storyID,
		Severity:           severity,
		FailureType:        failureType,
		RootCause:          rootCause,
		RollbackPerformed:  rollbackPerformed,
		RollbackSuccessful: rollbackSuccessful,
	}
	report.Resolution, report.Recommendations = resolution(failureType, rollbackPerformed, rollbackSuccessful)
	return report
}

func resolution(failureType domain.IncidentFailureType, rollbackPerformed, rollbackSuccessful bool) (string, []string) {
	switch {
	case rollbackPerformed && rollbackSuccessful:
		return "Deployment rolled back to the prior successful revision.",
			[]string{"Review build/deploy logs before re-attempting.", "Re-run the pipeline once the root cause is fixed."}
	case rollbackPerformed && !rollbackSuccessful:
		return "Rollback attempted but did not complete; platform is left in an indeterminate state.",
			[]string{"Manually verify the platform's active revision.", "Escalate to an operator before retrying deployment."}
	case failureType == domain.FailureTimeout:
		return "Deployment did not reach a terminal state within the monitoring window.",
			[]string{"Check the platform dashboard for the deployment's actual outcome.", "Consider raising the monitoring timeout for this project."}
	default:
		return "Smoke tests failed against the deployed revision.",
			[]string{"Inspect the failing health/API checks.", "Re-run QA against the branch before redeploying."}
	}
}
