package domain

import "testing"

func TestIsLegalTransition(t *testing.T) {
	cases := []struct {
		name string
		from PipelineState
		to   PipelineState
		want bool
	}{
		{"idle to planning", StateIdle, StatePlanning, true},
		{"planning to ready-for-dev", StatePlanning, StateReadyForDev, true},
		{"planning to implementing is not a direct edge", StatePlanning, StateImplementing, false},
		{"ready-for-dev to implementing", StateReadyForDev, StateImplementing, true},
		{"implementing to in-qa", StateImplementing, StateInQA, true},
		{"in-qa to ready-for-deploy", StateInQA, StateReadyForDeploy, true},
		{"in-qa rework back to implementing", StateInQA, StateImplementing, true},
		{"ready-for-deploy to deploying", StateReadyForDeploy, StateDeploying, true},
		{"deploying to completed", StateDeploying, StateCompleted, true},
		{"any state to failed", StateImplementing, StateFailed, true},
		{"idle to failed", StateIdle, StateFailed, true},
		{"completed is terminal, no transitions out", StateCompleted, StatePlanning, false},
		{"completed cannot even go to failed", StateCompleted, StateFailed, false},
		{"failed is terminal", StateFailed, StateIdle, false},
		{"skipping states is illegal", StateIdle, StateInQA, false},
		{"backwards transition is illegal", StateInQA, StatePlanning, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsLegalTransition(c.from, c.to); got != c.want {
				t.Fatalf("IsLegalTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
			}
		})
	}
}

func TestPipelineContextIsTerminal(t *testing.T) {
	for _, st := range []PipelineState{StateCompleted, StateFailed} {
		p := &PipelineContext{CurrentState: st}
		if !p.IsTerminal() {
			t.Fatalf("expected %s to be terminal", st)
		}
	}
	for _, st := range []PipelineState{StateIdle, StatePlanning, StateInQA, StateDeploying} {
		p := &PipelineContext{CurrentState: st}
		if p.IsTerminal() {
			t.Fatalf("expected %s to not be terminal", st)
		}
	}
}

func TestPipelineContextIsBusy(t *testing.T) {
	p := &PipelineContext{}
	if p.IsBusy() {
		t.Fatal("expected empty ActiveAgentID to mean not busy")
	}
	p.ActiveAgentID = "agent-1"
	if !p.IsBusy() {
		t.Fatal("expected non-empty ActiveAgentID to mean busy")
	}
}

func TestJobIsTerminal(t *testing.T) {
	for _, st := range []JobStatus{JobCompleted, JobFailed} {
		j := &Job{Status: st}
		if !j.IsTerminal() {
			t.Fatalf("expected %s to be terminal", st)
		}
	}
	for _, st := range []JobStatus{JobPending, JobProcessing, JobRetrying} {
		j := &Job{Status: st}
		if j.IsTerminal() {
			t.Fatalf("expected %s to not be terminal", st)
		}
	}
}

func TestJobCanCancel(t *testing.T) {
	for _, st := range []JobStatus{JobPending, JobProcessing} {
		j := &Job{Status: st}
		if !j.CanCancel() {
			t.Fatalf("expected %s to be cancellable", st)
		}
	}
	for _, st := range []JobStatus{JobCompleted, JobFailed, JobRetrying} {
		j := &Job{Status: st}
		if j.CanCancel() {
			t.Fatalf("expected %s to not be cancellable", st)
		}
	}
}

func TestJobExhaustedRetries(t *testing.T) {
	j := &Job{Attempts: 2, MaxAttempts: 3}
	if j.ExhaustedRetries() {
		t.Fatal("expected 2/3 attempts to not be exhausted")
	}
	j.Attempts = 3
	if !j.ExhaustedRetries() {
		t.Fatal("expected 3/3 attempts to be exhausted")
	}
}

func TestCLISessionIsActive(t *testing.T) {
	for _, st := range []SessionStatus{SessionSpawning, SessionRunning, SessionStalled} {
		s := &CLISession{Status: st}
		if !s.IsActive() {
			t.Fatalf("expected %s to be active", st)
		}
	}
	for _, st := range []SessionStatus{SessionCompleted, SessionFailed, SessionTerminated} {
		s := &CLISession{Status: st}
		if s.IsActive() {
			t.Fatalf("expected %s to not be active", st)
		}
	}
}

func TestSmokeTestResultsPassed(t *testing.T) {
	cases := []struct {
		name   string
		health bool
		checks []bool
		want   bool
	}{
		{"health and all checks pass", true, []bool{true, true}, true},
		{"health passes but one check fails", true, []bool{true, false}, false},
		{"health fails", false, []bool{true, true}, false},
		{"health passes with no checks", true, nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := SmokeTestResults{HealthCheck: SmokeTestCheck{Passed: c.health}}
			for _, passed := range c.checks {
				r.APIChecks = append(r.APIChecks, SmokeTestCheck{Passed: passed})
			}
			if got := r.Passed(); got != c.want {
				t.Fatalf("Passed() = %v, want %v", got, c.want)
			}
		})
	}
}
