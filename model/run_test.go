package model

import (
	"testing"
	"time"
)

func TestRunStatuses(t *testing.T) {
	statuses := []RunStatus{
		RunPending, RunRunning, RunSucceeded, RunFailed, RunRolledBack,
	}

	seen := map[RunStatus]bool{}
	for _, s := range statuses {
		if seen[s] {
			t.Errorf("duplicate status: %q", s)
		}
		seen[s] = true
		if string(s) == "" {
			t.Error("empty status string")
		}
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		status RunStatus
		want   bool
	}{
		{RunPending, false},
		{RunRunning, false},
		{RunSucceeded, true},
		{RunFailed, true},
		{RunRolledBack, true},
	}
	for _, c := range cases {
		r := PipelineRun{Status: c.status}
		if r.Terminal() != c.want {
			t.Errorf("Terminal() for %q = %v, want %v", c.status, !c.want, c.want)
		}
	}
}

func TestAppendStage(t *testing.T) {
	r := PipelineRun{
		ID:        "run-1",
		Target:    "prod-1",
		Revision:  "abc123",
		Status:    RunRunning,
		StartedAt: time.Now(),
	}

	r.AppendStage(StageResult{Stage: StageBuild, Status: StageSuccess, DurationMs: 1200})
	r.AppendStage(StageResult{Stage: StageTest, Status: StageFailure, Error: "2 tests failed"})

	if len(r.Stages) != 2 {
		t.Fatalf("got %d stages, want 2", len(r.Stages))
	}
	if r.Stages[0].Stage != StageBuild {
		t.Errorf("first stage = %q", r.Stages[0].Stage)
	}
	if r.Stages[1].Status != StageFailure {
		t.Errorf("second stage status = %q", r.Stages[1].Status)
	}
	if r.FinishedAt != nil {
		t.Error("FinishedAt should be nil while running")
	}
}
