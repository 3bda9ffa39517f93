package model

import "time"

type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
	StageSkipped StageStatus = "skipped"
)

// Pipeline stages, in execution order. Rollback is not a scheduled stage;
// it only appears in a run that entered the rollback path.
const (
	StageBuild    = "build"
	StageTest     = "test"
	StagePackage  = "package"
	StageDeploy   = "deploy"
	StageVerify   = "verify"
	StageRollback = "rollback"
)

type StageResult struct {
	Stage      string      `json:"stage"`
	Status     StageStatus `json:"status"`
	Output     string      `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"startedAt"`
	DurationMs int64       `json:"durationMs"`
}

type PipelineRun struct {
	ID              string        `json:"id"`
	Target          string        `json:"target"`
	Revision        string        `json:"revision"`
	ArtifactVersion string        `json:"artifactVersion,omitempty"`
	PriorVersion    string        `json:"priorVersion,omitempty"`
	SagaID          string        `json:"sagaId"`
	Status          RunStatus     `json:"status"`
	// Escalated marks a run whose rollback itself failed. Automatic
	// recovery stops there; an operator has to intervene.
	Escalated bool `json:"escalated,omitempty"`
	// Inconsistent marks a run where deploy failed and the target's
	// health could not be confirmed afterwards.
	Inconsistent bool          `json:"inconsistent,omitempty"`
	Stages       []StageResult `json:"stages"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
}

// Terminal reports whether the run has reached a final status. Terminal
// runs are immutable historical records.
func (r *PipelineRun) Terminal() bool {
	switch r.Status {
	case RunSucceeded, RunFailed, RunRolledBack:
		return true
	}
	return false
}

// AppendStage records a stage result. Stage results are append-only.
func (r *PipelineRun) AppendStage(res StageResult) {
	r.Stages = append(r.Stages, res)
}
