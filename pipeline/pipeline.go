package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"skuld/artifact"
	"skuld/health"
	"skuld/hub"
	"skuld/model"
	"skuld/remote"
	"skuld/saga"
	"skuld/vault"
)

// ErrSkipped is returned by a stage that had nothing to do. The stage is
// recorded as skipped and the pipeline continues.
var ErrSkipped = errors.New("stage skipped")

// runStore is the slice of the persistence layer the orchestrator needs.
type runStore interface {
	InsertRun(ctx context.Context, r *model.PipelineRun) error
	UpdateRun(ctx context.Context, r *model.PipelineRun) error
	GetTarget(ctx context.Context, name string) (*model.DeploymentTarget, error)
	CompareAndSetActiveVersion(ctx context.Context, name, expect, next string) error
}

// verifier is the post-deploy health check surface.
type verifier interface {
	Verify(ctx context.Context, healthURL, expectedVersion string, timeout time.Duration) health.Verdict
	Check(ctx context.Context, healthURL string) (*health.Status, error)
}

// Orchestrator drives the deploy pipeline: build, test, package, deploy,
// verify, with rollback on a failed verification.
type Orchestrator struct {
	DB        runStore
	Artifacts artifact.Store
	Vault     vault.Source
	Exec      remote.Executor
	Verifier  verifier
	Builder   Builder
	SagaStore saga.Store
	WS        *hub.Hub

	DeployTimeout time.Duration
	VerifyTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lockTarget serializes runs against the same target. Runs against
// distinct targets proceed concurrently.
func (o *Orchestrator) lockTarget(name string) func() {
	o.mu.Lock()
	if o.locks == nil {
		o.locks = make(map[string]*sync.Mutex)
	}
	l, ok := o.locks[name]
	if !ok {
		l = &sync.Mutex{}
		o.locks[name] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Execute runs the full pipeline for one revision against one target and
// returns the finished run. It blocks until the run reaches a terminal
// status; callers wanting fire-and-forget wrap it in a goroutine.
func (o *Orchestrator) Execute(ctx context.Context, targetName, revision string) (*model.PipelineRun, error) {
	target, err := o.DB.GetTarget(ctx, targetName)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", targetName, err)
	}

	run := &model.PipelineRun{
		ID:           uuid.New().String(),
		Target:       target.Name,
		Revision:     revision,
		PriorVersion: target.ActiveVersion,
		Status:       model.RunRunning,
		StartedAt:    time.Now(),
	}
	run.SagaID = run.ID

	sg := saga.New(o.SagaStore, run.ID, target.Name, "pipeline", "deploy")

	if err := o.DB.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	sg.Log(ctx, "deploy.start", fmt.Sprintf("deploying %s to %s", revision, target.Name), nil)

	o.execute(ctx, run, target, sg)

	if err := o.DB.UpdateRun(context.Background(), run); err != nil {
		log.Printf("pipeline: update run %s: %v", run.ID, err)
	}
	o.broadcast(hub.Event{Type: "run.status", Target: run.Target, Payload: run})
	return run, nil
}

// Redeploy installs an already-stored artifact version on a target,
// skipping the build stages. This is the manual rollback entry point.
func (o *Orchestrator) Redeploy(ctx context.Context, targetName, version string) (*model.PipelineRun, error) {
	target, err := o.DB.GetTarget(ctx, targetName)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", targetName, err)
	}

	art, err := o.Artifacts.Stat(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", version, err)
	}

	run := &model.PipelineRun{
		ID:              uuid.New().String(),
		Target:          target.Name,
		Revision:        art.Revision,
		ArtifactVersion: version,
		PriorVersion:    target.ActiveVersion,
		Status:          model.RunRunning,
		StartedAt:       time.Now(),
	}
	run.SagaID = run.ID

	sg := saga.New(o.SagaStore, run.ID, target.Name, "pipeline", "rollback")

	if err := o.DB.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	sg.Log(ctx, "redeploy.start", fmt.Sprintf("redeploying %s to %s", version, target.Name), nil)

	o.executeRemote(ctx, run, target, sg)

	if err := o.DB.UpdateRun(context.Background(), run); err != nil {
		log.Printf("pipeline: update run %s: %v", run.ID, err)
	}
	o.broadcast(hub.Event{Type: "run.status", Target: run.Target, Payload: run})
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *model.PipelineRun, target *model.DeploymentTarget, sg *saga.Saga) {
	var build *BuildResult
	var pkg *PackageResult

	// Local stages: a failure here halts the run with no remote side
	// effects, so no rollback is ever needed.
	local := []struct {
		name string
		fn   func(ctx context.Context) (string, error)
	}{
		{model.StageBuild, func(ctx context.Context) (string, error) {
			var err error
			build, err = o.Builder.Build(ctx, run.Revision)
			if err != nil {
				return "", err
			}
			return build.Output, nil
		}},
		{model.StageTest, func(ctx context.Context) (string, error) {
			return o.Builder.Test(ctx, build)
		}},
		{model.StagePackage, func(ctx context.Context) (string, error) {
			var err error
			pkg, err = o.Builder.Package(ctx, build)
			if err != nil {
				return "", err
			}
			if err := o.storeArtifact(ctx, run, pkg); err != nil {
				return pkg.Output, err
			}
			run.ArtifactVersion = pkg.Version
			return pkg.Output, nil
		}},
	}

	for _, s := range local {
		if !o.runStage(ctx, run, sg, s.name, s.fn) {
			o.finish(ctx, run, sg, model.RunFailed)
			return
		}
		if err := ctx.Err(); err != nil {
			o.cancelled(ctx, run, sg)
			return
		}
	}

	o.executeRemote(ctx, run, target, sg)
}

// executeRemote runs the deploy/verify/rollback phase against the target
// host. run.ArtifactVersion must already be set.
func (o *Orchestrator) executeRemote(ctx context.Context, run *model.PipelineRun, target *model.DeploymentTarget, sg *saga.Saga) {
	// The target lock is held from here through verify/rollback so two
	// runs never interleave on one host.
	unlock := o.lockTarget(target.Name)
	defer unlock()

	// Re-read the committed active version now that we hold the lock: a
	// concurrent run may have finished while we were building.
	fresh, err := o.DB.GetTarget(ctx, target.Name)
	if err == nil {
		target = fresh
		run.PriorVersion = target.ActiveVersion
	}

	if err := ctx.Err(); err != nil {
		o.cancelled(ctx, run, sg)
		return
	}

	bundle, cred, err := o.acquireCredential(ctx, target)
	if err != nil {
		run.AppendStage(model.StageResult{
			Stage: model.StageDeploy, Status: model.StageFailure,
			Error: err.Error(), StartedAt: time.Now(),
		})
		sg.StageFailed(ctx, model.StageDeploy, err)
		o.finish(ctx, run, sg, model.RunFailed)
		return
	}
	defer bundle.Clear()

	deployErr := o.deployStage(ctx, run, target, cred, sg)
	if deployErr != nil {
		var cmdErr *remote.CommandError
		if errors.As(deployErr, &cmdErr) {
			// The host was reached and a command failed partway; remote
			// state may be half-changed. Restore the prior version.
			o.rollback(ctx, run, target, cred, sg, "deploy command failed")
			return
		}
		// Could not even attempt (unreachable or auth rejected): remote
		// state is unchanged, but confirm by probing before declaring a
		// plain failure.
		o.checkConsistency(ctx, run, target, sg)
		o.finish(ctx, run, sg, model.RunFailed)
		return
	}

	// Remote commands all succeeded: commit the pointer before verify so
	// the rollback path has a committed value to restore from.
	if err := o.commitActiveVersion(ctx, run, target, run.PriorVersion, run.ArtifactVersion, sg); err != nil {
		o.finish(ctx, run, sg, model.RunFailed)
		return
	}

	verdict := o.verifyStage(ctx, run, target, sg)
	if verdict == health.Healthy {
		o.finish(ctx, run, sg, model.RunSucceeded)
		return
	}

	// Unhealthy or inconclusive: favor safety over availability.
	o.rollback(ctx, run, target, cred, sg, fmt.Sprintf("verification %s", verdict))
}

// runStage executes one stage, records its result, and reports whether
// the pipeline may continue.
func (o *Orchestrator) runStage(ctx context.Context, run *model.PipelineRun, sg *saga.Saga, name string, fn func(ctx context.Context) (string, error)) bool {
	sg.StageStart(ctx, name)
	o.broadcast(hub.Event{Type: "run.stage", Target: run.Target, Payload: map[string]string{
		"runId": run.ID, "stage": name, "status": "running",
	}})

	start := time.Now()
	output, err := fn(ctx)
	elapsed := time.Since(start).Milliseconds()

	res := model.StageResult{
		Stage:      name,
		Status:     model.StageSuccess,
		Output:     output,
		StartedAt:  start,
		DurationMs: elapsed,
	}

	switch {
	case errors.Is(err, ErrSkipped):
		res.Status = model.StageSkipped
		err = nil
	case err != nil:
		res.Status = model.StageFailure
		res.Error = err.Error()
	}
	run.AppendStage(res)
	if uerr := o.DB.UpdateRun(ctx, run); uerr != nil {
		log.Printf("pipeline: update run %s: %v", run.ID, uerr)
	}

	if err != nil {
		sg.StageFailed(ctx, name, err)
		o.broadcast(hub.Event{Type: "run.stage", Target: run.Target, Payload: map[string]string{
			"runId": run.ID, "stage": name, "status": "failed",
		}})
		return false
	}

	sg.StageComplete(ctx, name, elapsed)
	o.broadcast(hub.Event{Type: "run.stage", Target: run.Target, Payload: map[string]string{
		"runId": run.ID, "stage": name, "status": "complete",
	}})
	return true
}

// storeArtifact uploads the packaged artifact. An already-stored version
// is fine: identical revisions build identical artifacts, so a re-run
// simply reuses the stored object.
func (o *Orchestrator) storeArtifact(ctx context.Context, run *model.PipelineRun, pkg *PackageResult) error {
	f, err := pkg.Open()
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	_, err = o.Artifacts.Put(ctx, pkg.Version, run.Revision, f, pkg.Size)
	if errors.Is(err, artifact.ErrVersionExists) {
		return nil
	}
	return err
}

func (o *Orchestrator) acquireCredential(ctx context.Context, target *model.DeploymentTarget) (*vault.Bundle, *remote.Credential, error) {
	ref := target.CredentialRef
	bundle, err := o.Vault.Fetch(ctx, []string{ref + "/user", ref + "/key"})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch secrets: %w", err)
	}

	user, _ := bundle.Get(ref + "/user")
	key, _ := bundle.Get(ref + "/key")
	cred, err := remote.NewCredential(ref, string(user), key)
	if err != nil {
		bundle.Clear()
		return nil, nil, err
	}
	return bundle, cred, nil
}

func (o *Orchestrator) commitActiveVersion(ctx context.Context, run *model.PipelineRun, target *model.DeploymentTarget, expect, next string, sg *saga.Saga) error {
	err := o.DB.CompareAndSetActiveVersion(ctx, target.Name, expect, next)
	if err != nil {
		sg.Log(ctx, "pointer.conflict", fmt.Sprintf("active version commit failed: %v", err), nil)
		return err
	}
	sg.Log(ctx, "pointer.committed", fmt.Sprintf("%s active version: %q -> %q", target.Name, expect, next), map[string]string{
		"from": expect,
		"to":   next,
	})
	return nil
}

func (o *Orchestrator) cancelled(ctx context.Context, run *model.PipelineRun, sg *saga.Saga) {
	sg.Log(context.WithoutCancel(ctx), "deploy.cancelled", "run cancelled between stages", nil)
	o.finish(ctx, run, sg, model.RunFailed)
}

func (o *Orchestrator) finish(ctx context.Context, run *model.PipelineRun, sg *saga.Saga, status model.RunStatus) {
	// Persisting the terminal state must survive a cancelled run context.
	ctx = context.WithoutCancel(ctx)

	run.Status = status
	now := time.Now()
	run.FinishedAt = &now

	action := "deploy.complete"
	if status != model.RunSucceeded {
		action = "deploy.failed"
	}
	msg := fmt.Sprintf("run %s finished: %s", run.ID, status)
	if run.Escalated {
		msg += " (rollback exhausted, operator attention required)"
		log.Printf("pipeline: ESCALATION: %s target=%s", msg, run.Target)
	}
	if run.Inconsistent {
		msg += " (target state unconfirmed)"
	}
	sg.Log(ctx, action, msg, nil)
}

func (o *Orchestrator) broadcast(evt hub.Event) {
	if o.WS != nil {
		o.WS.Broadcast(evt)
	}
}
