package pipeline

import (
	"context"
	"fmt"

	"skuld/health"
	"skuld/model"
	"skuld/remote"
	"skuld/saga"
)

// rollback restores the previously active artifact after a failed deploy
// or verification. It never rebuilds: the prior artifact comes straight
// from the artifact store. If the restored version also fails
// verification the run is escalated and automatic recovery stops there.
func (o *Orchestrator) rollback(ctx context.Context, run *model.PipelineRun, target *model.DeploymentTarget, cred *remote.Credential, sg *saga.Saga, reason string) {
	// The target may be half-deployed; restoring must not be cut short
	// by the run's cancellation.
	ctx = context.WithoutCancel(ctx)

	prior := run.PriorVersion
	sg.Log(ctx, "rollback.start", fmt.Sprintf("rolling back %s to %q (%s)", target.Name, prior, reason), map[string]string{
		"reason": reason,
	})

	if prior == "" {
		// First-ever deploy: there is nothing to restore.
		run.AppendStage(model.StageResult{
			Stage: model.StageRollback, Status: model.StageFailure,
			Error: "no previously active version to restore",
		})
		run.Escalated = true
		sg.Log(ctx, "rollback.exhausted", "no rollback candidate, operator attention required", nil)
		o.finish(ctx, run, sg, model.RunFailed)
		return
	}

	ok := o.runStage(ctx, run, sg, model.StageRollback, func(ctx context.Context) (string, error) {
		return o.restoreVersion(ctx, target, cred, prior)
	})
	if !ok {
		run.Escalated = true
		sg.Log(ctx, "rollback.exhausted", fmt.Sprintf("restore of %s failed, operator attention required", prior), nil)
		o.finish(ctx, run, sg, model.RunFailed)
		return
	}

	verdict := o.Verifier.Verify(ctx, target.HealthURL, prior, o.verifyTimeout())
	if verdict != health.Healthy {
		// The restored version failed verification too. Fatal, not
		// retried: looping between two bad versions helps nobody.
		run.Escalated = true
		sg.Log(ctx, "rollback.exhausted", fmt.Sprintf("restored %s but verification came back %s", prior, verdict), map[string]string{
			"verdict": string(verdict),
		})
		o.finish(ctx, run, sg, model.RunFailed)
		return
	}

	// Remote confirmed on the prior version: move the pointer back.
	expect := run.ArtifactVersion
	if t, err := o.DB.GetTarget(ctx, target.Name); err == nil {
		expect = t.ActiveVersion
	}
	if err := o.commitActiveVersion(ctx, run, target, expect, prior, sg); err != nil {
		run.Escalated = true
		o.finish(ctx, run, sg, model.RunFailed)
		return
	}

	sg.Log(ctx, "rollback.complete", fmt.Sprintf("%s restored to %s", target.Name, prior), nil)
	o.finish(ctx, run, sg, model.RunRolledBack)
}

// restoreVersion replays the deploy command sequence with the prior
// artifact.
func (o *Orchestrator) restoreVersion(ctx context.Context, target *model.DeploymentTarget, cred *remote.Credential, version string) (string, error) {
	art, err := o.Artifacts.Fetch(ctx, version)
	if err != nil {
		return "", fmt.Errorf("fetch prior artifact %s: %w", version, err)
	}
	defer art.Close()

	staging := target.InstallPath + ".prev"
	results, err := o.Exec.Execute(ctx, target.Addr(), cred, []remote.Command{
		remote.TransferArtifact(art, staging),
		remote.StopService(target.ServiceName),
		remote.InstallArtifact(staging, target.InstallPath, version),
		remote.StartService(target.ServiceName),
	})
	return partialOutput(results), err
}
