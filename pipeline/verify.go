package pipeline

import (
	"context"
	"fmt"
	"time"

	"skuld/health"
	"skuld/model"
	"skuld/saga"
)

// verifyStage polls the target until it is healthy on the candidate
// version or the window closes. Inconclusive never passes.
func (o *Orchestrator) verifyStage(ctx context.Context, run *model.PipelineRun, target *model.DeploymentTarget, sg *saga.Saga) health.Verdict {
	timeout := o.verifyTimeout()

	var verdict health.Verdict
	o.runStage(ctx, run, sg, model.StageVerify, func(ctx context.Context) (string, error) {
		verdict = o.Verifier.Verify(ctx, target.HealthURL, run.ArtifactVersion, timeout)
		out := fmt.Sprintf("health verdict for %s: %s", run.ArtifactVersion, verdict)
		if verdict != health.Healthy {
			return out, fmt.Errorf("target %s not healthy on %s: %s", target.Name, run.ArtifactVersion, verdict)
		}
		return out, nil
	})
	return verdict
}

func (o *Orchestrator) verifyTimeout() time.Duration {
	if o.VerifyTimeout == 0 {
		return 30 * time.Second
	}
	return o.VerifyTimeout
}
