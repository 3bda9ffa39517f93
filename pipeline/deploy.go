package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skuld/model"
	"skuld/remote"
	"skuld/saga"
)

// deployStage ensures the target is running the candidate version. It is
// written as "ensure version V", not an unconditional install: when the
// target already reports V the remote sequence is skipped entirely.
func (o *Orchestrator) deployStage(ctx context.Context, run *model.PipelineRun, target *model.DeploymentTarget, cred *remote.Credential, sg *saga.Saga) error {
	var deployErr error
	o.runStage(ctx, run, sg, model.StageDeploy, func(ctx context.Context) (string, error) {
		out, err := o.ensureVersion(ctx, run, target, cred, sg)
		deployErr = err
		return out, err
	})
	if errors.Is(deployErr, ErrSkipped) {
		return nil
	}
	return deployErr
}

func (o *Orchestrator) ensureVersion(ctx context.Context, run *model.PipelineRun, target *model.DeploymentTarget, cred *remote.Credential, sg *saga.Saga) (string, error) {
	timeout := o.DeployTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	version := run.ArtifactVersion

	// Idempotence probe: what does the target say it is running?
	results, err := o.Exec.Execute(ctx, target.Addr(), cred, []remote.Command{
		remote.QueryVersion(target.InstallPath),
	})
	if err != nil {
		return partialOutput(results), err
	}
	installed := trimOutput(results[0].Output)
	if installed == version {
		if st, err := o.Verifier.Check(ctx, target.HealthURL); err == nil && st.Version == version {
			return fmt.Sprintf("target already running %s", version), ErrSkipped
		}
	}

	art, err := o.Artifacts.Fetch(ctx, version)
	if err != nil {
		return "", fmt.Errorf("fetch artifact %s: %w", version, err)
	}
	defer art.Close()

	staging := target.InstallPath + ".next"
	cmds := []remote.Command{
		remote.TransferArtifact(art, staging),
		remote.StopService(target.ServiceName),
		remote.InstallArtifact(staging, target.InstallPath, version),
		remote.StartService(target.ServiceName),
	}

	results, err = o.Exec.Execute(ctx, target.Addr(), cred, cmds)
	out := partialOutput(results)
	if err != nil {
		// Which command failed, and its output, is in the error and the
		// partial results; nothing is hidden.
		return out, err
	}

	sg.Log(ctx, "deploy.installed", fmt.Sprintf("%s installed on %s, service restarted", version, target.Name), map[string]string{
		"version": version,
	})
	return out, nil
}

// checkConsistency probes the target after a deploy that failed before
// any command ran. A target still healthy on its prior version is a
// plain failure; anything else is flagged for an operator.
func (o *Orchestrator) checkConsistency(ctx context.Context, run *model.PipelineRun, target *model.DeploymentTarget, sg *saga.Saga) {
	ctx = context.WithoutCancel(ctx)
	st, err := o.Verifier.Check(ctx, target.HealthURL)
	if err != nil || st.Status != "ok" || (run.PriorVersion != "" && st.Version != run.PriorVersion) {
		run.Inconsistent = true
		sg.Log(ctx, "target.inconsistent", fmt.Sprintf("could not confirm %s still healthy on %q", target.Name, run.PriorVersion), nil)
		return
	}
	sg.Log(ctx, "target.consistent", fmt.Sprintf("%s unchanged, still healthy on %q", target.Name, run.PriorVersion), nil)
}

func partialOutput(results []remote.Result) string {
	out := ""
	for _, r := range results {
		if r.Output != "" {
			out += fmt.Sprintf("[%s] %s\n", r.Op, trimOutput(r.Output))
		}
	}
	return out
}

func trimOutput(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
